package loyalty

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	model "github.com/glkeru/washloyalty/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewardsPerThreshold(t *testing.T) {
	for _, n := range []int{1, 4, 5, 6, 10, 12, 15} {
		t.Run(fmt.Sprintf("washes=%d", n), func(t *testing.T) {
			f := newFixture(t, model.Policy{WashesRequired: 5})
			f.washDays(t, n)

			p, err := f.store.GetProgress(context.Background(), f.customer.ID, f.merchant.ID)
			require.NoError(t, err)
			require.Equal(t, n%5, p.WashesCompleted)
			require.Len(t, f.store.Rewards(f.customer.ID, f.merchant.ID), n/5)
			require.Len(t, f.store.WashEvents(f.customer.ID, f.merchant.ID), n)

			c, err := f.store.GetCustomer(context.Background(), f.customer.ID)
			require.NoError(t, err)
			require.Equal(t, int64(n), c.TotalWashes)
			require.Equal(t, int64(n/5), c.RewardsEarned)
			require.True(t, c.TotalSpent.Equal(price.Mul(decimal.NewFromInt(int64(n)))))
		})
	}
}

func TestFourWashesThenReward(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 5, AntiFraudSameDay: true})
	ctx := context.Background()

	res := f.washDays(t, 4)
	require.False(t, res.RewardEarned)
	require.Equal(t, 4, res.WashesCompleted)
	require.Equal(t, 1, res.Remaining)
	require.InDelta(t, 80.0, res.ProgressPercent, 0.001)

	summary, err := f.serv.ResolveCustomerCode(ctx, f.merchant.ID, f.customer.Code)
	require.NoError(t, err)
	require.InDelta(t, 80.0, summary.ProgressPercent, 0.001)
	require.Empty(t, summary.AvailableRewards)

	res = f.wash(t)
	require.True(t, res.RewardEarned)
	require.True(t, strings.HasPrefix(res.RewardCode, "RWD-"))
	require.Equal(t, 0, res.WashesCompleted)
	require.NotNil(t, res.RewardExpiresAt)
	require.Equal(t, f.clock.Now().AddDate(0, 0, model.DefaultRewardValidityDays), *res.RewardExpiresAt)

	p, err := f.serv.GetOrCreateProgress(ctx, f.merchant.ID, f.customer.ID)
	require.NoError(t, err)
	require.Equal(t, 0, p.WashesCompleted)
	require.True(t, p.RewardEarned)
	require.Empty(t, p.RewardCode)

	summary, err = f.serv.Progress(ctx, f.merchant.ID, f.customer.ID)
	require.NoError(t, err)
	require.Equal(t, []string{res.RewardCode}, summary.AvailableRewards)
}

func TestAntiFraudSameDay(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 5, AntiFraudSameDay: true})
	ctx := context.Background()

	f.wash(t)
	f.clock.Add(3 * time.Hour)
	_, err := f.serv.RecordWash(ctx, f.merchant.ID, f.customer.Code, "basic", price)
	require.ErrorIs(t, err, model.ErrAlreadyWashedToday)
	require.Len(t, f.store.WashEvents(f.customer.ID, f.merchant.ID), 1)

	f.clock.Add(24 * time.Hour)
	res := f.wash(t)
	require.Equal(t, 2, res.WashesCompleted)
}

func TestAntiFraudMerchantTimezone(t *testing.T) {
	ny := newFixture(t, model.Policy{WashesRequired: 5, AntiFraudSameDay: true, Timezone: "America/New_York"})
	utc := newFixture(t, model.Policy{WashesRequired: 5, AntiFraudSameDay: true})

	// 02:00 UTC = 22:00 в Нью-Йорке (предыдущий день), 05:00 UTC = 01:00
	for _, f := range []*fixture{ny, utc} {
		f.clock.Add(17 * time.Hour)
		f.wash(t)
		f.clock.Add(3 * time.Hour)
	}

	res := ny.wash(t)
	require.Equal(t, 2, res.WashesCompleted)

	_, err := utc.serv.RecordWash(context.Background(), utc.merchant.ID, utc.customer.Code, "basic", price)
	require.ErrorIs(t, err, model.ErrAlreadyWashedToday)
}

func TestAntiFraudDisabled(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 5})
	f.wash(t)
	res := f.wash(t)
	require.Equal(t, 2, res.WashesCompleted)
	require.Len(t, f.store.WashEvents(f.customer.ID, f.merchant.ID), 2)
}

func TestExpiredSubscription(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 5})
	ctx := context.Background()

	f.clock.Add(400 * 24 * time.Hour)
	_, err := f.serv.RecordWash(ctx, f.merchant.ID, f.customer.Code, "basic", price)
	require.ErrorIs(t, err, model.ErrTenantInactive)
	require.Empty(t, f.store.WashEvents(f.customer.ID, f.merchant.ID))

	m, err := f.store.GetMerchant(ctx, f.merchant.ID)
	require.NoError(t, err)
	require.Equal(t, model.SubscriptionExpired, m.Status)

	_, err = f.serv.RecordWash(ctx, f.merchant.ID, f.customer.Code, "basic", price)
	require.ErrorIs(t, err, model.ErrTenantInactive)
}

func TestPendingTenant(t *testing.T) {
	f := newFixture(t, model.Policy{})
	ctx := context.Background()
	m, err := f.serv.RegisterMerchant(ctx, model.Merchant{Name: "New"})
	require.NoError(t, err)
	require.Equal(t, model.SubscriptionPending, m.Status)
	_, err = f.serv.GetOrCreateProgress(ctx, m.ID, f.customer.ID)
	require.NoError(t, err)

	_, err = f.serv.RecordWash(ctx, m.ID, f.customer.Code, "basic", price)
	require.ErrorIs(t, err, model.ErrTenantInactive)
}

func TestProgramPauseAutoClears(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 5})
	ctx := context.Background()

	until := f.clock.Now().Add(time.Hour)
	require.NoError(t, f.serv.PauseProgram(ctx, f.merchant.ID, true, &until))

	_, err := f.serv.RecordWash(ctx, f.merchant.ID, f.customer.Code, "basic", price)
	require.ErrorIs(t, err, model.ErrProgramPaused)

	summary, err := f.serv.ResolveCustomerCode(ctx, f.merchant.ID, f.customer.Code)
	require.NoError(t, err)
	require.True(t, summary.Paused)

	f.clock.Add(2 * time.Hour)
	res := f.wash(t)
	require.Equal(t, 1, res.WashesCompleted)

	m, err := f.store.GetMerchant(ctx, f.merchant.ID)
	require.NoError(t, err)
	require.False(t, m.Paused)
	require.Nil(t, m.PausedUntil)
}

func TestIndefinitePause(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 5})
	ctx := context.Background()

	require.NoError(t, f.serv.PauseProgram(ctx, f.merchant.ID, true, nil))
	f.clock.Add(48 * time.Hour)
	_, err := f.serv.RecordWash(ctx, f.merchant.ID, f.customer.Code, "basic", price)
	require.ErrorIs(t, err, model.ErrProgramPaused)

	require.NoError(t, f.serv.PauseProgram(ctx, f.merchant.ID, false, nil))
	f.wash(t)
}

func TestCardPause(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 5})
	ctx := context.Background()

	until := f.clock.Now().Add(24 * time.Hour)
	require.NoError(t, f.serv.PauseCard(ctx, f.merchant.ID, f.customer.ID, true, &until))

	_, err := f.serv.RecordWash(ctx, f.merchant.ID, f.customer.Code, "basic", price)
	require.ErrorIs(t, err, model.ErrProgramPaused)
	require.Empty(t, f.store.WashEvents(f.customer.ID, f.merchant.ID))

	f.clock.Add(25 * time.Hour)
	res := f.wash(t)
	require.Equal(t, 1, res.WashesCompleted)
}

func TestCardCycleRestartsWhenExpired(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 5, CardValidityDays: 10})
	f.washDays(t, 3)

	f.clock.Add(30 * 24 * time.Hour)
	res := f.wash(t)
	require.Equal(t, 1, res.WashesCompleted)
	require.Equal(t, f.clock.Now().AddDate(0, 0, 10), res.ExpiresAt)
}

func TestRecordWashRejections(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 5})
	ctx := context.Background()

	stranger, err := f.serv.RegisterCustomer(ctx, "Bob", "")
	require.NoError(t, err)

	tests := []struct {
		name     string
		merchant uuid.UUID
		code     string
		service  string
		price    decimal.Decimal
		expected error
	}{
		{"invalid code", f.merchant.ID, "HELLO", "basic", price, model.ErrInvalidCode},
		{"reward code", f.merchant.ID, "RWD-ABCDEF123456", "basic", price, model.ErrInvalidCode},
		{"missing service", f.merchant.ID, f.customer.Code, " ", price, model.ErrMissingField},
		{"negative price", f.merchant.ID, f.customer.Code, "basic", decimal.NewFromInt(-1), model.ErrInvalidPrice},
		{"missing merchant", uuid.Nil, f.customer.Code, "basic", price, model.ErrMissingField},
		{"unknown merchant", uuid.New(), f.customer.Code, "basic", price, model.ErrMerchantNotFound},
		{"unknown customer", f.merchant.ID, "CUST-0000000000", "basic", price, model.ErrCustomerUnknown},
		{"not enrolled", f.merchant.ID, stranger.Code, "basic", price, model.ErrNotEnrolled},
	}
	for _, ts := range tests {
		t.Run(ts.name, func(t *testing.T) {
			_, err := f.serv.RecordWash(ctx, ts.merchant, ts.code, ts.service, ts.price)
			require.ErrorIs(t, err, ts.expected)
		})
	}
	require.Empty(t, f.store.WashEvents(f.customer.ID, f.merchant.ID))
}

func TestLowercaseCodeAccepted(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 5})
	res, err := f.serv.RecordWash(context.Background(), f.merchant.ID, "  "+strings.ToLower(f.customer.Code), "basic", price)
	require.NoError(t, err)
	require.Equal(t, 1, res.WashesCompleted)
}

func TestConcurrentWashes(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 5})
	ctx := context.Background()

	const n = 12
	wg := sync.WaitGroup{}
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.serv.RecordWash(ctx, f.merchant.ID, f.customer.Code, "basic", price)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	p, err := f.store.GetProgress(ctx, f.customer.ID, f.merchant.ID)
	require.NoError(t, err)
	assert.Equal(t, n%5, p.WashesCompleted)
	assert.Len(t, f.store.Rewards(f.customer.ID, f.merchant.ID), n/5)
}

func TestConcurrentSameDayWashes(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 5, AntiFraudSameDay: true})
	ctx := context.Background()

	const n = 8
	wg := sync.WaitGroup{}
	var mu sync.Mutex
	ok := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.serv.RecordWash(ctx, f.merchant.ID, f.customer.Code, "basic", price)
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, model.ErrAlreadyWashedToday)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, ok)
	require.Len(t, f.store.WashEvents(f.customer.ID, f.merchant.ID), 1)
}

func TestScanRouting(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 2})
	ctx := context.Background()
	code := f.earnReward(t)

	res, err := f.serv.Scan(ctx, f.merchant.ID, f.customer.Code)
	require.NoError(t, err)
	require.Equal(t, "customer", res.Kind)
	require.NotNil(t, res.Customer)

	res, err = f.serv.Scan(ctx, f.merchant.ID, code)
	require.NoError(t, err)
	require.Equal(t, "reward", res.Kind)
	require.True(t, res.Reward.Redeemable)

	_, err = f.serv.Scan(ctx, f.merchant.ID, "https://example.com")
	require.ErrorIs(t, err, model.ErrInvalidCode)
}

func TestReissueCustomerCode(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 5})
	ctx := context.Background()

	code, err := f.serv.ReissueCustomerCode(ctx, f.customer.ID)
	require.NoError(t, err)
	require.NotEqual(t, f.customer.Code, code)

	_, err = f.serv.ResolveCustomerCode(ctx, f.merchant.ID, f.customer.Code)
	require.ErrorIs(t, err, model.ErrCustomerUnknown)

	summary, err := f.serv.ResolveCustomerCode(ctx, f.merchant.ID, code)
	require.NoError(t, err)
	require.Equal(t, f.customer.ID, summary.CustomerID)

	_, err = f.serv.ReissueCustomerCode(ctx, uuid.New())
	require.ErrorIs(t, err, model.ErrCustomerUnknown)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t, model.Policy{})
	ctx := context.Background()

	_, err := f.serv.RegisterCustomer(ctx, " ", "")
	require.ErrorIs(t, err, model.ErrMissingField)
	_, err = f.serv.RegisterMerchant(ctx, model.Merchant{})
	require.ErrorIs(t, err, model.ErrMissingField)
	_, err = f.serv.RegisterMerchant(ctx, model.Merchant{Name: "X", Policy: model.Policy{Timezone: "Mars/Olympus"}})
	require.ErrorIs(t, err, model.ErrMissingField)

	require.Equal(t, model.DefaultWashesRequired, f.merchant.Policy.WashesRequired)
	require.Equal(t, model.DefaultCardValidityDays, f.merchant.Policy.CardValidityDays)
}
