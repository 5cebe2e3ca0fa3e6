package loyalty

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	model "github.com/glkeru/washloyalty/internal/models"
	"github.com/stretchr/testify/require"
)

func TestRedeemOnce(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 3})
	ctx := context.Background()
	code := f.earnReward(t)

	summary, err := f.serv.ValidateReward(ctx, f.merchant.ID, code)
	require.NoError(t, err)
	require.True(t, summary.Redeemable)
	require.Equal(t, f.customer.Name, summary.CustomerName)

	res, err := f.serv.RedeemReward(ctx, f.merchant.ID, code)
	require.NoError(t, err)
	require.Equal(t, model.RewardClaimed, res.Status)
	require.Equal(t, f.merchant.ID.String(), res.ClaimedBy)
	require.Equal(t, f.clock.Now(), res.ClaimedAt)

	_, err = f.serv.RedeemReward(ctx, f.merchant.ID, code)
	require.ErrorIs(t, err, model.ErrAlreadyClaimed)

	summary, err = f.serv.ValidateReward(ctx, f.merchant.ID, code)
	require.ErrorIs(t, err, model.ErrAlreadyClaimed)
	require.NotNil(t, summary)
	require.False(t, summary.Redeemable)
	require.Equal(t, model.RewardClaimed, summary.Status)

	c, err := f.store.GetCustomer(ctx, f.customer.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), c.RewardsClaimed)

	p, err := f.store.GetProgress(ctx, f.customer.ID, f.merchant.ID)
	require.NoError(t, err)
	require.True(t, p.RewardClaimed)
	require.NotNil(t, p.RewardClaimedAt)
}

func TestConcurrentRedeem(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 2})
	ctx := context.Background()
	code := f.earnReward(t)

	const n = 10
	wg := sync.WaitGroup{}
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.serv.RedeemReward(ctx, f.merchant.ID, code)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		require.ErrorIs(t, err, model.ErrAlreadyClaimed)
	}
	require.Equal(t, 1, success)
}

func TestRewardLazyExpiry(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 2, RewardValidityDays: 7})
	ctx := context.Background()
	code := f.earnReward(t)

	f.clock.Add(8 * 24 * time.Hour)
	summary, err := f.serv.ValidateReward(ctx, f.merchant.ID, code)
	require.ErrorIs(t, err, model.ErrRewardExpired)
	require.Equal(t, model.RewardExpired, summary.Status)
	require.Equal(t, model.ReasonRewardExpired, summary.Reason)

	r, err := f.store.GetRewardByCode(ctx, code)
	require.NoError(t, err)
	require.Equal(t, model.RewardExpired, r.Status)

	// обратно в available не возвращается даже при "старых" часах
	f.clock.Add(-30 * 24 * time.Hour)
	_, err = f.serv.ValidateReward(ctx, f.merchant.ID, code)
	require.ErrorIs(t, err, model.ErrRewardExpired)
	_, err = f.serv.RedeemReward(ctx, f.merchant.ID, code)
	require.ErrorIs(t, err, model.ErrRewardExpired)
}

func TestRedeemExpiredPersistsStatus(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 2, RewardValidityDays: 7})
	ctx := context.Background()
	code := f.earnReward(t)

	f.clock.Add(8 * 24 * time.Hour)
	_, err := f.serv.RedeemReward(ctx, f.merchant.ID, code)
	require.ErrorIs(t, err, model.ErrRewardExpired)

	r, err := f.store.GetRewardByCode(ctx, code)
	require.NoError(t, err)
	require.Equal(t, model.RewardExpired, r.Status)
	require.Nil(t, r.ClaimedAt)
}

func TestRewardOfAnotherMerchant(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 2})
	ctx := context.Background()
	code := f.earnReward(t)

	other, err := f.serv.RegisterMerchant(ctx, model.Merchant{Name: "Other", Status: model.SubscriptionActive})
	require.NoError(t, err)

	_, err = f.serv.ValidateReward(ctx, other.ID, code)
	require.ErrorIs(t, err, model.ErrRewardNotFound)
	_, err = f.serv.RedeemReward(ctx, other.ID, code)
	require.ErrorIs(t, err, model.ErrRewardNotFound)

	r, err := f.store.GetRewardByCode(ctx, code)
	require.NoError(t, err)
	require.Equal(t, model.RewardAvailable, r.Status)
}

func TestRewardCodeChecks(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 2})
	ctx := context.Background()

	_, err := f.serv.ValidateReward(ctx, f.merchant.ID, "RWD-000000000000")
	require.ErrorIs(t, err, model.ErrRewardNotFound)
	_, err = f.serv.RedeemReward(ctx, f.merchant.ID, "RWD-000000000000")
	require.ErrorIs(t, err, model.ErrRewardNotFound)
	_, err = f.serv.RedeemReward(ctx, f.merchant.ID, f.customer.Code)
	require.ErrorIs(t, err, model.ErrInvalidCode)

	code := f.earnReward(t)
	_, err = f.serv.RedeemReward(ctx, f.merchant.ID, strings.ToLower(code))
	require.NoError(t, err)
}

func TestExpireOverdueRewardsSweep(t *testing.T) {
	f := newFixture(t, model.Policy{WashesRequired: 2, RewardValidityDays: 5})
	ctx := context.Background()
	first := f.earnReward(t)
	f.clock.Add(10 * 24 * time.Hour)
	second := f.earnReward(t)

	n, err := f.serv.ExpireOverdueRewards(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = f.serv.ExpireOverdueRewards(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	r, err := f.store.GetRewardByCode(ctx, first)
	require.NoError(t, err)
	require.Equal(t, model.RewardExpired, r.Status)
	r, err = f.store.GetRewardByCode(ctx, second)
	require.NoError(t, err)
	require.Equal(t, model.RewardAvailable, r.Status)
}
