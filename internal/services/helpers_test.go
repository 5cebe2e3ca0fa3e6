package loyalty

import (
	"context"
	"sync"
	"testing"
	"time"

	db "github.com/glkeru/washloyalty/internal/db"
	model "github.com/glkeru/washloyalty/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	serv     *LoyaltyService
	store    *db.MemoryDB
	clock    *testClock
	merchant *model.Merchant
	customer *model.Customer
}

var price = decimal.RequireFromString("15.00")

func newFixture(t *testing.T, policy model.Policy) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := &testClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	store := db.NewMemoryDB()
	serv := NewLoyaltyService(zap.NewNop(), store, nil, nil).WithClock(clock.Now)

	expires := clock.Now().AddDate(1, 0, 0)
	m, err := serv.RegisterMerchant(ctx, model.Merchant{
		Name:                  "Bubbles",
		Status:                model.SubscriptionActive,
		SubscriptionExpiresAt: &expires,
		Policy:                policy,
	})
	require.NoError(t, err)

	c, err := serv.RegisterCustomer(ctx, "Ann", "+15550001")
	require.NoError(t, err)

	_, err = serv.GetOrCreateProgress(ctx, m.ID, c.ID)
	require.NoError(t, err)

	return &fixture{serv, store, clock, m, c}
}

func (f *fixture) wash(t *testing.T) *model.WashResult {
	t.Helper()
	res, err := f.serv.RecordWash(context.Background(), f.merchant.ID, f.customer.Code, "basic", price)
	require.NoError(t, err)
	return res
}

// мойки в разные дни, чтобы не упираться в антифрод
func (f *fixture) washDays(t *testing.T, n int) *model.WashResult {
	t.Helper()
	var res *model.WashResult
	for i := 0; i < n; i++ {
		res = f.wash(t)
		f.clock.Add(24 * time.Hour)
	}
	return res
}

func (f *fixture) earnReward(t *testing.T) string {
	t.Helper()
	res := f.washDays(t, f.merchant.Policy.WashesRequired)
	require.True(t, res.RewardEarned)
	return res.RewardCode
}
