package loyalty

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	interf "github.com/glkeru/washloyalty/internal/interfaces"
	model "github.com/glkeru/washloyalty/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type progressKey struct {
	customer uuid.UUID
	merchant uuid.UUID
}

type memState struct {
	merchants     map[uuid.UUID]model.Merchant
	customers     map[uuid.UUID]model.Customer
	customerCodes map[string]uuid.UUID
	progress      map[progressKey]model.ProgressRecord
	washes        []model.WashEvent
	rewards       map[uuid.UUID]model.Reward
	rewardCodes   map[string]uuid.UUID
	notifications []model.Notification
}

func (s *memState) clone() *memState {
	return &memState{
		merchants:     maps.Clone(s.merchants),
		customers:     maps.Clone(s.customers),
		customerCodes: maps.Clone(s.customerCodes),
		progress:      maps.Clone(s.progress),
		washes:        slices.Clone(s.washes),
		rewards:       maps.Clone(s.rewards),
		rewardCodes:   maps.Clone(s.rewardCodes),
		notifications: slices.Clone(s.notifications),
	}
}

// MemoryDB - хранилище в памяти. Транзакции выполняются по одной
// на копии состояния, при ошибке копия отбрасывается
type MemoryDB struct {
	mu    sync.Mutex
	state *memState
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{state: &memState{
		merchants:     map[uuid.UUID]model.Merchant{},
		customers:     map[uuid.UUID]model.Customer{},
		customerCodes: map[string]uuid.UUID{},
		progress:      map[progressKey]model.ProgressRecord{},
		rewards:       map[uuid.UUID]model.Reward{},
		rewardCodes:   map[string]uuid.UUID{},
	}}
}

func (m *MemoryDB) InTx(ctx context.Context, fn func(ctx context.Context, tx interf.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := m.state.clone()
	if err := fn(ctx, &memTx{work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *MemoryDB) read(fn func(s *memState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

func (m *MemoryDB) GetMerchant(ctx context.Context, id uuid.UUID) (merchant *model.Merchant, err error) {
	err = m.read(func(s *memState) error {
		merchant, err = (&memTx{s}).GetMerchant(ctx, id)
		return err
	})
	return
}

func (m *MemoryDB) GetCustomerByCode(ctx context.Context, code string) (c *model.Customer, err error) {
	err = m.read(func(s *memState) error {
		c, err = (&memTx{s}).GetCustomerByCode(ctx, code)
		return err
	})
	return
}

func (m *MemoryDB) GetCustomer(ctx context.Context, id uuid.UUID) (c *model.Customer, err error) {
	err = m.read(func(s *memState) error {
		c, err = (&memTx{s}).GetCustomer(ctx, id)
		return err
	})
	return
}

func (m *MemoryDB) GetProgress(ctx context.Context, customerID, merchantID uuid.UUID) (p *model.ProgressRecord, err error) {
	err = m.read(func(s *memState) error {
		p, err = (&memTx{s}).LockProgress(ctx, customerID, merchantID)
		return err
	})
	return
}

func (m *MemoryDB) GetRewardByCode(ctx context.Context, code string) (r *model.Reward, err error) {
	err = m.read(func(s *memState) error {
		r, err = (&memTx{s}).LockReward(ctx, code)
		return err
	})
	return
}

func (m *MemoryDB) AvailableRewards(ctx context.Context, customerID, merchantID uuid.UUID, now time.Time) ([]model.Reward, error) {
	var rewards []model.Reward
	err := m.read(func(s *memState) error {
		for _, r := range s.rewards {
			if r.CustomerID == customerID && r.MerchantID == merchantID &&
				r.Status == model.RewardAvailable && now.Before(r.ExpiresAt) {
				rewards = append(rewards, r)
			}
		}
		return nil
	})
	slices.SortFunc(rewards, func(a, b model.Reward) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return rewards, err
}

func (m *MemoryDB) MerchantIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := m.read(func(s *memState) error {
		ids = slices.Collect(maps.Keys(s.merchants))
		return nil
	})
	return ids, err
}

func (m *MemoryDB) ExpireReward(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{m.state}).ExpireReward(ctx, id, now)
}

func (m *MemoryDB) ExpireOverdueRewards(ctx context.Context, merchantID uuid.UUID, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.state.rewards {
		if r.MerchantID == merchantID && r.Status == model.RewardAvailable && !now.Before(r.ExpiresAt) {
			r.Status = model.RewardExpired
			m.state.rewards[id] = r
			n++
		}
	}
	return n, nil
}

func (m *MemoryDB) PendingNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	var notes []model.Notification
	err := m.read(func(s *memState) error {
		for _, n := range s.notifications {
			if n.SentAt != nil {
				continue
			}
			if limit > 0 && len(notes) >= limit {
				break
			}
			notes = append(notes, n)
		}
		return nil
	})
	return notes, err
}

func (m *MemoryDB) MarkNotificationsSent(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.state.notifications {
		if slices.Contains(ids, n.ID) {
			sent := at
			m.state.notifications[i].SentAt = &sent
		}
	}
	return nil
}

func (m *MemoryDB) Ping(ctx context.Context) error { return nil }

func (m *MemoryDB) Close() {}

// WashEvents - журнал моек (для проверок и отчетов)
func (m *MemoryDB) WashEvents(customerID, merchantID uuid.UUID) []model.WashEvent {
	var res []model.WashEvent
	_ = m.read(func(s *memState) error {
		for _, w := range s.washes {
			if w.CustomerID == customerID && w.MerchantID == merchantID {
				res = append(res, w)
			}
		}
		return nil
	})
	return res
}

// Rewards - все награды клиента у мерчанта
func (m *MemoryDB) Rewards(customerID, merchantID uuid.UUID) []model.Reward {
	var res []model.Reward
	_ = m.read(func(s *memState) error {
		for _, r := range s.rewards {
			if r.CustomerID == customerID && r.MerchantID == merchantID {
				res = append(res, r)
			}
		}
		return nil
	})
	return res
}

// memTx работает с копией состояния
type memTx struct {
	s *memState
}

func (t *memTx) GetMerchant(ctx context.Context, id uuid.UUID) (*model.Merchant, error) {
	m, ok := t.s.merchants[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &m, nil
}

func (t *memTx) InsertMerchant(ctx context.Context, m *model.Merchant) error {
	if _, ok := t.s.merchants[m.ID]; ok {
		return model.ErrConflict
	}
	t.s.merchants[m.ID] = *m
	return nil
}

func (t *memTx) ExpireMerchant(ctx context.Context, id uuid.UUID) error {
	m, ok := t.s.merchants[id]
	if !ok {
		return model.ErrNotFound
	}
	if m.Status == model.SubscriptionActive {
		m.Status = model.SubscriptionExpired
		t.s.merchants[id] = m
	}
	return nil
}

func (t *memTx) SetMerchantPause(ctx context.Context, id uuid.UUID, paused bool, until *time.Time) error {
	m, ok := t.s.merchants[id]
	if !ok {
		return model.ErrNotFound
	}
	m.Paused = paused
	m.PausedUntil = until
	t.s.merchants[id] = m
	return nil
}

func (t *memTx) AddMerchantWash(ctx context.Context, id uuid.UUID, price decimal.Decimal) error {
	m, ok := t.s.merchants[id]
	if !ok {
		return model.ErrNotFound
	}
	m.TotalWashes++
	m.TotalRevenue = m.TotalRevenue.Add(price)
	t.s.merchants[id] = m
	return nil
}

func (t *memTx) InsertCustomer(ctx context.Context, c *model.Customer) error {
	if _, ok := t.s.customerCodes[c.Code]; ok {
		return model.ErrDuplicateCode
	}
	if _, ok := t.s.customers[c.ID]; ok {
		return model.ErrConflict
	}
	t.s.customers[c.ID] = *c
	t.s.customerCodes[c.Code] = c.ID
	return nil
}

func (t *memTx) GetCustomerByCode(ctx context.Context, code string) (*model.Customer, error) {
	id, ok := t.s.customerCodes[code]
	if !ok {
		return nil, model.ErrNotFound
	}
	return t.GetCustomer(ctx, id)
}

func (t *memTx) GetCustomer(ctx context.Context, id uuid.UUID) (*model.Customer, error) {
	c, ok := t.s.customers[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &c, nil
}

func (t *memTx) SetCustomerCode(ctx context.Context, id uuid.UUID, code string) error {
	if _, ok := t.s.customerCodes[code]; ok {
		return model.ErrDuplicateCode
	}
	c, ok := t.s.customers[id]
	if !ok {
		return model.ErrNotFound
	}
	delete(t.s.customerCodes, c.Code)
	c.Code = code
	t.s.customers[id] = c
	t.s.customerCodes[code] = id
	return nil
}

func (t *memTx) AddCustomerWash(ctx context.Context, id uuid.UUID, price decimal.Decimal, at time.Time) error {
	c, ok := t.s.customers[id]
	if !ok {
		return model.ErrNotFound
	}
	c.TotalWashes++
	c.TotalSpent = c.TotalSpent.Add(price)
	c.LastWashAt = &at
	t.s.customers[id] = c
	return nil
}

func (t *memTx) AddCustomerRewardEarned(ctx context.Context, id uuid.UUID) error {
	c, ok := t.s.customers[id]
	if !ok {
		return model.ErrNotFound
	}
	c.RewardsEarned++
	t.s.customers[id] = c
	return nil
}

func (t *memTx) AddCustomerRewardClaimed(ctx context.Context, id uuid.UUID) error {
	c, ok := t.s.customers[id]
	if !ok {
		return model.ErrNotFound
	}
	c.RewardsClaimed++
	t.s.customers[id] = c
	return nil
}

func (t *memTx) LockProgress(ctx context.Context, customerID, merchantID uuid.UUID) (*model.ProgressRecord, error) {
	p, ok := t.s.progress[progressKey{customerID, merchantID}]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) InsertProgress(ctx context.Context, p *model.ProgressRecord) error {
	key := progressKey{p.CustomerID, p.MerchantID}
	if _, ok := t.s.progress[key]; ok {
		return model.ErrConflict
	}
	t.s.progress[key] = *p
	return nil
}

func (t *memTx) UpdateProgress(ctx context.Context, p *model.ProgressRecord) error {
	key := progressKey{p.CustomerID, p.MerchantID}
	if _, ok := t.s.progress[key]; !ok {
		return model.ErrNotFound
	}
	t.s.progress[key] = *p
	return nil
}

func (t *memTx) MarkProgressRewardClaimed(ctx context.Context, id uuid.UUID, at time.Time) error {
	for key, p := range t.s.progress {
		if p.ID == id {
			p.RewardClaimed = true
			p.RewardClaimedAt = &at
			t.s.progress[key] = p
			return nil
		}
	}
	return model.ErrNotFound
}

func (t *memTx) WashExistsBetween(ctx context.Context, customerID, merchantID uuid.UUID, from, to time.Time) (bool, error) {
	for _, w := range t.s.washes {
		if w.CustomerID == customerID && w.MerchantID == merchantID &&
			!w.CreatedAt.Before(from) && w.CreatedAt.Before(to) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertWash(ctx context.Context, w *model.WashEvent) error {
	t.s.washes = append(t.s.washes, *w)
	return nil
}

func (t *memTx) InsertReward(ctx context.Context, r *model.Reward) error {
	if _, ok := t.s.rewardCodes[r.Code]; ok {
		return model.ErrDuplicateCode
	}
	t.s.rewards[r.ID] = *r
	t.s.rewardCodes[r.Code] = r.ID
	return nil
}

func (t *memTx) LockReward(ctx context.Context, code string) (*model.Reward, error) {
	id, ok := t.s.rewardCodes[code]
	if !ok {
		return nil, model.ErrNotFound
	}
	r := t.s.rewards[id]
	return &r, nil
}

func (t *memTx) ClaimReward(ctx context.Context, id uuid.UUID, claimedBy string, at time.Time) (bool, error) {
	r, ok := t.s.rewards[id]
	if !ok {
		return false, model.ErrNotFound
	}
	if r.Status != model.RewardAvailable || !at.Before(r.ExpiresAt) {
		return false, nil
	}
	r.Status = model.RewardClaimed
	r.ClaimedAt = &at
	r.ClaimedBy = claimedBy
	t.s.rewards[id] = r
	return true, nil
}

func (t *memTx) ExpireReward(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	r, ok := t.s.rewards[id]
	if !ok {
		return false, model.ErrNotFound
	}
	if r.Status != model.RewardAvailable || now.Before(r.ExpiresAt) {
		return false, nil
	}
	r.Status = model.RewardExpired
	t.s.rewards[id] = r
	return true, nil
}

func (t *memTx) EnqueueNotification(ctx context.Context, n *model.Notification) error {
	t.s.notifications = append(t.s.notifications, *n)
	return nil
}
