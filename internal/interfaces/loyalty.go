package loyalty

import (
	"context"
	"time"

	model "github.com/glkeru/washloyalty/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=./../services/mock_loyalty_test.go -package=loyalty . CacheStorage,EventPublisher

// Storage - хранилище движка. Все изменения идут через InTx
type Storage interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// чтение без блокировок
	GetMerchant(ctx context.Context, id uuid.UUID) (*model.Merchant, error)
	GetCustomerByCode(ctx context.Context, code string) (*model.Customer, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (*model.Customer, error)
	GetProgress(ctx context.Context, customerID, merchantID uuid.UUID) (*model.ProgressRecord, error)
	GetRewardByCode(ctx context.Context, code string) (*model.Reward, error)
	AvailableRewards(ctx context.Context, customerID, merchantID uuid.UUID, now time.Time) ([]model.Reward, error)
	MerchantIDs(ctx context.Context) ([]uuid.UUID, error)

	// монотонные условные обновления вне транзакции движка
	ExpireReward(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ExpireOverdueRewards(ctx context.Context, merchantID uuid.UUID, now time.Time) (int64, error)

	// outbox
	PendingNotifications(ctx context.Context, limit int) ([]model.Notification, error)
	MarkNotificationsSent(ctx context.Context, ids []uuid.UUID, at time.Time) error

	Ping(ctx context.Context) error
	Close()
}

// Tx - операции внутри одной атомарной транзакции
type Tx interface {
	GetMerchant(ctx context.Context, id uuid.UUID) (*model.Merchant, error)
	InsertMerchant(ctx context.Context, m *model.Merchant) error
	ExpireMerchant(ctx context.Context, id uuid.UUID) error
	SetMerchantPause(ctx context.Context, id uuid.UUID, paused bool, until *time.Time) error
	AddMerchantWash(ctx context.Context, id uuid.UUID, price decimal.Decimal) error

	InsertCustomer(ctx context.Context, c *model.Customer) error
	GetCustomerByCode(ctx context.Context, code string) (*model.Customer, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (*model.Customer, error)
	SetCustomerCode(ctx context.Context, id uuid.UUID, code string) error
	AddCustomerWash(ctx context.Context, id uuid.UUID, price decimal.Decimal, at time.Time) error
	AddCustomerRewardEarned(ctx context.Context, id uuid.UUID) error
	AddCustomerRewardClaimed(ctx context.Context, id uuid.UUID) error

	// блокирует строку карточки до конца транзакции
	LockProgress(ctx context.Context, customerID, merchantID uuid.UUID) (*model.ProgressRecord, error)
	InsertProgress(ctx context.Context, p *model.ProgressRecord) error
	UpdateProgress(ctx context.Context, p *model.ProgressRecord) error
	MarkProgressRewardClaimed(ctx context.Context, id uuid.UUID, at time.Time) error

	WashExistsBetween(ctx context.Context, customerID, merchantID uuid.UUID, from, to time.Time) (bool, error)
	InsertWash(ctx context.Context, w *model.WashEvent) error

	InsertReward(ctx context.Context, r *model.Reward) error
	LockReward(ctx context.Context, code string) (*model.Reward, error)
	// условный переход available -> claimed, false если статус уже другой
	ClaimReward(ctx context.Context, id uuid.UUID, claimedBy string, at time.Time) (bool, error)
	ExpireReward(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	EnqueueNotification(ctx context.Context, n *model.Notification) error
}

// Кэш сводок resolve
type CacheStorage interface {
	GetSummary(ctx context.Context, merchantID uuid.UUID, code string) (*model.CustomerSummary, error)
	SetSummary(ctx context.Context, merchantID uuid.UUID, code string, s *model.CustomerSummary) error
	InvalidateSummary(ctx context.Context, merchantID uuid.UUID, code string) error
}

// Получатель уведомлений (kafka, mongo, webhook, лог)
type EventPublisher interface {
	Publish(ctx context.Context, n model.Notification) error
	Name() string
}
