package loyalty

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Статус подписки мерчанта
type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionSuspended SubscriptionStatus = "suspended"
)

// Статус награды: available -> claimed | expired
type RewardStatus string

const (
	RewardAvailable RewardStatus = "available"
	RewardClaimed   RewardStatus = "claimed"
	RewardExpired   RewardStatus = "expired"
)

// Политика программы лояльности мерчанта
type Policy struct {
	WashesRequired     int    // сколько моек до награды
	RewardValidityDays int    // срок действия награды
	CardValidityDays   int    // срок действия карточки (цикла)
	AntiFraudSameDay   bool   // не более одной мойки в календарный день
	Timezone           string // IANA, граница календарного дня
}

const (
	DefaultWashesRequired     = 5
	DefaultRewardValidityDays = 30
	DefaultCardValidityDays   = 365
)

// Location возвращает зону для расчета календарного дня; при ошибке UTC
func (p Policy) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Normalize подставляет значения по умолчанию
func (p Policy) Normalize() Policy {
	if p.WashesRequired <= 0 {
		p.WashesRequired = DefaultWashesRequired
	}
	if p.RewardValidityDays <= 0 {
		p.RewardValidityDays = DefaultRewardValidityDays
	}
	if p.CardValidityDays <= 0 {
		p.CardValidityDays = DefaultCardValidityDays
	}
	return p
}

// Мерчант (арендатор)
type Merchant struct {
	ID                    uuid.UUID
	Name                  string
	Status                SubscriptionStatus
	SubscriptionExpiresAt *time.Time
	Policy                Policy
	Paused                bool
	PausedUntil           *time.Time
	TotalWashes           int64           // кэш, источник - wash_events
	TotalRevenue          decimal.Decimal // кэш, источник - wash_events
	CreatedAt             time.Time
}

// Клиент
type Customer struct {
	ID             uuid.UUID
	Code           string // CUST-...
	Name           string
	Phone          string
	TotalWashes    int64
	TotalSpent     decimal.Decimal
	RewardsEarned  int64
	RewardsClaimed int64
	LastWashAt     *time.Time
	CreatedAt      time.Time
}

// Карточка лояльности: одна на пару клиент x мерчант
type ProgressRecord struct {
	ID              uuid.UUID
	CustomerID      uuid.UUID
	MerchantID      uuid.UUID
	WashesCompleted int
	WashesRequired  int // копия политики на момент создания
	ExpiresAt       time.Time
	Active          bool
	Paused          bool
	PausedUntil     *time.Time
	RewardEarned    bool
	RewardEarnedAt  *time.Time
	RewardCode      string // переходное поле, очищается после записи Reward
	RewardClaimed   bool
	RewardClaimedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Мойка - журнал, только добавление
type WashEvent struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	MerchantID uuid.UUID
	Service    string
	Price      decimal.Decimal
	Rating     *int
	Comment    string
	CreatedAt  time.Time
}

// Награда
type Reward struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	MerchantID uuid.UUID
	ProgressID uuid.UUID
	Code       string // RWD-...
	Status     RewardStatus
	ExpiresAt  time.Time
	ClaimedAt  *time.Time
	ClaimedBy  string
	CreatedAt  time.Time
}

// Типы уведомлений
type NotificationType string

const (
	NotifyWashRecorded   NotificationType = "wash_recorded"
	NotifyNearThreshold  NotificationType = "near_threshold"
	NotifyRewardIssued   NotificationType = "reward_issued"
	NotifyRewardRedeemed NotificationType = "reward_redeemed"
)

// Уведомление в outbox
type Notification struct {
	ID         uuid.UUID        `json:"id" bson:"id"`
	Type       NotificationType `json:"type" bson:"type"`
	MerchantID uuid.UUID        `json:"merchantId" bson:"merchantId"`
	CustomerID uuid.UUID        `json:"customerId" bson:"customerId"`
	RewardCode string           `json:"rewardCode,omitempty" bson:"rewardCode,omitempty"`
	Completed  int              `json:"completed" bson:"completed"`
	Required   int              `json:"required" bson:"required"`
	CreatedAt  time.Time        `json:"createdAt" bson:"createdAt"`
	SentAt     *time.Time       `json:"sentAt,omitempty" bson:"sentAt,omitempty"`
}
