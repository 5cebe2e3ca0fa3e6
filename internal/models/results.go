package loyalty

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Сводка по клиенту для оператора (resolve)
type CustomerSummary struct {
	CustomerID       uuid.UUID `json:"customerId"`
	Code             string    `json:"code"`
	Name             string    `json:"name"`
	Phone            string    `json:"phone"`
	WashesCompleted  int       `json:"washesCompleted"`
	WashesRequired   int       `json:"washesRequired"`
	Remaining        int       `json:"remaining"`
	ProgressPercent  float64   `json:"progressPercent"`
	ExpiresAt        time.Time `json:"expiresAt"`
	DaysRemaining    int       `json:"daysRemaining"`
	Paused           bool      `json:"paused"`
	AvailableRewards []string  `json:"availableRewards,omitempty"`
}

// Результат записи мойки
type WashResult struct {
	WashID          uuid.UUID       `json:"washId"`
	Price           decimal.Decimal `json:"price"`
	RewardEarned    bool            `json:"rewardEarned"`
	RewardCode      string          `json:"rewardCode,omitempty"`
	RewardExpiresAt *time.Time      `json:"rewardExpiresAt,omitempty"`
	CustomerSummary
}

// Сводка по награде
type RewardSummary struct {
	RewardID      uuid.UUID    `json:"rewardId"`
	Code          string       `json:"code"`
	Status        RewardStatus `json:"status"`
	ExpiresAt     time.Time    `json:"expiresAt"`
	CustomerID    uuid.UUID    `json:"customerId"`
	CustomerName  string       `json:"customerName"`
	CustomerPhone string       `json:"customerPhone"`
	Redeemable    bool         `json:"redeemable"`
	Reason        Reason       `json:"reason,omitempty"`
}

// Результат погашения
type RedeemResult struct {
	RewardSummary
	ClaimedAt time.Time `json:"claimedAt"`
	ClaimedBy string    `json:"claimedBy"`
}

// Percent = completed/required*100 в пределах [0,100]
func Percent(completed, required int) float64 {
	if required <= 0 {
		return 0
	}
	p := float64(completed) / float64(required) * 100
	return math.Max(0, math.Min(100, p))
}

// DaysUntil - сколько полных или неполных дней осталось, не меньше 0
func DaysUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

// NewSummary собирает сводку из клиента и карточки
func NewSummary(c *Customer, p *ProgressRecord, now time.Time) CustomerSummary {
	s := CustomerSummary{
		CustomerID: c.ID,
		Code:       c.Code,
		Name:       c.Name,
		Phone:      c.Phone,
	}
	if p == nil {
		return s
	}
	s.WashesCompleted = p.WashesCompleted
	s.WashesRequired = p.WashesRequired
	s.Remaining = p.WashesRequired - p.WashesCompleted
	if s.Remaining < 0 {
		s.Remaining = 0
	}
	s.ProgressPercent = Percent(p.WashesCompleted, p.WashesRequired)
	s.ExpiresAt = p.ExpiresAt
	s.DaysRemaining = DaysUntil(now, p.ExpiresAt)
	s.Paused = p.Paused && (p.PausedUntil == nil || now.Before(*p.PausedUntil))
	return s
}
