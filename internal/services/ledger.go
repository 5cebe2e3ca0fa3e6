package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	interf "github.com/glkeru/washloyalty/internal/interfaces"
	model "github.com/glkeru/washloyalty/internal/models"
	"github.com/google/uuid"
)

// Результат применения мойки к карточке
type WashApplied struct {
	ThresholdCrossed bool
	CycleRestarted   bool // карточка истекла и цикл начат заново
}

// NewProgressRecord - новая карточка по политике мерчанта
func NewProgressRecord(customerID, merchantID uuid.UUID, policy model.Policy, now time.Time) *model.ProgressRecord {
	policy = policy.Normalize()
	return &model.ProgressRecord{
		ID:             uuid.New(),
		CustomerID:     customerID,
		MerchantID:     merchantID,
		WashesRequired: policy.WashesRequired,
		ExpiresAt:      now.AddDate(0, 0, policy.CardValidityDays),
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ApplyWash - чистое изменение карточки, без побочных эффектов.
// Награду создает вызывающий в той же транзакции
func ApplyWash(p *model.ProgressRecord, policy model.Policy, now time.Time) WashApplied {
	policy = policy.Normalize()
	var res WashApplied
	if p.WashesRequired <= 0 {
		p.WashesRequired = policy.WashesRequired
	}
	// истекшая карточка - новый цикл
	if !now.Before(p.ExpiresAt) {
		p.WashesCompleted = 0
		p.ExpiresAt = now.AddDate(0, 0, policy.CardValidityDays)
		res.CycleRestarted = true
	}

	p.WashesCompleted++
	if p.WashesCompleted >= p.WashesRequired {
		res.ThresholdCrossed = true
		p.WashesCompleted = 0
		p.ExpiresAt = now.AddDate(0, 0, policy.CardValidityDays)
		p.RewardEarned = true
		earned := now
		p.RewardEarnedAt = &earned
		p.RewardClaimed = false
		p.RewardClaimedAt = nil
	}
	p.UpdatedAt = now
	return res
}

// SetPause ставит или снимает паузу карточки
func SetPause(p *model.ProgressRecord, paused bool, until *time.Time, now time.Time) {
	p.Paused = paused
	if paused {
		p.PausedUntil = until
	} else {
		p.PausedUntil = nil
	}
	p.UpdatedAt = now
}

// ResolvePause: снимает паузу, если срок истек. true - пауза действует
func ResolvePause(p *model.ProgressRecord, now time.Time) (paused bool, changed bool) {
	if !p.Paused {
		return false, false
	}
	if p.PausedUntil != nil && !now.Before(*p.PausedUntil) {
		SetPause(p, false, nil, now)
		return false, true
	}
	return true, false
}

// pauseActive - пауза мерчанта с учетом срока
func pauseActive(paused bool, until *time.Time, now time.Time) (active bool, elapsed bool) {
	if !paused {
		return false, false
	}
	if until != nil && !now.Before(*until) {
		return false, true
	}
	return true, false
}

// getOrCreateProgress - идемпотентно, внутри транзакции
func getOrCreateProgress(ctx context.Context, tx interf.Tx, customerID uuid.UUID, m *model.Merchant, now time.Time) (*model.ProgressRecord, error) {
	p, err := tx.LockProgress(ctx, customerID, m.ID)
	if err == nil {
		if !p.Active {
			p.Active = true
			p.UpdatedAt = now
			if err := tx.UpdateProgress(ctx, p); err != nil {
				return nil, fmt.Errorf("reactivate progress: %w", err)
			}
		}
		return p, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("lock progress: %w", err)
	}
	p = NewProgressRecord(customerID, m.ID, m.Policy, now)
	if err := tx.InsertProgress(ctx, p); err != nil {
		return nil, fmt.Errorf("insert progress: %w", err)
	}
	return p, nil
}
