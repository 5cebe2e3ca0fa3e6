package loyalty

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	codes "github.com/glkeru/washloyalty/internal/codes"
	interf "github.com/glkeru/washloyalty/internal/interfaces"
	model "github.com/glkeru/washloyalty/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	nearThreshold      = 2
	maxCodeGenerations = 3
)

// Запись мойки: проверки -> журнал -> карточка -> (награда) -> уведомления.
// Все изменения в одной транзакции
func (s *LoyaltyService) RecordWash(ctx context.Context, merchantID uuid.UUID, customerCode string, service string, price decimal.Decimal) (*model.WashResult, error) {
	ctx, span := startSpan(ctx, "RecordWash", merchantID)
	defer span.End()

	// проверки до обращения к хранилищу
	if merchantID == uuid.Nil {
		return nil, s.reject(span, "RecordWash", model.ErrMissingField.With("merchantId"))
	}
	code := codes.Parse(customerCode)
	if code.Kind != codes.KindCustomer {
		return nil, s.reject(span, "RecordWash", model.ErrInvalidCode.With("customer code expected"))
	}
	service = strings.TrimSpace(service)
	if service == "" {
		return nil, s.reject(span, "RecordWash", model.ErrMissingField.With("service"))
	}
	if price.IsNegative() {
		return nil, s.reject(span, "RecordWash", model.ErrInvalidPrice.With(price.String()))
	}

	var (
		result  *model.WashResult
		outcome error
		notes   []model.Notification
	)
	err := s.inTx(ctx, "RecordWash", func(ctx context.Context, tx interf.Tx) error {
		result, outcome, notes = nil, nil, nil
		now := s.now()

		// 1. подписка мерчанта
		m, err := tx.GetMerchant(ctx, merchantID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return model.ErrMerchantNotFound.With(merchantID.String())
			}
			return err
		}
		if subscriptionOverdue(m, now) {
			// переход в expired фиксируется независимо от исхода мойки
			if err := tx.ExpireMerchant(ctx, m.ID); err != nil {
				return fmt.Errorf("expire merchant: %w", err)
			}
			outcome = model.ErrTenantInactive.With("subscription expired")
			return nil
		}
		if m.Status != model.SubscriptionActive {
			return model.ErrTenantInactive.With("subscription " + string(m.Status))
		}

		// 2. клиент
		c, err := tx.GetCustomerByCode(ctx, code.Value)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return model.ErrCustomerUnknown.With(code.Value)
			}
			return err
		}

		// 3. карточка у этого мерчанта
		p, err := tx.LockProgress(ctx, c.ID, m.ID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return model.ErrNotEnrolled
			}
			return err
		}
		if !p.Active {
			return model.ErrNotEnrolled.With("card is inactive")
		}

		// 4. пауза программы и карточки
		active, elapsed := pauseActive(m.Paused, m.PausedUntil, now)
		if active {
			return model.ErrProgramPaused
		}
		if elapsed {
			if err := tx.SetMerchantPause(ctx, m.ID, false, nil); err != nil {
				return fmt.Errorf("clear merchant pause: %w", err)
			}
		}
		if paused, _ := ResolvePause(p, now); paused {
			return model.ErrProgramPaused.With("card is paused")
		}

		// 5. антифрод: одна мойка в календарный день
		if m.Policy.AntiFraudSameDay {
			from, to := dayBounds(now, m.Policy.Location())
			exists, err := tx.WashExistsBetween(ctx, c.ID, m.ID, from, to)
			if err != nil {
				return fmt.Errorf("same day check: %w", err)
			}
			if exists {
				return model.ErrAlreadyWashedToday
			}
		}

		// запись
		wash := &model.WashEvent{
			ID:         uuid.New(),
			CustomerID: c.ID,
			MerchantID: m.ID,
			Service:    service,
			Price:      price,
			CreatedAt:  now,
		}
		if err := tx.InsertWash(ctx, wash); err != nil {
			return fmt.Errorf("insert wash: %w", err)
		}
		if err := tx.AddCustomerWash(ctx, c.ID, price, now); err != nil {
			return fmt.Errorf("customer counters: %w", err)
		}
		if err := tx.AddMerchantWash(ctx, m.ID, price); err != nil {
			return fmt.Errorf("merchant counters: %w", err)
		}

		applied := ApplyWash(p, m.Policy, now)
		if applied.CycleRestarted {
			s.logger.Info("card expired, cycle restarted",
				zap.String("merchant", m.ID.String()),
				zap.String("customer", c.ID.String()),
			)
		}
		res := &model.WashResult{WashID: wash.ID, Price: price}
		if applied.ThresholdCrossed {
			reward, err := s.issueReward(ctx, tx, c.ID, m, p, now)
			if err != nil {
				return err
			}
			if err := tx.AddCustomerRewardEarned(ctx, c.ID); err != nil {
				return fmt.Errorf("customer rewards earned: %w", err)
			}
			res.RewardEarned = true
			res.RewardCode = reward.Code
			expires := reward.ExpiresAt
			res.RewardExpiresAt = &expires
		}
		if err := tx.UpdateProgress(ctx, p); err != nil {
			return fmt.Errorf("update progress: %w", err)
		}

		// уведомления в outbox той же транзакцией
		notes = append(notes, newNotification(model.NotifyWashRecorded, p, now))
		remaining := p.WashesRequired - p.WashesCompleted
		switch {
		case applied.ThresholdCrossed:
			n := newNotification(model.NotifyRewardIssued, p, now)
			n.RewardCode = res.RewardCode
			notes = append(notes, n)
		case remaining <= nearThreshold:
			notes = append(notes, newNotification(model.NotifyNearThreshold, p, now))
		}
		for i := range notes {
			if err := tx.EnqueueNotification(ctx, &notes[i]); err != nil {
				return fmt.Errorf("enqueue notification: %w", err)
			}
		}

		res.CustomerSummary = model.NewSummary(c, p, now)
		if res.RewardEarned {
			res.AvailableRewards = []string{res.RewardCode}
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, s.reject(span, "RecordWash", err)
	}
	if outcome != nil {
		return nil, s.reject(span, "RecordWash", outcome)
	}

	washesRecordedTotal.Inc()
	if result.RewardEarned {
		rewardsIssuedTotal.Inc()
	}
	s.logger.Info("wash recorded",
		zap.String("merchant", merchantID.String()),
		zap.String("customer", result.CustomerID.String()),
		zap.Int("completed", result.WashesCompleted),
		zap.Bool("rewardEarned", result.RewardEarned),
	)
	s.afterCommit(ctx, merchantID, code.Value, notes)
	return result, nil
}

// создание награды; код переходно висит на карточке, пока строка награды не записана
func (s *LoyaltyService) issueReward(ctx context.Context, tx interf.Tx, customerID uuid.UUID, m *model.Merchant, p *model.ProgressRecord, now time.Time) (*model.Reward, error) {
	policy := m.Policy.Normalize()
	reward := &model.Reward{
		ID:         uuid.New(),
		CustomerID: customerID,
		MerchantID: m.ID,
		ProgressID: p.ID,
		Status:     model.RewardAvailable,
		ExpiresAt:  now.AddDate(0, 0, policy.RewardValidityDays),
		CreatedAt:  now,
	}
	for i := 0; i < maxCodeGenerations; i++ {
		reward.Code = codes.NewRewardCode()
		p.RewardCode = reward.Code
		err := tx.InsertReward(ctx, reward)
		if err == nil {
			p.RewardCode = ""
			return reward, nil
		}
		if !errors.Is(err, model.ErrDuplicateCode) {
			return nil, fmt.Errorf("insert reward: %w", err)
		}
		s.logger.Warn("reward code collision", zap.String("code", reward.Code))
	}
	return nil, model.ErrCodeCollision
}

func subscriptionOverdue(m *model.Merchant, now time.Time) bool {
	return m.Status == model.SubscriptionActive &&
		m.SubscriptionExpiresAt != nil &&
		!now.Before(*m.SubscriptionExpiresAt)
}

// Проверка кода клиента без изменений, можно опрашивать
func (s *LoyaltyService) ResolveCustomerCode(ctx context.Context, merchantID uuid.UUID, customerCode string) (*model.CustomerSummary, error) {
	ctx, span := startSpan(ctx, "ResolveCustomerCode", merchantID)
	defer span.End()

	code := codes.Parse(customerCode)
	if code.Kind != codes.KindCustomer {
		return nil, s.reject(span, "ResolveCustomerCode", model.ErrInvalidCode.With("customer code expected"))
	}

	// cache
	if s.cache != nil {
		summary, err := s.cache.GetSummary(ctx, merchantID, code.Value)
		if err == nil && summary != nil {
			return summary, nil
		}
	}

	now := s.now()
	m, err := s.db.GetMerchant(ctx, merchantID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, s.reject(span, "ResolveCustomerCode", model.ErrMerchantNotFound.With(merchantID.String()))
		}
		return nil, s.reject(span, "ResolveCustomerCode", err)
	}
	c, err := s.db.GetCustomerByCode(ctx, code.Value)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, s.reject(span, "ResolveCustomerCode", model.ErrCustomerUnknown.With(code.Value))
		}
		return nil, s.reject(span, "ResolveCustomerCode", err)
	}
	summary, err := s.summary(ctx, m, c, now)
	if err != nil {
		return nil, s.reject(span, "ResolveCustomerCode", err)
	}

	if s.cache != nil {
		if err := s.cache.SetSummary(ctx, merchantID, code.Value, summary); err != nil {
			s.Log("SetSummary", err)
		}
	}
	return summary, nil
}

// сводка по карточке, только чтение
func (s *LoyaltyService) summary(ctx context.Context, m *model.Merchant, c *model.Customer, now time.Time) (*model.CustomerSummary, error) {
	p, err := s.db.GetProgress(ctx, c.ID, m.ID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.ErrNotEnrolled
		}
		return nil, err
	}
	if !p.Active {
		return nil, model.ErrNotEnrolled.With("card is inactive")
	}
	summary := model.NewSummary(c, p, now)
	if active, _ := pauseActive(m.Paused, m.PausedUntil, now); active {
		summary.Paused = true
	}
	rewards, err := s.db.AvailableRewards(ctx, c.ID, m.ID, now)
	if err != nil {
		return nil, err
	}
	for _, r := range rewards {
		summary.AvailableRewards = append(summary.AvailableRewards, r.Code)
	}
	return &summary, nil
}

// Результат сканирования: либо клиент, либо награда
type ScanResult struct {
	Kind     string                 `json:"kind"`
	Customer *model.CustomerSummary `json:"customer,omitempty"`
	Reward   *model.RewardSummary   `json:"reward,omitempty"`
}

// Scan разбирает код один раз и направляет в нужную операцию
func (s *LoyaltyService) Scan(ctx context.Context, merchantID uuid.UUID, raw string) (*ScanResult, error) {
	code := codes.Parse(raw)
	switch code.Kind {
	case codes.KindCustomer:
		summary, err := s.ResolveCustomerCode(ctx, merchantID, code.Value)
		if err != nil {
			return nil, err
		}
		return &ScanResult{Kind: code.Kind.String(), Customer: summary}, nil
	case codes.KindReward:
		summary, err := s.ValidateReward(ctx, merchantID, code.Value)
		if summary == nil {
			return nil, err
		}
		return &ScanResult{Kind: code.Kind.String(), Reward: summary}, err
	}
	rejectionsTotal.WithLabelValues(string(model.ReasonInvalidCode)).Inc()
	return nil, model.ErrInvalidCode.With("unknown code format")
}
