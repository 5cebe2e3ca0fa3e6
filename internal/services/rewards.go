package loyalty

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	codes "github.com/glkeru/washloyalty/internal/codes"
	interf "github.com/glkeru/washloyalty/internal/interfaces"
	model "github.com/glkeru/washloyalty/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func rewardSummary(r *model.Reward, c *model.Customer) *model.RewardSummary {
	s := &model.RewardSummary{
		RewardID:   r.ID,
		Code:       r.Code,
		Status:     r.Status,
		ExpiresAt:  r.ExpiresAt,
		CustomerID: r.CustomerID,
	}
	if c != nil {
		s.CustomerName = c.Name
		s.CustomerPhone = c.Phone
	}
	return s
}

// проверка статуса награды; для истекшей по сроку возвращает expired=true
func checkReward(r *model.Reward, merchantID uuid.UUID, now time.Time) (overdue bool, err error) {
	if r.MerchantID != merchantID {
		return false, model.ErrRewardNotFound.With(r.Code)
	}
	switch r.Status {
	case model.RewardClaimed:
		return false, model.ErrAlreadyClaimed
	case model.RewardExpired:
		return false, model.ErrRewardExpired
	}
	if !now.Before(r.ExpiresAt) {
		return true, model.ErrRewardExpired
	}
	return false, nil
}

// Проверка награды перед погашением. Меняет только статус просроченной награды
func (s *LoyaltyService) ValidateReward(ctx context.Context, merchantID uuid.UUID, rewardCode string) (*model.RewardSummary, error) {
	ctx, span := startSpan(ctx, "ValidateReward", merchantID)
	defer span.End()

	code := codes.Parse(rewardCode)
	if code.Kind != codes.KindReward {
		return nil, s.reject(span, "ValidateReward", model.ErrInvalidCode.With("reward code expected"))
	}
	now := s.now()
	r, err := s.db.GetRewardByCode(ctx, code.Value)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, s.reject(span, "ValidateReward", model.ErrRewardNotFound.With(code.Value))
		}
		return nil, s.reject(span, "ValidateReward", err)
	}
	if r.MerchantID != merchantID {
		return nil, s.reject(span, "ValidateReward", model.ErrRewardNotFound.With(code.Value))
	}

	c, err := s.db.GetCustomer(ctx, r.CustomerID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, s.reject(span, "ValidateReward", err)
	}

	overdue, cerr := checkReward(r, merchantID, now)
	if overdue {
		// ленивый переход в expired, обратно не возвращается
		changed, err := s.db.ExpireReward(ctx, r.ID, now)
		if err != nil {
			return nil, s.reject(span, "ValidateReward", err)
		}
		if changed {
			rewardsExpiredTotal.Inc()
		}
		r.Status = model.RewardExpired
	}
	summary := rewardSummary(r, c)
	if cerr != nil {
		if e, ok := model.AsEngineError(cerr); ok {
			summary.Reason = e.Reason
		}
		return summary, s.reject(span, "ValidateReward", cerr)
	}
	summary.Redeemable = true
	return summary, nil
}

// Погашение награды: условное обновление статуса под блокировкой строки
func (s *LoyaltyService) RedeemReward(ctx context.Context, merchantID uuid.UUID, rewardCode string) (*model.RedeemResult, error) {
	ctx, span := startSpan(ctx, "RedeemReward", merchantID)
	defer span.End()

	code := codes.Parse(rewardCode)
	if code.Kind != codes.KindReward {
		return nil, s.reject(span, "RedeemReward", model.ErrInvalidCode.With("reward code expected"))
	}

	var (
		result   *model.RedeemResult
		outcome  error
		customer *model.Customer
		notes    []model.Notification
		expired  bool
	)
	err := s.inTx(ctx, "RedeemReward", func(ctx context.Context, tx interf.Tx) error {
		result, outcome, customer, notes, expired = nil, nil, nil, nil, false
		now := s.now()

		r, err := tx.LockReward(ctx, code.Value)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return model.ErrRewardNotFound.With(code.Value)
			}
			return err
		}
		overdue, cerr := checkReward(r, merchantID, now)
		if overdue {
			// фиксируем expired и отдаем отказ
			changed, err := tx.ExpireReward(ctx, r.ID, now)
			if err != nil {
				return fmt.Errorf("expire reward: %w", err)
			}
			expired = changed
			outcome = cerr
			return nil
		}
		if cerr != nil {
			return cerr
		}

		ok, err := tx.ClaimReward(ctx, r.ID, merchantID.String(), now)
		if err != nil {
			return fmt.Errorf("claim reward: %w", err)
		}
		if !ok {
			return model.ErrConflict
		}
		if err := tx.AddCustomerRewardClaimed(ctx, r.CustomerID); err != nil {
			return fmt.Errorf("customer rewards claimed: %w", err)
		}
		if err := tx.MarkProgressRewardClaimed(ctx, r.ProgressID, now); err != nil && !errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("progress reward claimed: %w", err)
		}
		c, err := tx.GetCustomer(ctx, r.CustomerID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
		customer = c

		n := model.Notification{
			ID:         uuid.New(),
			Type:       model.NotifyRewardRedeemed,
			MerchantID: r.MerchantID,
			CustomerID: r.CustomerID,
			RewardCode: r.Code,
			CreatedAt:  now,
		}
		if err := tx.EnqueueNotification(ctx, &n); err != nil {
			return fmt.Errorf("enqueue notification: %w", err)
		}
		notes = []model.Notification{n}

		r.Status = model.RewardClaimed
		r.ClaimedAt = &now
		r.ClaimedBy = merchantID.String()
		result = &model.RedeemResult{
			RewardSummary: *rewardSummary(r, c),
			ClaimedAt:     now,
			ClaimedBy:     r.ClaimedBy,
		}
		return nil
	})
	if err != nil {
		return nil, s.reject(span, "RedeemReward", err)
	}
	if outcome != nil {
		if expired {
			rewardsExpiredTotal.Inc()
		}
		return nil, s.reject(span, "RedeemReward", outcome)
	}

	rewardsRedeemedTotal.Inc()
	s.logger.Info("reward redeemed",
		zap.String("merchant", merchantID.String()),
		zap.String("reward", result.Code),
	)
	customerCode := ""
	if customer != nil {
		customerCode = customer.Code
	}
	s.afterCommit(ctx, merchantID, customerCode, notes)
	return result, nil
}

// Перевод просроченных наград в expired по всем мерчантам
func (s *LoyaltyService) ExpireOverdueRewards(ctx context.Context) (int64, error) {
	ids, err := s.db.MerchantIDs(ctx)
	if err != nil {
		s.Log("ExpireOverdueRewards", err)
		return 0, err
	}
	now := s.now()
	var total atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.sweepLimit)
	for _, id := range ids {
		g.Go(func() error {
			n, err := s.db.ExpireOverdueRewards(gctx, id, now)
			if err != nil {
				s.logger.Error("Expire rewards error",
					zap.Error(err),
					zap.String("service", "ExpireOverdueRewards"),
					zap.String("merchant", id.String()))
				return err
			}
			total.Add(n)
			return nil
		})
	}
	err = g.Wait()
	rewardsExpiredTotal.Add(float64(total.Load()))
	return total.Load(), err
}
