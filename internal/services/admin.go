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

// Регистрация мерчанта
func (s *LoyaltyService) RegisterMerchant(ctx context.Context, m model.Merchant) (*model.Merchant, error) {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return nil, model.ErrMissingField.With("name")
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = model.SubscriptionPending
	}
	if _, err := time.LoadLocation(m.Policy.Timezone); err != nil {
		return nil, model.ErrMissingField.With("unknown timezone " + m.Policy.Timezone)
	}
	m.Policy = m.Policy.Normalize()
	m.TotalRevenue = decimal.Zero
	m.CreatedAt = s.now()

	err := s.inTx(ctx, "RegisterMerchant", func(ctx context.Context, tx interf.Tx) error {
		return tx.InsertMerchant(ctx, &m)
	})
	if err != nil {
		s.Log("RegisterMerchant", err)
		return nil, err
	}
	return &m, nil
}

// Регистрация клиента, код генерируется заново при совпадении
func (s *LoyaltyService) RegisterCustomer(ctx context.Context, name, phone string) (*model.Customer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.ErrMissingField.With("name")
	}
	c := &model.Customer{
		ID:         uuid.New(),
		Name:       name,
		Phone:      strings.TrimSpace(phone),
		TotalSpent: decimal.Zero,
		CreatedAt:  s.now(),
	}
	for i := 0; i < maxCodeGenerations; i++ {
		c.Code = codes.NewCustomerCode(c.ID)
		err := s.inTx(ctx, "RegisterCustomer", func(ctx context.Context, tx interf.Tx) error {
			return tx.InsertCustomer(ctx, c)
		})
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, model.ErrDuplicateCode) {
			s.Log("RegisterCustomer", err)
			return nil, err
		}
		s.logger.Warn("customer code collision", zap.String("code", c.Code))
	}
	s.Log("RegisterCustomer", model.ErrCodeCollision)
	return nil, model.ErrCodeCollision
}

// Перевыпуск кода клиента
func (s *LoyaltyService) ReissueCustomerCode(ctx context.Context, customerID uuid.UUID) (string, error) {
	for i := 0; i < maxCodeGenerations; i++ {
		code := codes.NewCustomerCode(customerID)
		err := s.inTx(ctx, "ReissueCustomerCode", func(ctx context.Context, tx interf.Tx) error {
			if _, err := tx.GetCustomer(ctx, customerID); err != nil {
				if errors.Is(err, model.ErrNotFound) {
					return model.ErrCustomerUnknown.With(customerID.String())
				}
				return err
			}
			return tx.SetCustomerCode(ctx, customerID, code)
		})
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, model.ErrDuplicateCode) {
			return "", err
		}
	}
	return "", model.ErrCodeCollision
}

// Запись клиента в программу мерчанта: GetOrCreate карточки
func (s *LoyaltyService) GetOrCreateProgress(ctx context.Context, merchantID, customerID uuid.UUID) (*model.ProgressRecord, error) {
	ctx, span := startSpan(ctx, "GetOrCreateProgress", merchantID)
	defer span.End()

	var progress *model.ProgressRecord
	var code string
	err := s.inTx(ctx, "GetOrCreateProgress", func(ctx context.Context, tx interf.Tx) error {
		now := s.now()
		m, err := tx.GetMerchant(ctx, merchantID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return model.ErrMerchantNotFound.With(merchantID.String())
			}
			return err
		}
		c, err := tx.GetCustomer(ctx, customerID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return model.ErrCustomerUnknown.With(customerID.String())
			}
			return err
		}
		code = c.Code
		progress, err = getOrCreateProgress(ctx, tx, c.ID, m, now)
		return err
	})
	if err != nil {
		return nil, s.reject(span, "GetOrCreateProgress", err)
	}
	s.afterCommit(ctx, merchantID, code, nil)
	return progress, nil
}

// Пауза программы мерчанта
func (s *LoyaltyService) PauseProgram(ctx context.Context, merchantID uuid.UUID, paused bool, until *time.Time) error {
	err := s.inTx(ctx, "PauseProgram", func(ctx context.Context, tx interf.Tx) error {
		if _, err := tx.GetMerchant(ctx, merchantID); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return model.ErrMerchantNotFound.With(merchantID.String())
			}
			return err
		}
		if !paused {
			until = nil
		}
		return tx.SetMerchantPause(ctx, merchantID, paused, until)
	})
	if err != nil {
		s.Log("PauseProgram", err)
		return err
	}
	return nil
}

// Пауза карточки клиента
func (s *LoyaltyService) PauseCard(ctx context.Context, merchantID, customerID uuid.UUID, paused bool, until *time.Time) error {
	var code string
	err := s.inTx(ctx, "PauseCard", func(ctx context.Context, tx interf.Tx) error {
		c, err := tx.GetCustomer(ctx, customerID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return model.ErrCustomerUnknown.With(customerID.String())
			}
			return err
		}
		code = c.Code
		p, err := tx.LockProgress(ctx, customerID, merchantID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return model.ErrNotEnrolled
			}
			return err
		}
		SetPause(p, paused, until, s.now())
		return tx.UpdateProgress(ctx, p)
	})
	if err != nil {
		s.Log("PauseCard", err)
		return err
	}
	s.afterCommit(ctx, merchantID, code, nil)
	return nil
}

// Повторная отправка неотправленных уведомлений из outbox
func (s *LoyaltyService) RedeliverNotifications(ctx context.Context, limit int) (int, error) {
	if s.notify == nil {
		return 0, nil
	}
	notes, err := s.db.PendingNotifications(ctx, limit)
	if err != nil {
		s.Log("RedeliverNotifications", err)
		return 0, err
	}
	if len(notes) == 0 {
		return 0, nil
	}
	sent, err := s.notify.Deliver(ctx, notes)
	if err != nil {
		return sent, fmt.Errorf("redeliver: %w", err)
	}
	return sent, nil
}

// Progress - текущая карточка клиента у мерчанта (создается при первом обращении)
func (s *LoyaltyService) Progress(ctx context.Context, merchantID, customerID uuid.UUID) (*model.CustomerSummary, error) {
	if _, err := s.GetOrCreateProgress(ctx, merchantID, customerID); err != nil {
		return nil, err
	}
	m, err := s.db.GetMerchant(ctx, merchantID)
	if err != nil {
		s.Log("Progress", err)
		return nil, err
	}
	c, err := s.db.GetCustomer(ctx, customerID)
	if err != nil {
		s.Log("Progress", err)
		return nil, err
	}
	return s.summary(ctx, m, c, s.now())
}
