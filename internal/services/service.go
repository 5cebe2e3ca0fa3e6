package loyalty

import (
	"context"
	"errors"
	"time"

	interf "github.com/glkeru/washloyalty/internal/interfaces"
	model "github.com/glkeru/washloyalty/internal/models"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("washloyalty/services")

type LoyaltyService struct {
	logger     *zap.Logger
	db         interf.Storage
	cache      interf.CacheStorage
	notify     *Dispatcher
	now        func() time.Time
	sweepLimit int
}

func NewLoyaltyService(logger *zap.Logger, db interf.Storage, cache interf.CacheStorage, notify *Dispatcher) *LoyaltyService {
	return &LoyaltyService{
		logger:     logger,
		db:         db,
		cache:      cache,
		notify:     notify,
		now:        time.Now,
		sweepLimit: 3,
	}
}

// WithClock подменяет часы (тесты, задания)
func (s *LoyaltyService) WithClock(now func() time.Time) *LoyaltyService {
	s.now = now
	return s
}

// WithSweepLimit - сколько мерчантов обрабатывать параллельно при чистке наград
func (s *LoyaltyService) WithSweepLimit(n int) *LoyaltyService {
	if n <= 0 {
		n = 1
	}
	s.sweepLimit = n
	return s
}

// log
func (s *LoyaltyService) Log(op string, err error) {
	s.logger.Error("Loyalty",
		zap.String("service", op),
		zap.Error(err),
	)
}

// транзакция с одним повтором при конфликте
func (s *LoyaltyService) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx interf.Tx) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.db.InTx(ctx, fn)
		if !errors.Is(err, model.ErrConflict) {
			return err
		}
		s.logger.Warn("transaction conflict",
			zap.String("service", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return model.ErrConcurrencyConflict.With(err.Error())
}

// отказ: метрика, лог, статус спана
func (s *LoyaltyService) reject(span trace.Span, op string, err error) error {
	e, ok := model.AsEngineError(err)
	if !ok {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.Log(op, err)
		return err
	}
	rejectionsTotal.WithLabelValues(string(e.Reason)).Inc()
	span.SetAttributes(attribute.String("loyalty.reason", string(e.Reason)))
	s.logger.Info("rejected",
		zap.String("service", op),
		zap.String("reason", string(e.Reason)),
		zap.String("message", e.Message),
	)
	return err
}

func startSpan(ctx context.Context, op string, merchantID uuid.UUID) (context.Context, trace.Span) {
	return tracer.Start(ctx, op, trace.WithAttributes(attribute.String("loyalty.merchant", merchantID.String())))
}

// после коммита: сброс кэша и отправка уведомлений, ошибки только логируем
func (s *LoyaltyService) afterCommit(ctx context.Context, merchantID uuid.UUID, customerCode string, notes []model.Notification) {
	if s.cache != nil && customerCode != "" {
		if err := s.cache.InvalidateSummary(ctx, merchantID, customerCode); err != nil {
			s.Log("InvalidateSummary", err)
		}
	}
	if s.notify != nil && len(notes) > 0 {
		s.notify.Dispatch(notes)
	}
}

func newNotification(t model.NotificationType, p *model.ProgressRecord, now time.Time) model.Notification {
	return model.Notification{
		ID:         uuid.New(),
		Type:       t,
		MerchantID: p.MerchantID,
		CustomerID: p.CustomerID,
		Completed:  p.WashesCompleted,
		Required:   p.WashesRequired,
		CreatedAt:  now,
	}
}

// границы календарного дня в зоне мерчанта
func dayBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	t := now.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
