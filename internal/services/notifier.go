package loyalty

import (
	"context"
	"errors"
	"sync"
	"time"

	interf "github.com/glkeru/washloyalty/internal/interfaces"
	model "github.com/glkeru/washloyalty/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const deliverTimeout = 5 * time.Second

// Dispatcher рассылает уведомления после коммита.
// Не блокирует вызывающего: при переполнении очереди уведомление остается в outbox
type Dispatcher struct {
	logger *zap.Logger
	db     interf.Storage
	sinks  []interf.EventPublisher
	queue  chan []model.Notification
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(logger *zap.Logger, db interf.Storage, workers int, buffer int, sinks ...interf.EventPublisher) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	d := &Dispatcher{
		logger: logger,
		db:     db,
		sinks:  sinks,
		queue:  make(chan []model.Notification, buffer),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for notes := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		_, err := d.Deliver(ctx, notes)
		cancel()
		if err != nil {
			d.logger.Warn("notification delivery failed",
				zap.String("service", "Dispatcher"),
				zap.Error(err),
			)
		}
	}
}

// Dispatch ставит уведомления в очередь без ожидания
func (d *Dispatcher) Dispatch(notes []model.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		notificationsDropped.Add(float64(len(notes)))
		return
	}
	select {
	case d.queue <- notes:
	default:
		notificationsDropped.Add(float64(len(notes)))
		d.logger.Warn("notification queue is full, left in outbox",
			zap.Int("count", len(notes)),
		)
	}
}

// Deliver отправляет во все получатели, отправленные помечаются в outbox
func (d *Dispatcher) Deliver(ctx context.Context, notes []model.Notification) (int, error) {
	var sent []uuid.UUID
	var errs []error
	for _, n := range notes {
		g, gctx := errgroup.WithContext(ctx)
		for _, sink := range d.sinks {
			g.Go(func() error {
				if err := sink.Publish(gctx, n); err != nil {
					d.logger.Warn("publish failed",
						zap.String("sink", sink.Name()),
						zap.String("notification", n.ID.String()),
						zap.Error(err),
					)
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			errs = append(errs, err)
			continue
		}
		sent = append(sent, n.ID)
	}
	if len(sent) > 0 {
		if err := d.db.MarkNotificationsSent(ctx, sent, time.Now()); err != nil {
			errs = append(errs, err)
		}
	}
	return len(sent), errors.Join(errs...)
}

// Close дожидается отправки очереди
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

// LogPublisher пишет уведомления в лог
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger}
}

func (l *LogPublisher) Name() string { return "log" }

func (l *LogPublisher) Publish(ctx context.Context, n model.Notification) error {
	l.logger.Info("notification",
		zap.String("type", string(n.Type)),
		zap.String("merchant", n.MerchantID.String()),
		zap.String("customer", n.CustomerID.String()),
		zap.String("reward", n.RewardCode),
		zap.Int("completed", n.Completed),
		zap.Int("required", n.Required),
	)
	return nil
}
