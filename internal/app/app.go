// Сборка зависимостей для бинарников: лог, хранилище, кэш, получатели уведомлений
package loyalty

import (
	"context"

	config "github.com/glkeru/washloyalty/internal/config"
	db "github.com/glkeru/washloyalty/internal/db"
	kafka "github.com/glkeru/washloyalty/internal/external/kafka"
	mongo "github.com/glkeru/washloyalty/internal/external/mongo"
	webhook "github.com/glkeru/washloyalty/internal/external/webhook"
	interf "github.com/glkeru/washloyalty/internal/interfaces"
	services "github.com/glkeru/washloyalty/internal/services"
	"go.uber.org/zap"
)

type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Storage interf.Storage
	Cache   interf.CacheStorage
	Notify  *services.Dispatcher
	Service *services.LoyaltyService

	closers []func()
}

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Production() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// New поднимает все, что нужно движку. Необязательные интеграции только логируются при ошибке
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	// database
	switch cfg.Storage {
	case config.StorageMemory:
		logger.Warn("memory storage: state is lost on restart")
		a.Storage = db.NewMemoryDB()
	default:
		pg, err := db.NewPostgresDB(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		a.Storage = pg
	}
	a.closers = append(a.closers, a.Storage.Close)

	// cache
	if cfg.RedisAddr != "" {
		redis, err := db.NewCacheService(ctx, db.CacheConfig{
			Addr:     cfg.RedisAddr,
			User:     cfg.RedisUser,
			Password: cfg.RedisPassword,
			TTL:      cfg.CacheTTL,
		})
		if err != nil {
			logger.Error("redis is unavailable, cache disabled", zap.Error(err))
		} else {
			a.Cache = redis
			a.closers = append(a.closers, func() { _ = redis.Close() })
		}
	}

	// notifications
	sinks := []interf.EventPublisher{services.NewLogPublisher(logger)}
	if cfg.KafkaBrokers != "" {
		writer, err := kafka.NewEventWriter(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		if err != nil {
			logger.Error("kafka events are disabled", zap.Error(err))
		} else {
			sinks = append(sinks, writer)
			a.closers = append(a.closers, func() { _ = writer.Close() })
		}
	}
	if cfg.MongoURI != "" {
		archive, err := mongo.NewNotificationArchive(cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			logger.Error("mongo archive is disabled", zap.Error(err))
		} else {
			sinks = append(sinks, archive)
			a.closers = append(a.closers, func() { _ = archive.Close(context.Background()) })
		}
	}
	if cfg.WebhookURL != "" {
		hook, err := webhook.NewWebhook(cfg.WebhookURL)
		if err != nil {
			logger.Error("webhook is disabled", zap.Error(err))
		} else {
			sinks = append(sinks, hook)
		}
	}
	a.Notify = services.NewDispatcher(logger, a.Storage, cfg.NotifyWorkers, cfg.NotifyBuffer, sinks...)

	// services
	a.Service = services.NewLoyaltyService(logger, a.Storage, a.Cache, a.Notify).WithSweepLimit(cfg.SweepLimit)
	return a, nil
}

// Close: сначала дожидаемся очереди уведомлений, потом закрываем соединения
func (a *App) Close() {
	if a.Notify != nil {
		a.Notify.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
