// gRPC health: статус SERVING, пока хранилище отвечает
package loyalty

import (
	"context"
	"time"

	interf "github.com/glkeru/washloyalty/internal/interfaces"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "washloyalty.Loyalty"

type HealthService struct {
	srv    *health.Server
	db     interf.Storage
	logger *zap.Logger
}

func NewHealthService(db interf.Storage, logger *zap.Logger) *HealthService {
	return &HealthService{health.NewServer(), db, logger}
}

func (h *HealthService) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Check проверяет хранилище и выставляет статус
func (h *HealthService) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("storage ping failed",
			zap.String("service", "HealthService"),
			zap.Error(err),
		)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(ServiceName, status)
	return status
}

// Run проверяет хранилище с интервалом до отмены контекста
func (h *HealthService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		pctx, cancel := context.WithTimeout(ctx, interval)
		h.Check(pctx)
		cancel()
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
		}
	}
}
