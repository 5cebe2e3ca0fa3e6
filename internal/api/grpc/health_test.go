package loyalty

import (
	"context"
	"errors"
	"testing"

	db "github.com/glkeru/washloyalty/internal/db"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type downStorage struct {
	*db.MemoryDB
}

func (downStorage) Ping(ctx context.Context) error { return errors.New("connection refused") }

func TestHealthCheck(t *testing.T) {
	h := NewHealthService(db.NewMemoryDB(), zap.NewNop())
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, h.Check(context.Background()))

	resp, err := h.srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	down := NewHealthService(downStorage{db.NewMemoryDB()}, zap.NewNop())
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, down.Check(context.Background()))
}
