// HTTP API движка лояльности + gRPC health
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/glkeru/washloyalty/internal/api"
	health "github.com/glkeru/washloyalty/internal/api/grpc"
	app "github.com/glkeru/washloyalty/internal/app"
	config "github.com/glkeru/washloyalty/internal/config"
	otel "github.com/glkeru/washloyalty/observability/otel"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	// config
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// log
	logger, err := app.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// tracing
	shutdown, err := otel.InitTracer(ctx, cfg.OtelEndpoint, "washloyalty")
	if err != nil {
		logger.Error("tracing is disabled", zap.Error(err))
	} else {
		defer shutdown()
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error(err.Error())
		panic(err)
	}
	defer a.Close()

	// api handlers
	r := api.NewHandler(a.Service, logger)
	srv := &http.Server{
		Handler:      otelhttp.NewHandler(r, "washloyalty"),
		Addr:         ":" + cfg.HTTPPort,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// grpc health
	lis, err := net.Listen("tcp", "0.0.0.0:"+cfg.GRPCPort)
	if err != nil {
		panic(err)
	}
	grpcServer := grpc.NewServer()
	hs := health.NewHealthService(a.Storage, logger)
	hs.Register(grpcServer)
	go hs.Run(ctx, 10*time.Second)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("gRPC server failed: %v", err)
		}
	}()

	// shutdown
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	cancel()
	timeout, tcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer tcancel()
	err = srv.Shutdown(timeout)
	if err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()
}
