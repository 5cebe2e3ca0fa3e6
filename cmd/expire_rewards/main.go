// Job - перевод просроченных наград в expired и повторная отправка уведомлений
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "github.com/glkeru/washloyalty/internal/app"
	config "github.com/glkeru/washloyalty/internal/config"
	"go.uber.org/zap"
)

const (
	interval       = time.Minute
	redeliverLimit = 500
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

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		panic(err)
	}
	defer a.Close()
	serv := a.Service

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		expired, err := serv.ExpireOverdueRewards(ctx)
		if err != nil {
			logger.Error("expire rewards", zap.Error(err))
		} else if expired > 0 {
			logger.Info("rewards expired", zap.Int64("count", expired))
		}

		sent, err := serv.RedeliverNotifications(ctx, redeliverLimit)
		if err != nil {
			logger.Error("redeliver notifications", zap.Error(err))
		}
		if sent > 0 {
			logger.Info("notifications redelivered", zap.Int("count", sent))
		}

		select {
		case <-interrupt:
			return
		case <-ticker.C:
		}
	}
}
