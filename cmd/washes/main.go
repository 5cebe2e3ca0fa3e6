// Job - запись моек из Kafka (подтвержденные оператором сканы)
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	app "github.com/glkeru/washloyalty/internal/app"
	config "github.com/glkeru/washloyalty/internal/config"
	kafka "github.com/glkeru/washloyalty/internal/external/kafka"
	model "github.com/glkeru/washloyalty/internal/models"
	"go.uber.org/zap"
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

	// kafka
	reader, err := kafka.GetNewReader(cfg.KafkaBrokers, cfg.KafkaWashesTopic, cfg.KafkaGroup)
	if err != nil {
		panic(err)
	}
	defer reader.CloseReader()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		panic(err)
	}
	defer a.Close()
	serv := a.Service

	// start
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		cancel()
	}()

	wg := &sync.WaitGroup{}
	semaphore := make(chan struct{}, cfg.WashWorkers)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		default:
			wash, err := reader.GetNewMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					break loop
				}
				// битое сообщение пропускаем
				logger.Error("wash message", zap.Error(err))
				continue
			}

			semaphore <- struct{}{}
			wg.Add(1)
			go func(wash *kafka.WashMessage) {
				defer wg.Done()
				defer func() { <-semaphore }()
				_, err := serv.RecordWash(ctx, wash.MerchantID, wash.CustomerCode, wash.Service, wash.Price)
				if err != nil {
					if _, ok := model.AsEngineError(err); ok || errors.Is(err, context.Canceled) {
						return
					}
					logger.Error("record wash",
						zap.String("merchant", wash.MerchantID.String()),
						zap.Error(err),
					)
				}
			}(wash)
		}
	}
	wg.Wait()
}
