// Job - погашение наград из RabbitMQ с подтверждением в очередь redeem_confirms
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	app "github.com/glkeru/washloyalty/internal/app"
	config "github.com/glkeru/washloyalty/internal/config"
	rabbit "github.com/glkeru/washloyalty/internal/external/rabbitmq"
	model "github.com/glkeru/washloyalty/internal/models"
	services "github.com/glkeru/washloyalty/internal/services"
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

	// rabbitmq
	reader, err := rabbit.NewRabbitConsumer(cfg.RabbitURL)
	if err != nil {
		logger.Error(err.Error())
		panic(err)
	}
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error(err.Error())
		panic(err)
	}
	defer a.Close()

	// os signals
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		cancel()
	}()

	// workers
	wg := &sync.WaitGroup{}
	wg.Add(cfg.RedeemWorkers)
	for i := 0; i < cfg.RedeemWorkers; i++ {
		go worker(ctx, a.Service, wg, logger, reader)
	}
	wg.Wait()
}

// worker for rabbitmq messages
func worker(ctx context.Context, serv *services.LoyaltyService, wg *sync.WaitGroup, logger *zap.Logger, reader *rabbit.RabbitConsumer) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-reader.Msg:
			if !ok {
				return
			}
			req, err := rabbit.ParseRedeemRequest(msg.Body)
			if err != nil {
				logger.Error("redeem request", zap.Error(err))
				continue
			}
			confirm := rabbit.RedeemConfirm{RequestID: req.RequestID, Success: true}
			_, err = serv.RedeemReward(ctx, req.MerchantID, req.RewardCode)
			if err != nil {
				confirm.Success = false
				confirm.Reason = "internal"
				if e, ok := model.AsEngineError(err); ok {
					confirm.Reason = string(e.Reason)
				}
			}
			if err := reader.Processed(ctx, confirm); err != nil {
				logger.Error("redeem confirm", zap.Error(err))
			}
		}
	}
}
