// Перевыпуск кода клиента: reissue <customer-id>
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	app "github.com/glkeru/washloyalty/internal/app"
	config "github.com/glkeru/washloyalty/internal/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: reissue <customer-id>")
		os.Exit(2)
	}
	customerID, err := uuid.Parse(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid customer id: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := app.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		panic(err)
	}
	defer a.Close()

	code, err := a.Service.ReissueCustomerCode(ctx, customerID)
	if err != nil {
		logger.Error("reissue", zap.String("customer", customerID.String()), zap.Error(err))
		os.Exit(1)
	}
	fmt.Println(code)
}
