package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	httptransport "github.com/spec-kit/sorting-kiosk/internal/api/http"
	"github.com/spec-kit/sorting-kiosk/internal/client"
	"github.com/spec-kit/sorting-kiosk/internal/config"
	"github.com/spec-kit/sorting-kiosk/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kiosk, err := client.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start client layer", zap.Error(err))
	}
	defer kiosk.Close()

	app := httptransport.NewApp(kiosk)

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()
	logger.Info("kiosk agent listening", zap.String("addr", cfg.App.Addr()))

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
