package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/app"
	"github.com/leozw/monitrix/internal/config"
	"github.com/leozw/monitrix/internal/logger"
	"github.com/leozw/monitrix/internal/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup logger
	lg, err := logger.New(cfg.Log, "monitrix-worker")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	monitor, err := app.New(cfg, lg)
	if err != nil {
		lg.Fatal("Failed to initialize", zap.Error(err))
	}
	defer monitor.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	// Start scheduler
	go func() {
		monitor.Scheduler.Start(ctx)
		close(done)
	}()

	// Start metrics exporter
	if cfg.Mimir.URL != "" {
		writer := metrics.NewRemoteWriter(cfg.Mimir, monitor.Metrics.Registry(), lg)
		go writer.Start(ctx)
	} else {
		lg.Info("Mimir URL not set, remote write disabled")
	}

	lg.Info("Worker started", zap.Any("jobs", monitor.Scheduler.Jobs()))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("Shutting down worker...")
	cancel()
	<-done
	lg.Info("Worker exited")
}
