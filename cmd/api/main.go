package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/api"
	"github.com/leozw/monitrix/internal/api/handlers"
	"github.com/leozw/monitrix/internal/app"
	"github.com/leozw/monitrix/internal/config"
	"github.com/leozw/monitrix/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.Log, "monitrix-api")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	monitor, err := app.New(cfg, lg)
	if err != nil {
		lg.Fatal("Failed to initialize", zap.Error(err))
	}
	defer monitor.Close()

	var cache handlers.StatusCache
	if monitor.Cache != nil {
		cache = monitor.Cache
	}
	h := handlers.NewHandler(monitor.Registry, monitor.Repo, cache, monitor.Scheduler, lg)
	metricsHandler := promhttp.HandlerFor(monitor.Metrics.Registry(), promhttp.HandlerOpts{})
	server := api.NewServer(cfg, h, metricsHandler, lg)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	lg.Info("API server started", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		lg.Error("Server forced to shutdown", zap.Error(err))
	}

	lg.Info("Server exited")
}
