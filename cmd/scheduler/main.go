// Command scheduler runs one tick of a check job and exits. It is meant for
// external schedulers (cron, Kubernetes CronJob) and manual reruns.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/app"
	"github.com/leozw/monitrix/internal/config"
	"github.com/leozw/monitrix/internal/core"
	"github.com/leozw/monitrix/internal/logger"
)

func main() {
	kindFlag := flag.String("kind", "", "resource kind to check: domain, website, ssl or blacklist")
	flag.Parse()

	kind := core.ResourceKind(*kindFlag)
	if !kind.Valid() {
		log.Fatalf("Invalid -kind %q", *kindFlag)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.Log, "monitrix-scheduler")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	if err := run(cfg, lg, kind); err != nil {
		lg.Error("Check run failed", zap.String("kind", string(kind)), zap.Error(err))
		_ = lg.Sync()
		os.Exit(1)
	}
	_ = lg.Sync()
}

func run(cfg *config.Config, lg *zap.Logger, kind core.ResourceKind) error {
	monitor, err := app.New(cfg, lg)
	if err != nil {
		return err
	}
	defer monitor.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := monitor.Scheduler.RunOnce(ctx, kind)
	if err != nil {
		return err
	}

	lg.Info("Check run finished",
		zap.String("kind", string(kind)),
		zap.String("state", string(result.State)),
		zap.Int("total", result.Total),
		zap.Int("checked", result.Checked),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Finished.Sub(result.Started)),
	)
	return nil
}
