// Package app wires the monitoring core shared by the api, worker and
// scheduler binaries.
package app

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/activity"
	"github.com/leozw/monitrix/internal/checks"
	"github.com/leozw/monitrix/internal/config"
	"github.com/leozw/monitrix/internal/db"
	"github.com/leozw/monitrix/internal/evaluator"
	"github.com/leozw/monitrix/internal/metrics"
	"github.com/leozw/monitrix/internal/notify"
	"github.com/leozw/monitrix/internal/registry"
	"github.com/leozw/monitrix/internal/scheduler"
	"github.com/leozw/monitrix/internal/storage/redis"
)

type App struct {
	DB        *sqlx.DB
	Repo      *db.Repository
	Cache     *redis.Client
	Metrics   *metrics.Collector
	Evaluator *evaluator.Evaluator
	Scheduler *scheduler.Scheduler
	Registry  *registry.Registry
	logger    *zap.Logger
}

// New connects to Postgres (and Redis when configured) and builds every
// component. Close releases the connections.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	database, err := db.NewConnection(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(database, logger); err != nil {
			database.Close()
			return nil, err
		}
	}

	a := &App{
		DB:      database,
		Repo:    db.NewRepository(database, logger),
		Metrics: metrics.NewCollector(),
		logger:  logger,
	}
	if cfg.Redis.URL != "" {
		a.Cache = redis.NewClient(cfg.Redis.URL)
	}

	activityLog := activity.NewLogger(a.Repo, logger)

	a.Evaluator = evaluator.New(a.Repo, a.Repo, activityLog, logger,
		evaluator.WithNotifier(notify.NewFromConfig(cfg.Notify, logger)),
		evaluator.WithRecorder(a.Metrics),
	)

	schedOpts := []scheduler.Option{scheduler.WithRecorder(a.Metrics)}
	if a.Cache != nil {
		schedOpts = append(schedOpts, scheduler.WithLocker(a.Cache))
	}
	probes := checks.NewDefaultSet(cfg.Probes, a.Repo, a.Repo, logger)
	a.Scheduler, err = scheduler.NewScheduler(cfg.Scheduler, a.Repo, probes, a.Evaluator, logger, schedOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	regOpts := []registry.Option{registry.WithLoadTimeBudget(cfg.Probes.LoadTimeBudget)}
	if a.Cache != nil {
		regOpts = append(regOpts, registry.WithStatusCache(a.Cache))
	}
	a.Registry = registry.New(a.Repo, checks.NewHTTPChecker(cfg.Probes), activityLog, logger, regOpts...)

	return a, nil
}

func (a *App) Close() {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.logger.Warn("Failed to close redis", zap.Error(err))
		}
	}
	if err := a.DB.Close(); err != nil {
		a.logger.Warn("Failed to close database", zap.Error(err))
	}
}
