package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leozw/monitrix/internal/checks"
	"github.com/leozw/monitrix/internal/config"
	"github.com/leozw/monitrix/internal/core"
	"github.com/leozw/monitrix/internal/evaluator"
)

var (
	ErrJobRunning = errors.New("job is already running")
	ErrLocked     = errors.New("job is running on another instance")
	ErrUnknownJob = errors.New("no job scheduled for kind")
	ErrNotActive  = errors.New("resource is not active")
)

// DefaultJobs runs the registry checks at night and websites every five
// minutes.
var DefaultJobs = map[core.ResourceKind]string{
	core.KindBlacklist: "0 1 * * *",
	core.KindSSL:       "0 2 * * *",
	core.KindDomain:    "0 3 * * *",
	core.KindWebsite:   "*/5 * * * *",
}

type ResourceSource interface {
	FindActiveByKind(ctx context.Context, kind core.ResourceKind) ([]core.Resource, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, res *core.Resource, probe core.ProbeResult) (*evaluator.Outcome, error)
}

// Locker guards a job across instances. acquired is false when another
// holder owns the key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error)
}

type Recorder interface {
	RecordTick(r *TickResult)
}

type Option func(*Scheduler)

func WithLocker(l Locker) Option { return func(s *Scheduler) { s.locker = l } }

func WithRecorder(r Recorder) Option { return func(s *Scheduler) { s.recorder = r } }

type Scheduler struct {
	resources    ResourceSource
	prober       checks.Prober
	evaluator    Evaluator
	locker       Locker
	recorder     Recorder
	logger       *zap.Logger
	cron         *cron.Cron
	jobs         map[core.ResourceKind]*Job
	checkTimeout time.Duration
	ratePerSec   float64
	lockTTL      time.Duration
}

func NewScheduler(cfg config.SchedulerConfig, resources ResourceSource, prober checks.Prober, eval Evaluator, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid scheduler timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	cl := cronLogger{logger.Sugar()}
	s := &Scheduler{
		resources:    resources,
		prober:       prober,
		evaluator:    eval,
		logger:       logger,
		cron:         cron.New(cron.WithLocation(loc), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		jobs:         make(map[core.ResourceKind]*Job),
		checkTimeout: cfg.CheckTimeout,
		ratePerSec:   cfg.RatePerSec,
		lockTTL:      cfg.LockTTL,
	}
	if s.checkTimeout <= 0 {
		s.checkTimeout = time.Minute
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 30 * time.Minute
	}
	for _, opt := range opts {
		opt(s)
	}

	specs := make(map[core.ResourceKind]string, len(DefaultJobs))
	for kind, spec := range DefaultJobs {
		specs[kind] = spec
	}
	for name, spec := range cfg.Jobs {
		kind := core.ResourceKind(name)
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: scheduler job %q", core.ErrInvalidKind, name)
		}
		specs[kind] = spec
	}

	for kind, spec := range specs {
		if spec == "" || spec == "-" {
			continue
		}
		job := &Job{Kind: kind, Spec: spec, state: StateIdle}
		id, err := s.cron.AddFunc(spec, s.cronFunc(kind))
		if err != nil {
			return nil, fmt.Errorf("invalid cron spec %q for %s: %w", spec, kind, err)
		}
		job.entryID = id
		s.jobs[kind] = job
	}
	return s, nil
}

// Start runs the cron loop until ctx is cancelled, then waits for running
// jobs to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler", zap.Int("jobs", len(s.jobs)))
	for _, j := range s.Jobs() {
		s.logger.Info("Scheduled job", zap.String("job", string(j.Kind)), zap.String("spec", j.Spec))
	}
	s.cron.Start()

	<-ctx.Done()
	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) cronFunc(kind core.ResourceKind) func() {
	return func() {
		// Cron ticks are not tied to a request; each gets a fresh context.
		result, err := s.RunOnce(context.Background(), kind)
		switch {
		case errors.Is(err, ErrJobRunning), errors.Is(err, ErrLocked):
			s.logger.Warn("Skipping tick", zap.String("job", string(kind)), zap.Error(err))
		case err != nil:
			s.logger.Error("Tick failed", zap.String("job", string(kind)), zap.Error(err))
		default:
			s.logger.Info("Tick completed",
				zap.String("job", string(kind)),
				zap.String("state", string(result.State)),
				zap.Int("total", result.Total),
				zap.Int("failed", result.Failed),
				zap.Duration("duration", result.Finished.Sub(result.Started)))
		}
	}
}

// RunOnce runs one tick of the job for kind. A tick already in progress, on
// this instance or (with a Locker) another one, is not started again.
func (s *Scheduler) RunOnce(ctx context.Context, kind core.ResourceKind) (*TickResult, error) {
	job, ok := s.jobs[kind]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownJob, kind)
	}
	if !job.begin() {
		return nil, ErrJobRunning
	}

	result := &TickResult{Kind: kind, Started: time.Now()}
	err := s.runLocked(ctx, kind, result)
	result.Finished = time.Now()
	if errors.Is(err, ErrLocked) {
		// Another instance ran this tick.
		job.finish(nil)
		return result, err
	}
	result.State = StateSuccess
	if err != nil || result.Failed > 0 {
		result.State = StatePartialFailure
	}
	job.finish(result)
	if s.recorder != nil {
		s.recorder.RecordTick(result)
	}
	return result, err
}

func (s *Scheduler) runLocked(ctx context.Context, kind core.ResourceKind, result *TickResult) error {
	if s.locker == nil {
		return s.tick(ctx, kind, result)
	}
	unlock, acquired, err := s.locker.TryLock(ctx, "monitrix:job:"+string(kind), s.lockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire job lock: %w", err)
	}
	if !acquired {
		return ErrLocked
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release job lock", zap.String("job", string(kind)), zap.Error(err))
		}
	}()
	return s.tick(ctx, kind, result)
}

// tick probes and evaluates every active resource of kind in turn. A failure
// to list resources fails the tick; a failing resource is logged and skipped.
func (s *Scheduler) tick(ctx context.Context, kind core.ResourceKind, result *TickResult) error {
	resources, err := s.resources.FindActiveByKind(ctx, kind)
	if err != nil {
		return fmt.Errorf("failed to get %s resources: %w", kind, err)
	}
	result.Total = len(resources)

	var limiter *rate.Limiter
	if s.ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.ratePerSec), 1)
	}

	for i := range resources {
		res := &resources[i]
		if res.Status != core.StatusActive || res.DeletedAt != nil {
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("tick interrupted: %w", err)
			}
		}

		start := time.Now()
		out, err := s.check(ctx, res)
		if err != nil {
			result.Failed++
			s.logger.Error("Failed to check resource",
				zap.String("job", string(kind)),
				zap.Int64("resource_id", res.ID),
				zap.String("url", res.URL),
				zap.Error(err))
			continue
		}
		result.Checked++
		if out.Skipped {
			result.Skipped++
		}
		s.logger.Debug("Check completed",
			zap.Int64("resource_id", res.ID),
			zap.String("alert_status", string(out.AlertStatus)),
			zap.Duration("duration", time.Since(start)))
	}
	return nil
}

func (s *Scheduler) check(ctx context.Context, res *core.Resource) (out *evaluator.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while checking resource: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.checkTimeout)
	defer cancel()

	probe := s.prober.Probe(ctx, res)
	return s.evaluator.Evaluate(ctx, res, probe)
}

// CheckNow probes and evaluates one resource outside its job's schedule.
func (s *Scheduler) CheckNow(ctx context.Context, res *core.Resource) (*evaluator.Outcome, error) {
	if res.Status != core.StatusActive || res.DeletedAt != nil {
		return nil, fmt.Errorf("%w: status %s", ErrNotActive, res.Status)
	}
	return s.check(ctx, res)
}

// Jobs returns a snapshot of every scheduled job, ordered by kind.
func (s *Scheduler) Jobs() []JobStatus {
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.status(s.cron.Entry(j.entryID).Next))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Kind < out[k].Kind })
	return out
}

type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
