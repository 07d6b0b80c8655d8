// Package evaluator turns probe results into rule counters, incidents,
// resolutions and the derived alert status of a resource.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/core"
	"github.com/leozw/monitrix/internal/rules"
)

type ResourceStore interface {
	FindRules(ctx context.Context, resourceID int64) ([]core.Rule, error)
	UpdateRuleCounters(ctx context.Context, rules []core.Rule) error
	UpdateAlertState(ctx context.Context, resourceID int64, state core.AlertState) error
}

// IncidentStore persists incidents. FindOpenIncident returns core.ErrNotFound
// when no incident is open for the metric. CloseIncident flips the incident
// and inserts its resolution atomically, filling in the resolution's ID.
type IncidentStore interface {
	FindOpenIncident(ctx context.Context, resourceID int64, metric core.MetricType) (*core.Incident, error)
	OpenIncident(ctx context.Context, inc *core.Incident) error
	CloseIncident(ctx context.Context, inc *core.Incident, res *core.Resolution) error
}

// ActivityLog never fails the caller; a non-empty return is a soft error.
type ActivityLog interface {
	Append(ctx context.Context, entry core.ActivityLogEntry) string
}

type Notification struct {
	Resource *core.Resource
	Status   core.AlertStatus
	Targets  []string
	Opened   []core.Incident
	Closed   []core.Resolution
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Recorder receives every completed evaluation, e.g. for metrics export.
type Recorder interface {
	RecordEvaluation(res *core.Resource, out *Outcome)
}

type Outcome struct {
	ResourceID  int64
	AlertStatus core.AlertStatus
	Changed     bool
	Skipped     bool
	ProbeError  error
	Verdicts    []rules.Verdict
	Opened      []core.Incident
	Closed      []core.Resolution
}

type Option func(*Evaluator)

func WithNotifier(n Notifier) Option { return func(e *Evaluator) { e.notifier = n } }

func WithRecorder(r Recorder) Option { return func(e *Evaluator) { e.recorder = r } }

func WithClock(now func() time.Time) Option { return func(e *Evaluator) { e.now = now } }

type Evaluator struct {
	resources ResourceStore
	incidents IncidentStore
	activity  ActivityLog
	notifier  Notifier
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time
}

func New(resources ResourceStore, incidents IncidentStore, activity ActivityLog, logger *zap.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		resources: resources,
		incidents: incidents,
		activity:  activity,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate applies the resource's rules to one probe result.
//
// A failed probe of a website or ssl resource counts as a Down breach of
// every rule, still subject to debouncing. A failed domain or blacklist probe
// changes nothing: counters, incidents and the last measurement are kept.
func (e *Evaluator) Evaluate(ctx context.Context, res *core.Resource, probe core.ProbeResult) (*Outcome, error) {
	log := e.logger.With(
		zap.Int64("resource_id", res.ID),
		zap.String("kind", string(res.Kind)),
	)
	out := &Outcome{ResourceID: res.ID, AlertStatus: current(res), ProbeError: probe.Err}

	if !probe.OK() && !failureIsBreach(res.Kind) {
		log.Warn("probe failed, keeping previous state", zap.Error(probe.Err))
		out.Skipped = true
		return out, nil
	}

	ruleSet, err := e.resources.FindRules(ctx, res.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	now := e.now()
	var active []core.AlertStatus
	for i := range ruleSet {
		rule := &ruleSet[i]

		verdict, err := e.verdict(*rule, probe, now)
		if err != nil {
			log.Error("rule skipped", zap.String("metric_type", string(rule.MetricType)), zap.Error(err))
			continue
		}
		out.Verdicts = append(out.Verdicts, verdict)

		if !verdict.Breached {
			rule.OccurrencesCounter = 0
			resolution, err := e.resolve(ctx, res, rule, verdict, now)
			if err != nil {
				return nil, err
			}
			if resolution != nil {
				out.Closed = append(out.Closed, *resolution)
			}
			continue
		}

		rule.OccurrencesCounter++
		if rule.OccurrencesCounter < rule.RequiredOccurrences {
			// A replaced rule starts counting again while its incident stays open.
			open, err := e.hasOpenIncident(ctx, res.ID, rule.MetricType)
			if err != nil {
				return nil, err
			}
			if open {
				active = append(active, verdict.Outcome)
			}
			continue
		}
		active = append(active, verdict.Outcome)

		incident, err := e.open(ctx, res, rule, verdict, now)
		if err != nil {
			return nil, err
		}
		if incident != nil {
			out.Opened = append(out.Opened, *incident)
		}
	}

	if err := e.resources.UpdateRuleCounters(ctx, ruleSet); err != nil {
		return nil, fmt.Errorf("failed to update rule counters: %w", err)
	}

	status := core.MostSevere(active...)
	measurement := res.LastMeasurement
	if probe.OK() {
		measurement = probe.Measurement
	}
	state := core.AlertState{AlertStatus: status, LastCheckTime: now, LastMeasurement: measurement}
	if err := e.resources.UpdateAlertState(ctx, res.ID, state); err != nil {
		return nil, fmt.Errorf("failed to update alert state: %w", err)
	}

	previous := res.AlertStatus
	out.AlertStatus = status
	out.Changed = previous == nil || *previous != status
	res.AlertStatus = status.Ptr()
	res.LastCheckTime = &now
	res.LastMeasurement = measurement

	if out.Changed && (previous != nil || status != core.AlertUp) {
		e.logTransition(ctx, res, previous, out)
	}
	e.notify(ctx, res, ruleSet, out)
	if e.recorder != nil {
		e.recorder.RecordEvaluation(res, out)
	}

	log.Debug("resource evaluated",
		zap.String("alert_status", string(status)),
		zap.Int("opened", len(out.Opened)),
		zap.Int("closed", len(out.Closed)))
	return out, nil
}

func (e *Evaluator) verdict(rule core.Rule, probe core.ProbeResult, now time.Time) (rules.Verdict, error) {
	if probe.OK() {
		return rules.Check(rule, probe.Measurement, now)
	}
	return rules.Verdict{
		MetricType: rule.MetricType,
		Breached:   true,
		Outcome:    core.AlertDown,
		Message:    fmt.Sprintf("unreachable: %v", probe.Err),
	}, nil
}

func (e *Evaluator) hasOpenIncident(ctx context.Context, resourceID int64, metric core.MetricType) (bool, error) {
	_, err := e.incidents.FindOpenIncident(ctx, resourceID, metric)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get open incident: %w", err)
	}
	return true, nil
}

// open creates an incident unless one is already open for the metric.
func (e *Evaluator) open(ctx context.Context, res *core.Resource, rule *core.Rule, v rules.Verdict, now time.Time) (*core.Incident, error) {
	_, err := e.incidents.FindOpenIncident(ctx, res.ID, rule.MetricType)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("failed to get open incident: %w", err)
	}

	inc := &core.Incident{
		ResourceID:  res.ID,
		MetricType:  rule.MetricType,
		Comparison:  rule.Operator,
		LimitAtTime: rule.Limit,
		Message:     v.Message,
		IsOccurred:  1,
		CreatedAt:   now,
	}
	if err := e.incidents.OpenIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}

	e.logger.Info("Created new incident",
		zap.Int64("incident_id", inc.ID),
		zap.Int64("resource_id", res.ID),
		zap.String("metric_type", string(rule.MetricType)),
		zap.String("message", inc.Message))
	return inc, nil
}

// resolve closes the open incident for the metric, if any.
func (e *Evaluator) resolve(ctx context.Context, res *core.Resource, rule *core.Rule, v rules.Verdict, now time.Time) (*core.Resolution, error) {
	inc, err := e.incidents.FindOpenIncident(ctx, res.ID, rule.MetricType)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open incident: %w", err)
	}

	resolution := &core.Resolution{
		ResourceID: res.ID,
		IncidentID: inc.ID,
		MetricType: rule.MetricType,
		Message:    resolvedMessage(rule.MetricType, v),
		CreatedAt:  now,
	}
	if err := e.incidents.CloseIncident(ctx, inc, resolution); err != nil {
		return nil, fmt.Errorf("failed to resolve incident: %w", err)
	}

	e.logger.Info("Resolved incident",
		zap.Int64("incident_id", inc.ID),
		zap.Int64("resource_id", res.ID),
		zap.String("metric_type", string(rule.MetricType)),
		zap.Duration("open_for", now.Sub(inc.CreatedAt)))
	return resolution, nil
}

func (e *Evaluator) logTransition(ctx context.Context, res *core.Resource, previous *core.AlertStatus, out *Outcome) {
	from := "none"
	if previous != nil {
		from = string(*previous)
	}
	msg := fmt.Sprintf("%s %s changed from %s to %s", core.ServiceTag(res.Kind), res.URL, from, out.AlertStatus)
	if len(out.Opened) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, out.Opened[0].Message)
	}

	entry := core.ActivityLogEntry{
		UserID:  res.OwnerID,
		Browser: "scheduler",
		Time:    e.now(),
		MessageDetails: core.MessageDetails{
			Status:  string(out.AlertStatus),
			Message: msg,
			Services: core.ServiceLogEntry{
				Tag:      core.ServiceTag(res.Kind),
				Value:    res.URL,
				Identity: res.ID,
			},
		},
	}
	if soft := e.activity.Append(ctx, entry); soft != "" {
		e.logger.Warn("activity log append failed", zap.Int64("resource_id", res.ID), zap.String("error", soft))
	}
}

// notify sends one notification per evaluation that opened or closed
// incidents, only when the owner enabled mail alerts. Targets may be empty;
// the notifier may still have its own default destination.
func (e *Evaluator) notify(ctx context.Context, res *core.Resource, ruleSet []core.Rule, out *Outcome) {
	if e.notifier == nil || !res.Settings.MailAlerts {
		return
	}
	if len(out.Opened) == 0 && len(out.Closed) == 0 {
		return
	}

	touched := make(map[core.MetricType]bool)
	for _, inc := range out.Opened {
		touched[inc.MetricType] = true
	}
	for _, r := range out.Closed {
		touched[r.MetricType] = true
	}

	seen := make(map[string]bool)
	var targets []string
	add := func(ts []string) {
		for _, t := range ts {
			if t != "" && !seen[t] {
				seen[t] = true
				targets = append(targets, t)
			}
		}
	}
	for _, r := range ruleSet {
		if touched[r.MetricType] {
			add(r.NotifyTargets)
		}
	}
	add(res.Settings.NotifyTargets)

	n := Notification{Resource: res, Status: out.AlertStatus, Targets: targets, Opened: out.Opened, Closed: out.Closed}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Error("Failed to send notification", zap.Int64("resource_id", res.ID), zap.Error(err))
	}
}

func current(res *core.Resource) core.AlertStatus {
	if res.AlertStatus == nil {
		return core.AlertUp
	}
	return *res.AlertStatus
}

// Sites fora do ar contam como violação; registros WHOIS/DNSBL instáveis não.
func failureIsBreach(kind core.ResourceKind) bool {
	return kind == core.KindWebsite || kind == core.KindSSL
}

func resolvedMessage(metric core.MetricType, v rules.Verdict) string {
	switch metric {
	case core.MetricLoadTime:
		return fmt.Sprintf("load time back to %ss", v.Observed)
	case core.MetricResponseCode:
		return fmt.Sprintf("response code back to %s", v.Observed)
	case core.MetricSearchStringMissing:
		return "search string found again"
	case core.MetricDomainExpiry:
		return fmt.Sprintf("domain renewed, expires in %s days", v.Observed)
	case core.MetricSSLExpiry:
		return fmt.Sprintf("ssl certificate renewed, expires in %s days", v.Observed)
	case core.MetricBlacklistListed:
		return "no longer listed on any blacklist"
	}
	return fmt.Sprintf("%s recovered", metric)
}
