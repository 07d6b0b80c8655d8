package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/leozw/monitrix/internal/core"
	"github.com/leozw/monitrix/internal/evaluator"
	"github.com/leozw/monitrix/internal/rules"
	"github.com/leozw/monitrix/internal/scheduler"
)

// OwnerLabel partitions series per tenant for remote write.
const OwnerLabel = "owner_id"

type Collector struct {
	registry *prometheus.Registry
	now      func() time.Time

	// Per resource
	alertStatus     *prometheus.GaugeVec
	lastCheck       *prometheus.GaugeVec
	responseCode    *prometheus.GaugeVec
	loadTime        *prometheus.GaugeVec
	daysUntilExpiry *prometheus.GaugeVec
	blacklistListed *prometheus.GaugeVec

	// Incidents
	incidentsOpened   *prometheus.CounterVec
	incidentsResolved *prometheus.CounterVec

	// Pipeline
	evaluationsTotal *prometheus.CounterVec
	ticksTotal       *prometheus.CounterVec
	tickDuration     *prometheus.HistogramVec
	tickResources    *prometheus.GaugeVec
}

var resourceLabels = []string{OwnerLabel, "resource_id", "kind", "target"}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		now:      time.Now,

		alertStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "monitrix_resource_alert_status",
				Help: "Derived alert status of the resource: 0 up, 1 alert, 2 down",
			},
			resourceLabels,
		),

		lastCheck: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "monitrix_resource_last_check_timestamp_seconds",
				Help: "Unix time of the last evaluation",
			},
			resourceLabels,
		),

		responseCode: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "monitrix_http_response_code",
				Help: "HTTP response code of the last website probe",
			},
			resourceLabels,
		),

		loadTime: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "monitrix_http_load_time_seconds",
				Help: "Load time of the last website probe in seconds",
			},
			resourceLabels,
		),

		daysUntilExpiry: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "monitrix_days_until_expiry",
				Help: "Whole days until the domain registration or certificate expires",
			},
			resourceLabels,
		),

		blacklistListed: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "monitrix_blacklist_listed",
				Help: "Number of DNSBL providers listing the target",
			},
			resourceLabels,
		),

		incidentsOpened: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitrix_incidents_opened_total",
				Help: "Incidents opened",
			},
			[]string{OwnerLabel, "kind", "metric_type"},
		),

		incidentsResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitrix_incidents_resolved_total",
				Help: "Incidents resolved",
			},
			[]string{OwnerLabel, "kind", "metric_type"},
		),

		evaluationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitrix_evaluations_total",
				Help: "Evaluations performed by kind and result",
			},
			[]string{"kind", "result"},
		),

		ticksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitrix_scheduler_ticks_total",
				Help: "Scheduler ticks by kind and final state",
			},
			[]string{"kind", "state"},
		),

		tickDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "monitrix_scheduler_tick_duration_seconds",
				Help:    "Wall time of a scheduler tick",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900},
			},
			[]string{"kind"},
		),

		tickResources: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "monitrix_scheduler_tick_resources",
				Help: "Resources handled by the last tick, by outcome",
			},
			[]string{"kind", "outcome"},
		),
	}
}

// Registry exposes the collector's registry for scraping and remote write.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) RecordEvaluation(res *core.Resource, out *evaluator.Outcome) {
	kind := string(res.Kind)
	owner := strconv.FormatInt(res.OwnerID, 10)
	labels := prometheus.Labels{
		OwnerLabel:    owner,
		"resource_id": strconv.FormatInt(res.ID, 10),
		"kind":        kind,
		"target":      res.URL,
	}

	switch {
	case out.Skipped:
		c.evaluationsTotal.WithLabelValues(kind, "skipped").Inc()
	case out.ProbeError != nil:
		c.evaluationsTotal.WithLabelValues(kind, "probe_error").Inc()
	default:
		c.evaluationsTotal.WithLabelValues(kind, "ok").Inc()
	}

	for _, inc := range out.Opened {
		c.incidentsOpened.WithLabelValues(owner, kind, string(inc.MetricType)).Inc()
	}
	for _, r := range out.Closed {
		c.incidentsResolved.WithLabelValues(owner, kind, string(r.MetricType)).Inc()
	}

	if out.Skipped {
		return
	}

	c.alertStatus.With(labels).Set(severity(out.AlertStatus))
	c.lastCheck.With(labels).Set(float64(c.now().Unix()))

	m := res.LastMeasurement
	if m == nil || out.ProbeError != nil {
		return
	}
	switch res.Kind {
	case core.KindWebsite:
		c.responseCode.With(labels).Set(float64(m.StatusCode))
		c.loadTime.With(labels).Set(m.LoadTime)
	case core.KindDomain, core.KindSSL:
		if m.ExpiresAt != nil {
			c.daysUntilExpiry.With(labels).Set(float64(rules.DaysUntil(*m.ExpiresAt, c.now())))
		}
	case core.KindBlacklist:
		c.blacklistListed.With(labels).Set(float64(m.ListedCount()))
	}
}

func (c *Collector) RecordTick(t *scheduler.TickResult) {
	kind := string(t.Kind)
	c.ticksTotal.WithLabelValues(kind, string(t.State)).Inc()
	c.tickDuration.WithLabelValues(kind).Observe(t.Finished.Sub(t.Started).Seconds())
	c.tickResources.WithLabelValues(kind, "checked").Set(float64(t.Checked))
	c.tickResources.WithLabelValues(kind, "skipped").Set(float64(t.Skipped))
	c.tickResources.WithLabelValues(kind, "failed").Set(float64(t.Failed))
}

func severity(s core.AlertStatus) float64 {
	switch s {
	case core.AlertDown:
		return 2
	case core.AlertAlert:
		return 1
	}
	return 0
}
