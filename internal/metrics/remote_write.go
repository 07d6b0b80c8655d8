package metrics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/config"
)

const pushPath = "/api/v1/push"

// RemoteWriter periodically pushes owner-labelled series to a Mimir
// compatible endpoint, one write request per owner. Series without an
// owner label stay scrape-only.
type RemoteWriter struct {
	cfg      config.MimirConfig
	gatherer prometheus.Gatherer
	client   *resty.Client
	logger   *zap.Logger
	now      func() time.Time
}

func NewRemoteWriter(cfg config.MimirConfig, gatherer prometheus.Gatherer, logger *zap.Logger) *RemoteWriter {
	if cfg.TenantHeader == "" {
		cfg.TenantHeader = "X-Scope-OrgID"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/x-protobuf").
		SetHeader("Content-Encoding", "snappy").
		SetHeader("X-Prometheus-Remote-Write-Version", "0.1.0")
	if cfg.AuthToken != "" {
		client.SetAuthToken(cfg.AuthToken)
	}

	return &RemoteWriter{
		cfg:      cfg,
		gatherer: gatherer,
		client:   client,
		logger:   logger,
		now:      time.Now,
	}
}

// Start flushes every FlushInterval until ctx is cancelled.
func (w *RemoteWriter) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				w.logger.Error("Remote write failed", zap.Error(err))
			}
		}
	}
}

func (w *RemoteWriter) Flush(ctx context.Context) error {
	mfs, err := w.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	byOwner := groupByOwner(toTimeSeries(mfs, w.now()))
	for owner, series := range byOwner {
		for i := 0; i < len(series); i += w.cfg.BatchSize {
			end := min(i+w.cfg.BatchSize, len(series))
			if err := w.send(ctx, owner, series[i:end]); err != nil {
				return fmt.Errorf("failed to send batch for owner %s: %w", owner, err)
			}
		}
	}
	return nil
}

func (w *RemoteWriter) send(ctx context.Context, owner string, series []prompb.TimeSeries) error {
	req := &prompb.WriteRequest{Timeseries: series}
	data, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader(w.cfg.TenantHeader, owner).
		SetBody(snappy.Encode(nil, data)).
		Post(pushPath)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("remote write failed with status %d", resp.StatusCode())
	}
	return nil
}

func toTimeSeries(mfs []*dto.MetricFamily, now time.Time) []prompb.TimeSeries {
	ts := now.UnixMilli()
	var out []prompb.TimeSeries

	sample := func(name string, labels []prompb.Label, value float64, extra ...prompb.Label) {
		ls := make([]prompb.Label, 0, len(labels)+len(extra)+1)
		ls = append(ls, prompb.Label{Name: "__name__", Value: name})
		ls = append(ls, labels...)
		ls = append(ls, extra...)
		out = append(out, prompb.TimeSeries{
			Labels:  ls,
			Samples: []prompb.Sample{{Value: value, Timestamp: ts}},
		})
	}

	for _, mf := range mfs {
		name := mf.GetName()
		for _, m := range mf.Metric {
			labels := make([]prompb.Label, 0, len(m.Label))
			for _, l := range m.Label {
				labels = append(labels, prompb.Label{Name: l.GetName(), Value: l.GetValue()})
			}

			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				sample(name, labels, m.Counter.GetValue())
			case dto.MetricType_GAUGE:
				sample(name, labels, m.Gauge.GetValue())
			case dto.MetricType_HISTOGRAM:
				h := m.Histogram
				for _, b := range h.Bucket {
					sample(name+"_bucket", labels, float64(b.GetCumulativeCount()),
						prompb.Label{Name: "le", Value: fmt.Sprintf("%g", b.GetUpperBound())})
				}
				sample(name+"_bucket", labels, float64(h.GetSampleCount()),
					prompb.Label{Name: "le", Value: fmt.Sprintf("%g", math.Inf(1))})
				sample(name+"_sum", labels, h.GetSampleSum())
				sample(name+"_count", labels, float64(h.GetSampleCount()))
			}
		}
	}
	return out
}

func groupByOwner(series []prompb.TimeSeries) map[string][]prompb.TimeSeries {
	out := make(map[string][]prompb.TimeSeries)
	for _, ts := range series {
		for _, l := range ts.Labels {
			if l.Name == OwnerLabel && l.Value != "" {
				out[l.Value] = append(out[l.Value], ts)
				break
			}
		}
	}
	return out
}
