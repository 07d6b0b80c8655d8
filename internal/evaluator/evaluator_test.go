package evaluator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/core"
)

type memStore struct {
	rules       map[int64][]core.Rule
	states      map[int64]core.AlertState
	incidents   []*core.Incident
	resolutions []core.Resolution
	activity    []core.ActivityLogEntry
	nextID      int64
	failRules   error
}

func newMemStore() *memStore {
	return &memStore{rules: map[int64][]core.Rule{}, states: map[int64]core.AlertState{}}
}

func (m *memStore) FindRules(_ context.Context, id int64) ([]core.Rule, error) {
	if m.failRules != nil {
		return nil, m.failRules
	}
	out := make([]core.Rule, len(m.rules[id]))
	copy(out, m.rules[id])
	return out, nil
}

func (m *memStore) UpdateRuleCounters(_ context.Context, rs []core.Rule) error {
	for _, r := range rs {
		list := m.rules[r.ResourceID]
		for i := range list {
			if list[i].MetricType == r.MetricType {
				list[i].OccurrencesCounter = r.OccurrencesCounter
			}
		}
	}
	return nil
}

func (m *memStore) UpdateAlertState(_ context.Context, id int64, s core.AlertState) error {
	m.states[id] = s
	return nil
}

func (m *memStore) FindOpenIncident(_ context.Context, id int64, metric core.MetricType) (*core.Incident, error) {
	for _, inc := range m.incidents {
		if inc.ResourceID == id && inc.MetricType == metric && inc.Open() {
			return inc, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *memStore) OpenIncident(_ context.Context, inc *core.Incident) error {
	m.nextID++
	inc.ID = m.nextID
	cp := *inc
	m.incidents = append(m.incidents, &cp)
	return nil
}

func (m *memStore) CloseIncident(_ context.Context, inc *core.Incident, res *core.Resolution) error {
	inc.IsOccurred = 0
	closed := res.CreatedAt
	inc.ClosedAt = &closed
	m.nextID++
	res.ID = m.nextID
	m.resolutions = append(m.resolutions, *res)
	return nil
}

func (m *memStore) Append(_ context.Context, e core.ActivityLogEntry) string {
	m.activity = append(m.activity, e)
	return ""
}

func (m *memStore) open() []*core.Incident {
	var out []*core.Incident
	for _, inc := range m.incidents {
		if inc.Open() {
			out = append(out, inc)
		}
	}
	return out
}

type recordingNotifier struct{ sent []Notification }

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

func website(store *memStore, occurrences int) *core.Resource {
	res := &core.Resource{ID: 1, OwnerID: 42, Kind: core.KindWebsite, URL: "https://example.com", Status: core.StatusActive}
	store.rules[res.ID] = []core.Rule{
		{ResourceID: res.ID, MetricType: core.MetricResponseCode, Operator: core.OpNotEqual, Limit: "200", RequiredOccurrences: occurrences},
		{ResourceID: res.ID, MetricType: core.MetricLoadTime, Operator: core.OpGreater, Limit: "2", RequiredOccurrences: occurrences},
	}
	return res
}

func httpResult(status int, load float64) core.ProbeResult {
	return core.Ok(&core.Measurement{StatusCode: status, LoadTime: load})
}

func newEvaluator(store *memStore, opts ...Option) *Evaluator {
	return New(store, store, store, zap.NewNop(), opts...)
}

func TestEvaluate_ScenarioLoadTimeBreachAndRecovery(t *testing.T) {
	store := newMemStore()
	res := website(store, 3)
	e := newEvaluator(store)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		out, err := e.Evaluate(ctx, res, httpResult(200, 3.5))
		require.NoError(t, err)
		assert.Equal(t, core.AlertUp, out.AlertStatus)
		assert.Empty(t, out.Opened)
	}

	out, err := e.Evaluate(ctx, res, httpResult(200, 3.5))
	require.NoError(t, err)
	assert.Equal(t, core.AlertAlert, out.AlertStatus)
	require.Len(t, out.Opened, 1)
	assert.Equal(t, core.MetricLoadTime, out.Opened[0].MetricType)
	require.Len(t, store.open(), 1)
	assert.Equal(t, core.AlertAlert, *res.AlertStatus)
	assert.Equal(t, core.AlertAlert, store.states[res.ID].AlertStatus)

	out, err = e.Evaluate(ctx, res, httpResult(200, 1.2))
	require.NoError(t, err)
	assert.Equal(t, core.AlertUp, out.AlertStatus)
	require.Len(t, out.Closed, 1)
	assert.Empty(t, store.open())
	require.Len(t, store.resolutions, 1)
	assert.Equal(t, core.MetricLoadTime, store.resolutions[0].MetricType)
	assert.Equal(t, store.incidents[0].ID, store.resolutions[0].IncidentID)

	// up -> alert -> up
	require.Len(t, store.activity, 2)
	assert.Equal(t, "alert", store.activity[0].MessageDetails.Status)
	assert.Equal(t, "Website", store.activity[0].MessageDetails.Services.Tag)
	assert.Equal(t, int64(42), store.activity[0].UserID)
}

func TestEvaluate_DebounceResetsOnHealthy(t *testing.T) {
	store := newMemStore()
	res := website(store, 3)
	e := newEvaluator(store)
	ctx := context.Background()

	for _, load := range []float64{3.5, 3.5, 1.0} {
		_, err := e.Evaluate(ctx, res, httpResult(200, load))
		require.NoError(t, err)
	}
	assert.Empty(t, store.incidents)
	for _, r := range store.rules[res.ID] {
		assert.Equal(t, 0, r.OccurrencesCounter, r.MetricType)
	}

	_, err := e.Evaluate(ctx, res, httpResult(200, 3.5))
	require.NoError(t, err)
	assert.Equal(t, 1, store.rules[res.ID][1].OccurrencesCounter)
	assert.Empty(t, store.incidents)
}

func TestEvaluate_Idempotent(t *testing.T) {
	store := newMemStore()
	res := website(store, 1)
	e := newEvaluator(store)
	ctx := context.Background()

	probe := httpResult(500, 0.3)
	for i := 0; i < 3; i++ {
		_, err := e.Evaluate(ctx, res, probe)
		require.NoError(t, err)
	}
	assert.Len(t, store.incidents, 1)
	assert.Empty(t, store.resolutions)

	for i := 0; i < 2; i++ {
		_, err := e.Evaluate(ctx, res, httpResult(200, 0.3))
		require.NoError(t, err)
	}
	assert.Len(t, store.resolutions, 1)
}

func TestEvaluate_SeverityMostSevereWins(t *testing.T) {
	store := newMemStore()
	res := website(store, 1)
	e := newEvaluator(store)

	out, err := e.Evaluate(context.Background(), res, httpResult(503, 3.5))
	require.NoError(t, err)
	assert.Equal(t, core.AlertDown, out.AlertStatus)
	assert.Len(t, out.Opened, 2)
}

func TestEvaluate_ResolutionPairing(t *testing.T) {
	store := newMemStore()
	res := website(store, 1)
	e := newEvaluator(store)
	ctx := context.Background()

	sequence := []core.ProbeResult{
		httpResult(503, 3.5),
		httpResult(200, 3.5),
		httpResult(200, 0.5),
		httpResult(404, 0.5),
		httpResult(200, 0.5),
	}
	for _, p := range sequence {
		_, err := e.Evaluate(ctx, res, p)
		require.NoError(t, err)
	}

	require.Len(t, store.incidents, 3)
	require.Len(t, store.resolutions, 3)
	for _, inc := range store.incidents {
		assert.False(t, inc.Open())
		n := 0
		for _, r := range store.resolutions {
			if r.IncidentID == inc.ID {
				n++
				assert.Equal(t, inc.ResourceID, r.ResourceID)
				assert.Equal(t, inc.MetricType, r.MetricType)
			}
		}
		assert.Equal(t, 1, n, "incident %d", inc.ID)
	}
}

func TestEvaluate_WebsiteProbeFailureIsDebouncedDown(t *testing.T) {
	store := newMemStore()
	res := website(store, 2)
	prev := &core.Measurement{StatusCode: 200, LoadTime: 0.4}
	res.LastMeasurement = prev
	e := newEvaluator(store)
	ctx := context.Background()

	failed := core.Failed(core.ErrUnreachable)
	out, err := e.Evaluate(ctx, res, failed)
	require.NoError(t, err)
	assert.Equal(t, core.AlertUp, out.AlertStatus)
	assert.Empty(t, store.incidents)

	out, err = e.Evaluate(ctx, res, failed)
	require.NoError(t, err)
	assert.Equal(t, core.AlertDown, out.AlertStatus)
	assert.Len(t, out.Opened, 2)
	assert.Contains(t, out.Opened[0].Message, "unreachable")
	assert.Same(t, prev, store.states[res.ID].LastMeasurement)
}

func TestEvaluate_DomainProbeFailureIsSkipped(t *testing.T) {
	store := newMemStore()
	res := &core.Resource{ID: 9, Kind: core.KindDomain, AlertStatus: core.AlertAlert.Ptr()}
	store.rules[res.ID] = []core.Rule{{ResourceID: 9, MetricType: core.MetricDomainExpiry, Operator: core.OpLessEqual, Limit: "20", RequiredOccurrences: 1, OccurrencesCounter: 4}}
	e := newEvaluator(store)

	out, err := e.Evaluate(context.Background(), res, core.Failed(errors.New("whois timeout")))
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, core.AlertAlert, out.AlertStatus)
	assert.Empty(t, store.states)
	assert.Equal(t, 4, store.rules[9][0].OccurrencesCounter)
}

func TestEvaluate_DomainExpiryBands(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		days int
		want core.AlertStatus
	}{
		{25, core.AlertUp},
		{10, core.AlertAlert},
		{-1, core.AlertDown},
	}
	for _, tc := range cases {
		store := newMemStore()
		res := &core.Resource{ID: 3, Kind: core.KindDomain}
		store.rules[3] = []core.Rule{{ResourceID: 3, MetricType: core.MetricDomainExpiry, Operator: core.OpLessEqual, Limit: "20", RequiredOccurrences: 1}}
		e := newEvaluator(store, WithClock(func() time.Time { return now }))

		exp := now.Add(time.Duration(tc.days)*24*time.Hour + time.Minute)
		out, err := e.Evaluate(context.Background(), res, core.Ok(&core.Measurement{ExpiresAt: &exp}))
		require.NoError(t, err)
		assert.Equal(t, tc.want, out.AlertStatus, "diffDays=%d", tc.days)
	}
}

func TestEvaluate_FirstHealthyEvaluationSetsUpWithoutActivity(t *testing.T) {
	store := newMemStore()
	res := website(store, 1)
	e := newEvaluator(store)

	out, err := e.Evaluate(context.Background(), res, httpResult(200, 0.2))
	require.NoError(t, err)
	assert.True(t, out.Changed)
	require.NotNil(t, res.AlertStatus)
	assert.Equal(t, core.AlertUp, *res.AlertStatus)
	assert.Empty(t, store.activity)
}

func TestEvaluate_NotifiesOnlyWithMailAlerts(t *testing.T) {
	store := newMemStore()
	res := website(store, 1)
	store.rules[res.ID][0].NotifyTargets = core.StringSlice{"ops@example.com"}
	n := &recordingNotifier{}
	e := newEvaluator(store, WithNotifier(n))
	ctx := context.Background()

	_, err := e.Evaluate(ctx, res, httpResult(500, 0.1))
	require.NoError(t, err)
	assert.Empty(t, n.sent)

	res.Settings.MailAlerts = true
	res.Settings.NotifyTargets = []string{"owner@example.com", "ops@example.com"}
	_, err = e.Evaluate(ctx, res, httpResult(200, 0.1))
	require.NoError(t, err)
	require.Len(t, n.sent, 1)
	assert.Equal(t, []string{"ops@example.com", "owner@example.com"}, n.sent[0].Targets)
	assert.Len(t, n.sent[0].Closed, 1)
}

func TestEvaluate_StoreFailurePropagates(t *testing.T) {
	store := newMemStore()
	store.failRules = errors.New("connection refused")
	e := newEvaluator(store)

	_, err := e.Evaluate(context.Background(), website(store, 1), httpResult(200, 0.1))
	assert.Error(t, err)
}

func TestEvaluate_OpenIncidentKeepsStatusAfterRuleReplacement(t *testing.T) {
	store := newMemStore()
	res := website(store, 3)
	e := newEvaluator(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.Evaluate(ctx, res, httpResult(200, 3.5))
		require.NoError(t, err)
	}
	require.Len(t, store.open(), 1)
	assert.Equal(t, core.AlertAlert, *res.AlertStatus)

	// an edit stores a fresh rule set with counters at zero
	website(store, 3)

	out, err := e.Evaluate(ctx, res, httpResult(200, 3.5))
	require.NoError(t, err)
	assert.Equal(t, core.AlertAlert, out.AlertStatus)
	assert.False(t, out.Changed)
	assert.Empty(t, out.Opened)
	assert.Len(t, store.open(), 1)
	assert.Equal(t, 1, store.rules[res.ID][1].OccurrencesCounter)

	out, err = e.Evaluate(ctx, res, httpResult(200, 0.4))
	require.NoError(t, err)
	assert.Equal(t, core.AlertUp, out.AlertStatus)
	require.Len(t, out.Closed, 1)
	assert.Empty(t, store.open())
}

func TestEvaluate_NotifiesWithoutOwnTargets(t *testing.T) {
	store := newMemStore()
	res := website(store, 1)
	res.Settings.MailAlerts = true
	n := &recordingNotifier{}
	e := newEvaluator(store, WithNotifier(n))

	_, err := e.Evaluate(context.Background(), res, httpResult(500, 0.1))
	require.NoError(t, err)
	require.Len(t, n.sent, 1)
	assert.Empty(t, n.sent[0].Targets)
	assert.Len(t, n.sent[0].Opened, 1)
}
