package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMostSevere(t *testing.T) {
	assert.Equal(t, AlertUp, MostSevere())
	assert.Equal(t, AlertAlert, MostSevere(AlertUp, AlertAlert))
	assert.Equal(t, AlertDown, MostSevere(AlertAlert, AlertDown, AlertUp))
	assert.Equal(t, AlertDown, MostSevere(AlertDown, AlertAlert))
}

func TestRuleValidate(t *testing.T) {
	r := Rule{MetricType: MetricLoadTime, Operator: OpGreater, Limit: "2", RequiredOccurrences: 1}
	require.NoError(t, r.Validate())

	r.RequiredOccurrences = 0
	assert.True(t, errors.Is(r.Validate(), ErrInvalidRule))

	r.RequiredOccurrences = 3
	r.Operator = "=~"
	assert.True(t, errors.Is(r.Validate(), ErrInvalidRule))
}

func TestJSONColumns(t *testing.T) {
	var s StringSlice
	require.NoError(t, s.Scan([]byte(`["a@example.com","b@example.com"]`)))
	assert.Equal(t, StringSlice{"a@example.com", "b@example.com"}, s)

	require.NoError(t, s.Scan(nil))
	assert.Empty(t, s)

	var m Measurement
	require.NoError(t, m.Scan(`{"status_code":503,"load_time":1.5}`))
	assert.Equal(t, 503, m.StatusCode)
	assert.InDelta(t, 1.5, m.LoadTime, 0.0001)

	assert.Error(t, m.Scan(42))
}

func TestListedCount(t *testing.T) {
	m := Measurement{Blacklist: []BlacklistEntry{{Listed: true}, {Listed: false}, {Listed: true}}}
	assert.Equal(t, 2, m.ListedCount())
}
