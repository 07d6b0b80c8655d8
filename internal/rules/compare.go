package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/leozw/monitrix/internal/core"
)

// Value is a metric reading or a rule limit. Two numeric values compare
// numerically; anything else compares as strings and only supports == and !=.
type Value struct {
	num     float64
	str     string
	numeric bool
}

func Num(f float64) Value { return Value{num: f, str: strconv.FormatFloat(f, 'f', -1, 64), numeric: true} }

func Str(s string) Value { return Value{str: s} }

func Bool(b bool) Value { return Value{str: strconv.FormatBool(b)} }

func ParseLimit(s string) Value {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Num(f)
	}
	return Str(s)
}

func (v Value) String() string { return v.str }

func Compare(v Value, op core.Operator, limit Value) (bool, error) {
	if v.numeric && limit.numeric {
		switch op {
		case core.OpGreater:
			return v.num > limit.num, nil
		case core.OpLess:
			return v.num < limit.num, nil
		case core.OpGreaterEqual:
			return v.num >= limit.num, nil
		case core.OpLessEqual:
			return v.num <= limit.num, nil
		case core.OpEqual:
			return v.num == limit.num, nil
		case core.OpNotEqual:
			return v.num != limit.num, nil
		}
		return false, fmt.Errorf("%w: unknown operator %q", core.ErrInvalidRule, op)
	}

	switch op {
	case core.OpEqual:
		return strings.EqualFold(v.str, limit.str), nil
	case core.OpNotEqual:
		return !strings.EqualFold(v.str, limit.str), nil
	}
	return false, fmt.Errorf("%w: operator %q needs numeric operands (%q, %q)", core.ErrInvalidRule, op, v.str, limit.str)
}

// DaysUntil is floor((t - now) / 24h); negative once t has passed.
func DaysUntil(t, now time.Time) int {
	return int(math.Floor(t.Sub(now).Hours() / 24))
}

// ExpiryBand maps days left to an alert status:
// diffDays > alertBefore is up, 0 < diffDays <= alertBefore is alert,
// diffDays <= 0 is down.
func ExpiryBand(diffDays, alertBefore int) core.AlertStatus {
	switch {
	case diffDays > alertBefore:
		return core.AlertUp
	case diffDays > 0:
		return core.AlertAlert
	default:
		return core.AlertDown
	}
}

// Observe extracts the reading for a metric. ok is false when the measurement
// carries nothing for it, e.g. a search-string rule on a site without one.
func Observe(metric core.MetricType, m *core.Measurement, now time.Time) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	switch metric {
	case core.MetricResponseCode:
		return Num(float64(m.StatusCode)), true
	case core.MetricLoadTime:
		return Num(m.LoadTime), true
	case core.MetricSearchStringMissing:
		if m.SearchFound == nil {
			return Value{}, false
		}
		return Bool(!*m.SearchFound), true
	case core.MetricDomainExpiry, core.MetricSSLExpiry:
		if m.ExpiresAt == nil {
			return Value{}, false
		}
		return Num(float64(DaysUntil(*m.ExpiresAt, now))), true
	case core.MetricBlacklistListed:
		return Bool(m.ListedCount() > 0), true
	}
	return Value{}, false
}

// Verdict is the result of applying one rule to one measurement.
type Verdict struct {
	MetricType core.MetricType
	Breached   bool
	Observed   Value
	Outcome    core.AlertStatus
	Message    string
}

func Check(rule core.Rule, m *core.Measurement, now time.Time) (Verdict, error) {
	v := Verdict{MetricType: rule.MetricType, Outcome: core.AlertUp}

	observed, ok := Observe(rule.MetricType, m, now)
	if !ok {
		return v, nil
	}
	v.Observed = observed

	limit := ParseLimit(rule.Limit)
	breached, err := Compare(observed, rule.Operator, limit)
	if err != nil {
		return v, fmt.Errorf("rule %s: %w", rule.MetricType, err)
	}
	if !breached {
		return v, nil
	}

	v.Breached = true
	v.Outcome = BreachOutcome(rule, observed)
	v.Message = breachMessage(rule, observed, m)
	return v, nil
}

// BreachOutcome is the alert status a breached rule contributes. Load time is
// a degradation; expiry metrics follow the expiry bands; everything else means
// the resource is down.
func BreachOutcome(rule core.Rule, observed Value) core.AlertStatus {
	switch rule.MetricType {
	case core.MetricLoadTime:
		return core.AlertAlert
	case core.MetricDomainExpiry, core.MetricSSLExpiry:
		limit := ParseLimit(rule.Limit)
		if !observed.numeric || !limit.numeric {
			return core.AlertDown
		}
		band := ExpiryBand(int(observed.num), int(limit.num))
		if band == core.AlertUp {
			// Custom operators can breach above the band; still worth an alert.
			return core.AlertAlert
		}
		return band
	default:
		return core.AlertDown
	}
}

func breachMessage(rule core.Rule, observed Value, m *core.Measurement) string {
	switch rule.MetricType {
	case core.MetricLoadTime:
		return fmt.Sprintf("load time %ss %s %ss", observed, rule.Operator, rule.Limit)
	case core.MetricResponseCode:
		return fmt.Sprintf("response code %s %s %s", observed, rule.Operator, rule.Limit)
	case core.MetricSearchStringMissing:
		return fmt.Sprintf("search string %q missing from response", m.SearchString)
	case core.MetricDomainExpiry:
		return fmt.Sprintf("domain expires in %s days", observed)
	case core.MetricSSLExpiry:
		return fmt.Sprintf("ssl certificate expires in %s days", observed)
	case core.MetricBlacklistListed:
		return fmt.Sprintf("listed on %d blacklist(s)", m.ListedCount())
	}
	return fmt.Sprintf("%s %s %s %s", rule.MetricType, observed, rule.Operator, rule.Limit)
}
