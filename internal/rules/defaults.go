package rules

import (
	"strconv"

	"github.com/leozw/monitrix/internal/core"
)

const (
	DefaultWebsiteOccurrences    = 5
	DefaultOccurrences           = 1
	DefaultAlertBeforeExpiration = 30
)

// Defaults synthesizes the rule set for a resource from its settings.
// loadTimeBudget is used when the resource does not carry its own budget.
func Defaults(res *core.Resource, loadTimeBudget float64) []core.Rule {
	s := res.Settings
	occ := s.Occurrences
	if occ < 1 {
		occ = DefaultOccurrences
		if res.Kind == core.KindWebsite {
			occ = DefaultWebsiteOccurrences
		}
	}
	alertBefore := s.AlertBeforeExpiration
	if alertBefore <= 0 {
		alertBefore = DefaultAlertBeforeExpiration
	}

	rule := func(metric core.MetricType, op core.Operator, limit string) core.Rule {
		return core.Rule{
			ResourceID:          res.ID,
			MetricType:          metric,
			Operator:            op,
			Limit:               limit,
			RequiredOccurrences: occ,
			NotifyTargets:       core.StringSlice(s.NotifyTargets),
			CreatedBy:           res.CreatedBy,
		}
	}

	switch res.Kind {
	case core.KindWebsite:
		budget := s.LoadTimeBudget
		if budget <= 0 {
			budget = loadTimeBudget
		}
		out := []core.Rule{
			rule(core.MetricResponseCode, core.OpNotEqual, "200"),
			rule(core.MetricLoadTime, core.OpGreater, strconv.FormatFloat(budget, 'f', -1, 64)),
		}
		if s.SearchString != "" {
			out = append(out, rule(core.MetricSearchStringMissing, core.OpEqual, "true"))
		}
		return out
	case core.KindDomain:
		return []core.Rule{rule(core.MetricDomainExpiry, core.OpLessEqual, strconv.Itoa(alertBefore))}
	case core.KindSSL:
		return []core.Rule{rule(core.MetricSSLExpiry, core.OpLessEqual, strconv.Itoa(alertBefore))}
	case core.KindBlacklist:
		return []core.Rule{rule(core.MetricBlacklistListed, core.OpEqual, "true")}
	}
	return nil
}

// ValidateSet enforces per-rule invariants and uniqueness on metric type.
func ValidateSet(rs []core.Rule) error {
	seen := make(map[core.MetricType]bool, len(rs))
	for i := range rs {
		if err := rs[i].Validate(); err != nil {
			return err
		}
		if seen[rs[i].MetricType] {
			return core.ErrInvalidRule
		}
		seen[rs[i].MetricType] = true
	}
	return nil
}
