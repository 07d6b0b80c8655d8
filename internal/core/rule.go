package core

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type MetricType string

const (
	MetricResponseCode        MetricType = "responseCode"
	MetricLoadTime            MetricType = "loadTime"
	MetricSearchStringMissing MetricType = "searchStringMissing"
	MetricDomainExpiry        MetricType = "domainExpiry"
	MetricSSLExpiry           MetricType = "sslExpiry"
	MetricBlacklistListed     MetricType = "blacklistListed"
)

func (m MetricType) Valid() bool {
	switch m {
	case MetricResponseCode, MetricLoadTime, MetricSearchStringMissing,
		MetricDomainExpiry, MetricSSLExpiry, MetricBlacklistListed:
		return true
	}
	return false
}

// Numeric reports whether the metric is read as a number. The others are
// booleans compared against "true" or "false".
func (m MetricType) Numeric() bool {
	switch m {
	case MetricResponseCode, MetricLoadTime, MetricDomainExpiry, MetricSSLExpiry:
		return true
	}
	return false
}

type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpNotEqual     Operator = "!="
	OpEqual        Operator = "=="
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
)

func (o Operator) Valid() bool {
	switch o {
	case OpGreater, OpLess, OpNotEqual, OpEqual, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// Ordering operators only compare numbers.
func (o Operator) Ordering() bool {
	switch o {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
		return true
	}
	return false
}

// Rule is a stored comparator attached to one resource, unique per
// (ResourceID, MetricType). Limit holds either a number or a string.
type Rule struct {
	ID                  int64       `json:"id" db:"id"`
	ResourceID          int64       `json:"resource_id" db:"resource_id"`
	MetricType          MetricType  `json:"metric_type" db:"metric_type"`
	Operator            Operator    `json:"operator" db:"operator"`
	Limit               string      `json:"limit" db:"limit_value"`
	RequiredOccurrences int         `json:"required_occurrences" db:"required_occurrences"`
	OccurrencesCounter  int         `json:"occurrences_counter" db:"occurrences_counter"`
	NotifyTargets       StringSlice `json:"notify_targets" db:"notify_targets"`
	CreatedAt           time.Time   `json:"created_at" db:"created_at"`
	CreatedBy           int64       `json:"created_by" db:"created_by"`
}

func (r *Rule) Validate() error {
	if r.RequiredOccurrences < 1 {
		return fmt.Errorf("%w: required occurrences must be >= 1, got %d", ErrInvalidRule, r.RequiredOccurrences)
	}
	if !r.Operator.Valid() {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, r.Operator)
	}
	if !r.MetricType.Valid() {
		return fmt.Errorf("%w: unknown metric type %q", ErrInvalidRule, r.MetricType)
	}

	limit := strings.TrimSpace(r.Limit)
	if r.MetricType.Numeric() {
		if _, err := strconv.ParseFloat(limit, 64); err != nil {
			return fmt.Errorf("%w: %s needs a numeric limit, got %q", ErrInvalidRule, r.MetricType, r.Limit)
		}
		return nil
	}
	if r.Operator.Ordering() {
		return fmt.Errorf("%w: operator %q does not apply to %s", ErrInvalidRule, r.Operator, r.MetricType)
	}
	if _, err := strconv.ParseBool(limit); err != nil {
		return fmt.Errorf("%w: %s needs a true/false limit, got %q", ErrInvalidRule, r.MetricType, r.Limit)
	}
	return nil
}

type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = StringSlice{}
		return nil
	}
	return scanJSON(value, (*[]string)(s))
}

func scanJSON(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
}
