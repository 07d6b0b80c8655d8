package core

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Incident records a breach. IsOccurred is 1 while it is open; at most one
// open incident exists per (ResourceID, MetricType).
type Incident struct {
	ID          int64      `json:"id" db:"id"`
	ResourceID  int64      `json:"resource_id" db:"resource_id"`
	MetricType  MetricType `json:"metric_type" db:"metric_type"`
	Comparison  Operator   `json:"comparison" db:"comparison"`
	LimitAtTime string     `json:"limit_at_time" db:"limit_at_time"`
	Message     string     `json:"message" db:"message"`
	IsOccurred  int        `json:"is_occurred" db:"is_occurred"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

func (i *Incident) Open() bool { return i.IsOccurred == 1 }

// Resolution closes exactly one incident.
type Resolution struct {
	ID         int64      `json:"id" db:"id"`
	ResourceID int64      `json:"resource_id" db:"resource_id"`
	IncidentID int64      `json:"incident_id" db:"incident_id"`
	MetricType MetricType `json:"metric_type" db:"metric_type"`
	Message    string     `json:"message" db:"message"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

type ActivityLogEntry struct {
	ID             int64          `json:"id" db:"id"`
	UserID         int64          `json:"user_id" db:"user_id"`
	IPAddress      string         `json:"ip_address" db:"ip_address"`
	Browser        string         `json:"browser" db:"browser"`
	Time           time.Time      `json:"time" db:"logged_at"`
	MessageDetails MessageDetails `json:"message_details" db:"message_details"`
}

type MessageDetails struct {
	Status   string          `json:"status"`
	Message  string          `json:"message"`
	Services ServiceLogEntry `json:"services"`
}

type ServiceLogEntry struct {
	Tag      string `json:"tag"`
	Value    string `json:"value"`
	Identity int64  `json:"identity"`
}

func (m MessageDetails) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *MessageDetails) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// ServiceTag is the activity-log label for a resource kind.
func ServiceTag(kind ResourceKind) string {
	switch kind {
	case KindDomain:
		return "Domain"
	case KindWebsite:
		return "Website"
	case KindSSL:
		return "SSL"
	case KindBlacklist:
		return "Blacklist"
	default:
		return string(kind)
	}
}
