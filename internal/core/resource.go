package core

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

type ResourceKind string

const (
	KindDomain    ResourceKind = "domain"
	KindWebsite   ResourceKind = "website"
	KindSSL       ResourceKind = "ssl"
	KindBlacklist ResourceKind = "blacklist"
)

func (k ResourceKind) Valid() bool {
	switch k {
	case KindDomain, KindWebsite, KindSSL, KindBlacklist:
		return true
	}
	return false
}

type ResourceStatus string

const (
	StatusDraft    ResourceStatus = "Draft"
	StatusActive   ResourceStatus = "Active"
	StatusInactive ResourceStatus = "Inactive"
	StatusBanned   ResourceStatus = "Banned"
	StatusDeleted  ResourceStatus = "Deleted"
)

// Resource is one monitored domain, website, SSL endpoint or blacklist target.
// AlertStatus, LastCheckTime and LastMeasurement are derived and only written
// by the evaluator.
type Resource struct {
	ID              int64          `json:"id" db:"id"`
	UniqueID        string         `json:"unique_id" db:"unique_id"`
	OwnerID         int64          `json:"owner_id" db:"owner_id"`
	Name            string         `json:"name" db:"name"`
	URL             string         `json:"url" db:"url"`
	Kind            ResourceKind   `json:"kind" db:"kind"`
	Status          ResourceStatus `json:"status" db:"status"`
	AlertStatus     *AlertStatus   `json:"alert_status" db:"alert_status"`
	LastCheckTime   *time.Time     `json:"last_check_time" db:"last_check_time"`
	LastMeasurement *Measurement   `json:"last_measurement,omitempty" db:"last_measurement"`
	Settings        Settings       `json:"settings" db:"settings"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
	CreatedBy       int64          `json:"created_by" db:"created_by"`
	DeletedAt       *time.Time     `json:"deleted_at,omitempty" db:"deleted_at"`
	DeletedBy       *int64         `json:"deleted_by,omitempty" db:"deleted_by"`
}

// Settings is the owner-editable configuration that default rules are
// synthesized from.
type Settings struct {
	SearchString          string   `json:"search_string,omitempty"`
	LoadTimeBudget        float64  `json:"load_time_budget,omitempty"`
	Occurrences           int      `json:"occurrences,omitempty"`
	AlertBeforeExpiration int      `json:"alert_before_expiration,omitempty"`
	Port                  int      `json:"port,omitempty"`
	LocationID            int64    `json:"location_id,omitempty"`
	NotifyTargets         []string `json:"notify_targets,omitempty"`
	MailAlerts            bool     `json:"mail_alerts,omitempty"`
}

func (s Settings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *Settings) Scan(value interface{}) error {
	return scanJSON(value, s)
}

// AlertState is the derived part of a resource written after each evaluation.
type AlertState struct {
	AlertStatus     AlertStatus
	LastCheckTime   time.Time
	LastMeasurement *Measurement
}

// ProbeLocation is an admin-managed probe server. An empty AgentURL means the
// probe runs in-process.
type ProbeLocation struct {
	ID          int64  `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	CountryName string `json:"country_name" db:"country_name"`
	CountryCode string `json:"country_code" db:"country_code"`
	AgentURL    string `json:"agent_url" db:"agent_url"`
}

// StatusCount is the per-owner dashboard breakdown by alert status.
type StatusCount struct {
	Up    int `json:"up" db:"up"`
	Alert int `json:"alert" db:"alert"`
	Down  int `json:"down" db:"down"`
}
