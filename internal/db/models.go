package db

import (
	"github.com/leozw/monitrix/internal/core"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// ResourceFilter narrows an owner's resource list. Zero values match all.
type ResourceFilter struct {
	OwnerID     int64
	Kind        core.ResourceKind
	Status      core.ResourceStatus
	AlertStatus core.AlertStatus
	Search      string
	SortBy      string
	SortDesc    bool
	Page        Page
}

var resourceSortColumns = map[string]string{
	"":                "created_at",
	"created_at":      "created_at",
	"name":            "name",
	"url":             "url",
	"status":          "status",
	"alert_status":    "alert_status",
	"last_check_time": "last_check_time",
}

type ActivityFilter struct {
	UserID int64
	Tag    string
	Status string
	Search string
	Page   Page
}

// BlacklistServer is an admin-managed DNSBL zone.
type BlacklistServer struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
	Link string `json:"link" db:"link"`
}
