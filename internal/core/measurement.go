package core

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/leozw/monitrix/internal/whois"
)

// Measurement is the kind-specific result of one probe. Only the fields of the
// resource's kind are populated.
type Measurement struct {
	CheckedAt time.Time `json:"checked_at"`

	// Website
	StatusCode   int     `json:"status_code,omitempty"`
	LoadTime     float64 `json:"load_time,omitempty"`
	SearchString string  `json:"search_string,omitempty"`
	SearchFound  *bool   `json:"search_found,omitempty"`
	Body         string  `json:"-"`

	// Domain / SSL
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	ValidFrom    *time.Time     `json:"valid_from,omitempty"`
	RegisteredOn *time.Time     `json:"registered_on,omitempty"`
	UpdatedOn    *time.Time     `json:"updated_on,omitempty"`
	Domain       *DomainDetails `json:"domain,omitempty"`
	SSL          *SSLDetails    `json:"ssl,omitempty"`

	// Blacklist
	IP        string           `json:"ip,omitempty"`
	Blacklist []BlacklistEntry `json:"blacklist,omitempty"`
}

func (m Measurement) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *Measurement) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// ListedCount is the number of providers reporting the target as listed.
func (m *Measurement) ListedCount() int {
	n := 0
	for _, e := range m.Blacklist {
		if e.Listed {
			n++
		}
	}
	return n
}

type DomainDetails struct {
	Whois       *whois.Record `json:"whois,omitempty"`
	DNSRecords  []DNSRecord   `json:"dns_records"`
	NameServers []string      `json:"name_servers"`
}

// DNSRecord is one resolved record. Only the fields relevant to Type are set.
type DNSRecord struct {
	Type     string   `json:"type"`
	TTL      uint32   `json:"ttl"`
	Address  string   `json:"address,omitempty"`
	Value    string   `json:"value,omitempty"`
	Exchange string   `json:"exchange,omitempty"`
	Priority uint16   `json:"priority,omitempty"`
	Entries  []string `json:"entries,omitempty"`
	SOA      *SOA     `json:"soa,omitempty"`
	Critical uint8    `json:"critical,omitempty"`
	Issue    string   `json:"issue,omitempty"`
}

type SOA struct {
	NSName     string `json:"nsname"`
	Hostmaster string `json:"hostmaster"`
	Serial     uint32 `json:"serial"`
	Refresh    uint32 `json:"refresh"`
	Retry      uint32 `json:"retry"`
	Expire     uint32 `json:"expire"`
	MinTTL     uint32 `json:"minttl"`
}

type SSLDetails struct {
	Issuer       string `json:"issuer"`
	Subject      string `json:"subject"`
	ExpiringDays int    `json:"expiring_days"`
	Location     string `json:"location,omitempty"`
}

type BlacklistEntry struct {
	Blacklist    string `json:"blacklist"`
	Address      string `json:"address"`
	Listed       bool   `json:"listed"`
	ResponseTime int64  `json:"response_time"`
}

// ProbeResult is either a measurement or the reason none could be taken.
type ProbeResult struct {
	Measurement *Measurement
	Err         error
}

func Ok(m *Measurement) ProbeResult {
	return ProbeResult{Measurement: m}
}

func Failed(err error) ProbeResult {
	return ProbeResult{Err: err}
}

func (p ProbeResult) OK() bool {
	return p.Err == nil && p.Measurement != nil
}
