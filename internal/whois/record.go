package whois

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Flat JSON keys consumed by the dashboard.
const (
	jsonRegistrar   = "Registrar"
	jsonRegistrant  = "registrant"
	jsonAdmin       = "admin"
	jsonTech        = "tech"
	jsonNameServers = "name_server"
)

// MarshalJSON emits the flat shape: remainder fields at top level next to the
// "Registrar" block, the lower-cased contact blocks and the "name_server" list.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Fields)+5)
	for k, v := range r.Fields {
		out[k] = v
	}
	out[jsonRegistrar] = nonNil(r.Registrar)
	if r.Registrant != nil {
		out[jsonRegistrant] = r.Registrant
	}
	if r.Admin != nil {
		out[jsonAdmin] = r.Admin
	}
	if r.Tech != nil {
		out[jsonTech] = r.Tech
	}
	if len(r.NameServers) > 0 {
		out[jsonNameServers] = r.NameServers
	}
	return json.Marshal(out)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = Record{Registrar: Block{}, Fields: map[string]string{}}
	for k, v := range raw {
		var err error
		switch k {
		case jsonRegistrar:
			err = json.Unmarshal(v, &r.Registrar)
		case jsonRegistrant:
			err = json.Unmarshal(v, &r.Registrant)
		case jsonAdmin:
			err = json.Unmarshal(v, &r.Admin)
		case jsonTech:
			err = json.Unmarshal(v, &r.Tech)
		case jsonNameServers:
			err = json.Unmarshal(v, &r.NameServers)
		default:
			var s string
			if json.Unmarshal(v, &s) == nil {
				r.Fields[k] = s
			}
		}
		if err != nil {
			return fmt.Errorf("whois field %s: %w", k, err)
		}
	}
	if r.Registrar == nil {
		r.Registrar = Block{}
	}
	return nil
}

func nonNil(b Block) Block {
	if b == nil {
		return Block{}
	}
	return b
}

var (
	expiryKeys = []string{
		"registry_expiry_date",
		"registrar_registration_expiration_date",
		"expiry_date",
		"expiration_date",
		"expires_on",
		"expires",
		"expire_date",
		"paid-till",
	}
	createdKeys = []string{
		"creation_date",
		"created_date",
		"created_on",
		"created",
		"registered_on",
		"registration_time",
	}
	updatedKeys = []string{
		"updated_date",
		"last_updated",
		"last_modified",
		"changed",
	}
)

func (r *Record) ExpiresAt() (time.Time, bool) { return r.firstDate(expiryKeys) }

func (r *Record) CreatedAt() (time.Time, bool) { return r.firstDate(createdKeys) }

func (r *Record) UpdatedAt() (time.Time, bool) { return r.firstDate(updatedKeys) }

func (r *Record) firstDate(keys []string) (time.Time, bool) {
	for _, k := range keys {
		if v, ok := r.Fields[k]; ok {
			if t, err := ParseDate(v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

var dateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.0Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05 MST",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02 15:04:05",
	"2006.01.02",
	"2006/01/02",
	"02.01.2006",
}

func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	// Some registries append a timezone note: "2025-01-01 00:00:00 (UTC+8)".
	if i := strings.Index(s, " ("); i > 0 {
		s = s[:i]
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", s)
}
