// Package whois turns free-text WHOIS responses into a typed record.
//
// Normalization rules:
//   - Blank lines and lines starting with '%', '#' or '>>>' are ignored.
//   - A line "Key: value" is split at the first colon. Keys have '_'
//     replaced by spaces, repeated whitespace collapsed and every word
//     title-cased ("registrar_registration_expiration_date" becomes
//     "Registrar Registration Expiration Date").
//   - "Registrar" becomes a block. Comma separated "k: v" pairs in its value
//     become block fields; a plain value is stored under "Name".
//   - "Registrant", "Admin" and "Tech" become contact blocks. Both the
//     prefixed style ("Admin Email: x") and the indented block style
//     ("Admin:" followed by indented "Email: x" lines) are accepted.
//   - "Name Server" (and its spelling variants) values accumulate into a
//     de-duplicated, lower-case list. An empty "Name Servers:" opens a list
//     continued by the following colon-less lines.
//   - Every other key lands in Fields under its snake_case, lower-case form.
//     The first occurrence wins, so registry data precedes registrar data
//     when referrals are followed.
//   - A line without a colon continues the previous value, joined by a
//     single space.
package whois

import (
	"strings"
	"unicode"
)

type Block map[string]string

type Record struct {
	Registrar   Block
	Registrant  Block
	Admin       Block
	Tech        Block
	NameServers []string
	Fields      map[string]string
}

var contactKeys = map[string]bool{
	"Registrant": true,
	"Admin":      true,
	"Tech":       true,
}

var nameServerKeys = map[string]bool{
	"Name Server":  true,
	"Name Servers": true,
	"Nameserver":   true,
	"Nameservers":  true,
	"Nserver":      true,
}

type cursor struct {
	block Block
	key   string
}

// Parse never fails; unrecognised input yields an empty record.
func Parse(raw string) *Record {
	rec := &Record{
		Registrar: Block{},
		Fields:    map[string]string{},
	}

	var last cursor
	var openBlock string
	nsList := false

	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		indented := len(line) > 0 && (line[0] == ' ' || line[0] == '\t')
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "%") || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ">>>") {
			continue
		}

		key, value, ok := splitKV(line)
		if !ok {
			if nsList {
				rec.addNameServer(strings.Fields(line)[0])
				continue
			}
			if last.block != nil && last.key != "" {
				last.block[last.key] = strings.TrimSpace(last.block[last.key] + " " + line)
			}
			continue
		}

		if indented && openBlock != "" {
			b := rec.contact(openBlock)
			setFirst(b, key, value)
			last = cursor{block: b, key: key}
			continue
		}
		openBlock = ""
		nsList = false

		switch {
		case key == "Registrar":
			parseRegistrar(rec.Registrar, value)
			last = cursor{block: rec.Registrar, key: "Name"}
		case contactKeys[key]:
			b := rec.contact(key)
			if value == "" {
				openBlock = key
				last = cursor{}
			} else {
				setFirst(b, "Name", value)
				last = cursor{block: b, key: "Name"}
			}
		case nameServerKeys[key]:
			if value == "" {
				nsList = true
			} else {
				rec.addNameServer(value)
			}
			last = cursor{}
		case contactPrefix(key) != "":
			prefix := contactPrefix(key)
			b := rec.contact(prefix)
			field := strings.TrimSpace(strings.TrimPrefix(key, prefix))
			setFirst(b, field, value)
			last = cursor{block: b, key: field}
		default:
			fk := FieldKey(key)
			setFirst(rec.Fields, fk, value)
			last = cursor{block: rec.Fields, key: fk}
		}
	}

	return rec
}

func (r *Record) contact(name string) Block {
	switch name {
	case "Registrant":
		if r.Registrant == nil {
			r.Registrant = Block{}
		}
		return r.Registrant
	case "Admin":
		if r.Admin == nil {
			r.Admin = Block{}
		}
		return r.Admin
	default:
		if r.Tech == nil {
			r.Tech = Block{}
		}
		return r.Tech
	}
}

func (r *Record) addNameServer(ns string) {
	ns = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(ns), "."))
	if ns == "" {
		return
	}
	for _, existing := range r.NameServers {
		if existing == ns {
			return
		}
	}
	r.NameServers = append(r.NameServers, ns)
}

// Field looks up a remainder field by any spelling of its key.
func (r *Record) Field(key string) string {
	return r.Fields[FieldKey(NormalizeKey(key))]
}

func parseRegistrar(b Block, value string) {
	found := false
	for _, part := range strings.Split(value, ",") {
		if k, v, ok := splitKV(strings.TrimSpace(part)); ok {
			setFirst(b, k, v)
			found = true
		}
	}
	if !found && value != "" {
		setFirst(b, "Name", value)
	}
}

func contactPrefix(key string) string {
	for prefix := range contactKeys {
		if strings.HasPrefix(key, prefix+" ") {
			return prefix
		}
	}
	return ""
}

func splitKV(line string) (string, string, bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	rawKey := line[:idx]
	// "https://..." style lines are values, not keys.
	if strings.HasPrefix(line[idx:], "://") {
		return "", "", false
	}
	key := NormalizeKey(rawKey)
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(line[idx+1:]), true
}

func setFirst(b Block, key, value string) {
	if _, exists := b[key]; exists {
		return
	}
	b[key] = value
}

// NormalizeKey maps "registry_expiry_date" and "Registry  expiry Date" to
// "Registry Expiry Date".
func NormalizeKey(key string) string {
	key = strings.ReplaceAll(key, "_", " ")
	key = strings.Join(strings.Fields(key), " ")

	out := []rune(key)
	boundary := true
	for i, r := range out {
		if boundary && unicode.IsLetter(r) {
			out[i] = unicode.ToUpper(r)
		}
		boundary = !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}
	return string(out)
}

// FieldKey is the storage form of a normalized key: lower case, spaces as
// underscores.
func FieldKey(normalized string) string {
	return strings.ToLower(strings.ReplaceAll(normalized, " ", "_"))
}
