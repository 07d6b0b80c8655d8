package checks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/leozw/monitrix/internal/core"
)

var errNoSuchHost = errors.New("no such host")

// HostResolver resolves a name to addresses. Blacklist lookups treat any
// answer as "listed".
type HostResolver interface {
	LookupHost(ctx context.Context, name string) ([]string, error)
}

type DNSResolver struct {
	server string
	client *dns.Client
}

func NewDNSResolver(server string, timeout time.Duration) *DNSResolver {
	if server == "" {
		server = "8.8.8.8:53"
	}
	if !strings.Contains(server, ":") {
		server += ":53"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNSResolver{
		server: server,
		client: &dns.Client{Timeout: timeout},
	}
}

func (r *DNSResolver) Query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return nil, fmt.Errorf("dns query %s %s: %w", dns.TypeToString[qtype], name, err)
	}
	switch in.Rcode {
	case dns.RcodeSuccess:
		return in, nil
	case dns.RcodeNameError:
		return nil, fmt.Errorf("%s: %w", name, errNoSuchHost)
	default:
		return nil, fmt.Errorf("dns query %s %s failed with code: %s", dns.TypeToString[qtype], name, dns.RcodeToString[in.Rcode])
	}
}

func (r *DNSResolver) LookupHost(ctx context.Context, name string) ([]string, error) {
	in, err := r.Query(ctx, name, dns.TypeA)
	if err != nil {
		return nil, err
	}
	var addrs []string
	for _, rr := range in.Answer {
		if a, ok := rr.(*dns.A); ok {
			addrs = append(addrs, a.A.String())
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%s: %w", name, errNoSuchHost)
	}
	return addrs, nil
}

var recordTypes = []uint16{dns.TypeA, dns.TypeAAAA, dns.TypeMX, dns.TypeNS, dns.TypeSOA, dns.TypeTXT, dns.TypeCAA}

// Records collects the domain's published records. Types that fail to
// resolve are left out.
func (r *DNSResolver) Records(ctx context.Context, domain string) []core.DNSRecord {
	var out []core.DNSRecord
	for _, qtype := range recordTypes {
		in, err := r.Query(ctx, domain, qtype)
		if err != nil {
			continue
		}
		for _, rr := range in.Answer {
			if rec, ok := toRecord(rr); ok {
				out = append(out, rec)
			}
		}
	}
	return out
}

func toRecord(rr dns.RR) (core.DNSRecord, bool) {
	rec := core.DNSRecord{TTL: rr.Header().Ttl}
	switch v := rr.(type) {
	case *dns.A:
		rec.Type, rec.Address = "A", v.A.String()
	case *dns.AAAA:
		rec.Type, rec.Address = "AAAA", v.AAAA.String()
	case *dns.MX:
		rec.Type, rec.Exchange, rec.Priority = "MX", strings.TrimSuffix(v.Mx, "."), v.Preference
	case *dns.NS:
		rec.Type, rec.Value = "NS", strings.TrimSuffix(v.Ns, ".")
	case *dns.TXT:
		rec.Type, rec.Entries = "TXT", v.Txt
	case *dns.SOA:
		rec.Type = "SOA"
		rec.SOA = &core.SOA{
			NSName:     strings.TrimSuffix(v.Ns, "."),
			Hostmaster: strings.TrimSuffix(v.Mbox, "."),
			Serial:     v.Serial,
			Refresh:    v.Refresh,
			Retry:      v.Retry,
			Expire:     v.Expire,
			MinTTL:     v.Minttl,
		}
	case *dns.CAA:
		rec.Type, rec.Critical = "CAA", v.Flag
		if v.Tag == "issue" {
			rec.Issue = v.Value
		} else {
			rec.Value = v.Tag + " " + v.Value
		}
	default:
		return rec, false
	}
	return rec, true
}

// NameServers lists the NS hosts from a record set.
func NameServers(records []core.DNSRecord) []string {
	var ns []string
	for _, r := range records {
		if r.Type == "NS" {
			ns = append(ns, strings.ToLower(r.Value))
		}
	}
	return ns
}
