package checks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/likexian/whois"
	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/config"
	"github.com/leozw/monitrix/internal/core"
	whoisparser "github.com/leozw/monitrix/internal/whois"
)

var errNoExpiry = errors.New("could not extract expiry date from WHOIS data")

// WhoisClient is the port-43 lookup; *whois.Client satisfies it.
type WhoisClient interface {
	Whois(domain string, servers ...string) (string, error)
}

type RecordResolver interface {
	Records(ctx context.Context, domain string) []core.DNSRecord
}

type DomainChecker struct {
	whois  WhoisClient
	dns    RecordResolver
	logger *zap.Logger
	now    func() time.Time
}

func NewDomainChecker(cfg config.ProbesConfig, dns RecordResolver, logger *zap.Logger) *DomainChecker {
	client := whois.NewClient()
	if cfg.WHOISTimeout > 0 {
		client.SetTimeout(cfg.WHOISTimeout)
	}
	return NewDomainCheckerWith(client, dns, logger)
}

func NewDomainCheckerWith(client WhoisClient, dns RecordResolver, logger *zap.Logger) *DomainChecker {
	return &DomainChecker{whois: client, dns: dns, logger: logger, now: time.Now}
}

// Probe queries WHOIS for the registration facts and DNS for the published
// records. A WHOIS failure or a record without an expiry date is Failed.
func (d *DomainChecker) Probe(ctx context.Context, res *core.Resource) core.ProbeResult {
	host, err := Hostname(res.URL)
	if err != nil {
		return core.Failed(err)
	}
	domain := RegistrableDomain(host)

	raw, err := d.lookup(ctx, domain)
	if err != nil {
		return core.Failed(fmt.Errorf("whois lookup %s: %w", domain, err))
	}

	rec := whoisparser.Parse(raw)
	expires, ok := rec.ExpiresAt()
	if !ok {
		return core.Failed(fmt.Errorf("%s: %w", domain, errNoExpiry))
	}

	m := &core.Measurement{
		CheckedAt: d.now().UTC(),
		ExpiresAt: &expires,
		Domain:    &core.DomainDetails{Whois: rec},
	}
	if t, ok := rec.CreatedAt(); ok {
		m.RegisteredOn = &t
	}
	if t, ok := rec.UpdatedAt(); ok {
		m.UpdatedOn = &t
	}

	if d.dns != nil {
		m.Domain.DNSRecords = d.dns.Records(ctx, domain)
		m.Domain.NameServers = NameServers(m.Domain.DNSRecords)
	}
	if len(m.Domain.NameServers) == 0 {
		m.Domain.NameServers = rec.NameServers
	}

	d.logger.Debug("domain checked",
		zap.String("domain", domain),
		zap.Time("expires_at", expires),
		zap.Int("dns_records", len(m.Domain.DNSRecords)))
	return core.Ok(m)
}

// lookup runs the blocking WHOIS query so ctx cancellation is honored.
func (d *DomainChecker) lookup(ctx context.Context, domain string) (string, error) {
	type reply struct {
		raw string
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		raw, err := d.whois.Whois(domain)
		ch <- reply{raw, err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.raw, r.err
	}
}
