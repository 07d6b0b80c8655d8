// Package checks takes raw measurements of monitored resources. Probes never
// return errors: an inability to measure is carried in core.ProbeResult.
package checks

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/config"
	"github.com/leozw/monitrix/internal/core"
)

type Prober interface {
	Probe(ctx context.Context, res *core.Resource) core.ProbeResult
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, res *core.Resource) core.ProbeResult

func (f ProberFunc) Probe(ctx context.Context, res *core.Resource) core.ProbeResult {
	return f(ctx, res)
}

// Set dispatches to the prober registered for the resource's kind.
type Set struct {
	probers map[core.ResourceKind]Prober
}

func NewSet() *Set {
	return &Set{probers: make(map[core.ResourceKind]Prober)}
}

// NewDefaultSet wires the built-in probers for every resource kind.
func NewDefaultSet(cfg config.ProbesConfig, locations LocationSource, providers ProviderSource, logger *zap.Logger) *Set {
	resolver := NewDNSResolver(cfg.DNSServer, cfg.DNSTimeout)

	s := NewSet()
	s.Register(core.KindWebsite, NewHTTPChecker(cfg))
	s.Register(core.KindSSL, NewSSLChecker(cfg, locations, logger))
	s.Register(core.KindDomain, NewDomainChecker(cfg, resolver, logger))
	s.Register(core.KindBlacklist, NewBlacklistChecker(cfg, resolver, providers, logger))
	return s
}

func (s *Set) Register(kind core.ResourceKind, p Prober) {
	s.probers[kind] = p
}

func (s *Set) Probe(ctx context.Context, res *core.Resource) core.ProbeResult {
	p, ok := s.probers[res.Kind]
	if !ok {
		return core.Failed(fmt.Errorf("%w: no prober for %q", core.ErrInvalidKind, res.Kind))
	}
	return p.Probe(ctx, res)
}

// Hostname extracts the bare host from a resource URL, which may or may not
// carry a scheme, path or port.
func Hostname(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", core.ErrInvalidURL
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrInvalidURL, err)
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", core.ErrInvalidURL
	}
	return host, nil
}

// RegistrableDomain strips a leading "www." so WHOIS is queried for the
// registered name.
func RegistrableDomain(host string) string {
	return strings.TrimPrefix(host, "www.")
}

func isIP(host string) bool {
	return net.ParseIP(host) != nil
}
