package checks

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leozw/monitrix/internal/config"
	"github.com/leozw/monitrix/internal/core"
)

// ProviderSource returns the admin-managed DNSBL zones. An empty list means
// the configured defaults apply.
type ProviderSource interface {
	BlacklistProviders(ctx context.Context) ([]string, error)
}

type BlacklistChecker struct {
	resolver  HostResolver
	defaults  []string
	providers ProviderSource
	timeout   time.Duration
	parallel  int
	logger    *zap.Logger
	now       func() time.Time
}

func NewBlacklistChecker(cfg config.ProbesConfig, resolver HostResolver, providers ProviderSource, logger *zap.Logger) *BlacklistChecker {
	timeout := cfg.BlacklistTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	parallel := cfg.BlacklistParallel
	if parallel <= 0 {
		parallel = 16
	}
	return &BlacklistChecker{
		resolver:  resolver,
		defaults:  cfg.Blacklists,
		providers: providers,
		timeout:   timeout,
		parallel:  parallel,
		logger:    logger,
		now:       time.Now,
	}
}

// Probe resolves the target to an IPv4 address and queries every DNSBL zone
// for {reversed-ip}.{zone}. Provider errors and timeouts are recorded as not
// listed, so the result always has one entry per provider.
func (b *BlacklistChecker) Probe(ctx context.Context, res *core.Resource) core.ProbeResult {
	host, err := Hostname(res.URL)
	if err != nil {
		return core.Failed(err)
	}
	ip, err := b.resolveIP(ctx, host)
	if err != nil {
		return core.Failed(err)
	}
	reversed, err := ReverseIPv4(ip)
	if err != nil {
		return core.Failed(err)
	}

	zones := b.zones(ctx)
	entries := make([]core.BlacklistEntry, len(zones))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallel)
	for i, zone := range zones {
		i, zone := i, zone
		g.Go(func() error {
			entries[i] = b.query(gctx, reversed, zone)
			return nil
		})
	}
	_ = g.Wait()

	m := &core.Measurement{
		CheckedAt: b.now().UTC(),
		IP:        ip,
		Blacklist: entries,
	}
	b.logger.Debug("blacklist checked",
		zap.String("ip", ip),
		zap.Int("providers", len(zones)),
		zap.Int("listed", m.ListedCount()))
	return core.Ok(m)
}

func (b *BlacklistChecker) query(ctx context.Context, reversed, zone string) core.BlacklistEntry {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	addrs, err := b.resolver.LookupHost(ctx, reversed+"."+zone)
	entry := core.BlacklistEntry{
		Blacklist:    zone,
		ResponseTime: time.Since(start).Milliseconds(),
	}
	if err != nil {
		return entry
	}
	for _, a := range addrs {
		// 127.255.255.0/24 is the DNSBL "query refused" range, not a listing.
		if strings.HasPrefix(a, "127.255.255.") {
			continue
		}
		entry.Listed = true
		entry.Address = a
		break
	}
	return entry
}

func (b *BlacklistChecker) zones(ctx context.Context) []string {
	if b.providers != nil {
		zones, err := b.providers.BlacklistProviders(ctx)
		if err != nil {
			b.logger.Warn("loading blacklist providers, using configured list", zap.Error(err))
		} else if len(zones) > 0 {
			return zones
		}
	}
	return b.defaults
}

func (b *BlacklistChecker) resolveIP(ctx context.Context, host string) (string, error) {
	if isIP(host) {
		return host, nil
	}
	addrs, err := b.resolver.LookupHost(ctx, host)
	if err != nil {
		return "", fmt.Errorf("%w: resolving %s: %v", core.ErrUnreachable, host, err)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: no IPv4 address for %s", core.ErrUnreachable, host)
}

// ReverseIPv4 turns 1.2.3.4 into 4.3.2.1.
func ReverseIPv4(ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return "", fmt.Errorf("%w: %q is not an IPv4 address", core.ErrInvalidURL, ip)
	}
	o := parsed.To4()
	return fmt.Sprintf("%d.%d.%d.%d", o[3], o[2], o[1], o[0]), nil
}
