package checks

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/config"
	"github.com/leozw/monitrix/internal/core"
	"github.com/leozw/monitrix/internal/rules"
)

// DefaultLocationID is the in-process probe location.
const DefaultLocationID = 1

type LocationSource interface {
	Location(ctx context.Context, id int64) (*core.ProbeLocation, error)
}

// agentCertificate is what a remote probe agent reports for host:port.
type agentCertificate struct {
	ValidFrom time.Time `json:"valid_from"`
	ValidTo   time.Time `json:"valid_to"`
	Issuer    string    `json:"issuer"`
	Subject   string    `json:"subject"`
}

type SSLChecker struct {
	timeout   time.Duration
	locations LocationSource
	agent     *resty.Client
	logger    *zap.Logger
	now       func() time.Time
}

func NewSSLChecker(cfg config.ProbesConfig, locations LocationSource, logger *zap.Logger) *SSLChecker {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	agent := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		agent.SetHeader("User-Agent", cfg.UserAgent)
	}
	return &SSLChecker{
		timeout:   timeout,
		locations: locations,
		agent:     agent,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *SSLChecker) Probe(ctx context.Context, res *core.Resource) core.ProbeResult {
	host, err := Hostname(res.URL)
	if err != nil {
		return core.Failed(err)
	}
	port := res.Settings.Port
	if port == 0 {
		port = 443
	}

	loc, err := s.location(ctx, res.Settings.LocationID)
	if err != nil {
		return core.Failed(err)
	}

	var cert *agentCertificate
	if loc != nil && loc.AgentURL != "" {
		cert, err = s.fromAgent(ctx, loc.AgentURL, host, port)
	} else {
		cert, err = s.dial(ctx, host, port)
	}
	if err != nil {
		return core.Failed(fmt.Errorf("%w: %v", core.ErrUnreachable, err))
	}

	now := s.now()
	validTo := cert.ValidTo.UTC()
	validFrom := cert.ValidFrom.UTC()
	details := &core.SSLDetails{
		Issuer:       cert.Issuer,
		Subject:      cert.Subject,
		ExpiringDays: rules.DaysUntil(validTo, now),
	}
	if loc != nil {
		details.Location = loc.Name
	}
	return core.Ok(&core.Measurement{
		CheckedAt: now.UTC(),
		ExpiresAt: &validTo,
		ValidFrom: &validFrom,
		SSL:       details,
	})
}

func (s *SSLChecker) location(ctx context.Context, id int64) (*core.ProbeLocation, error) {
	if s.locations == nil {
		return nil, nil
	}
	if id == 0 {
		id = DefaultLocationID
	}
	loc, err := s.locations.Location(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("probe location %d: %w", id, err)
	}
	return loc, nil
}

// dial reads the leaf certificate. Chain verification is skipped so expired
// or self-signed certificates still yield a measurement.
func (s *SSLChecker) dial(ctx context.Context, host string, port int) (*agentCertificate, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: s.timeout},
		Config: &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: true, //nolint:gosec
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("ssl connection failed: %w", err)
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificates presented by %s", host)
	}
	leaf := certs[0]
	return &agentCertificate{
		ValidFrom: leaf.NotBefore,
		ValidTo:   leaf.NotAfter,
		Issuer:    leaf.Issuer.String(),
		Subject:   leaf.Subject.String(),
	}, nil
}

func (s *SSLChecker) fromAgent(ctx context.Context, agentURL, host string, port int) (*agentCertificate, error) {
	var cert agentCertificate
	resp, err := s.agent.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"host": host, "port": strconv.Itoa(port)}).
		SetResult(&cert).
		Get(agentURL + "/ssl")
	if err != nil {
		return nil, fmt.Errorf("probe agent %s: %w", agentURL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("probe agent %s answered %d", agentURL, resp.StatusCode())
	}
	if cert.ValidTo.IsZero() {
		return nil, fmt.Errorf("probe agent %s returned no certificate", agentURL)
	}
	s.logger.Debug("ssl checked via agent",
		zap.String("agent", agentURL),
		zap.String("host", host),
		zap.Time("valid_to", cert.ValidTo))
	return &cert, nil
}
