package checks

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/config"
	"github.com/leozw/monitrix/internal/core"
)

func TestHostname(t *testing.T) {
	cases := map[string]string{
		"example.com":                    "example.com",
		"http://Example.com/path?q=1":    "example.com",
		"https://www.example.com:8443/x": "www.example.com",
		"example.com.":                   "example.com",
	}
	for in, want := range cases {
		got, err := Hostname(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := Hostname("  ")
	assert.True(t, errors.Is(err, core.ErrInvalidURL))
}

func TestHTTPChecker_Probe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "monitrix-test", r.Header.Get("User-Agent"))
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("<html>Welcome home</html>"))
	}))
	defer srv.Close()

	h := NewHTTPChecker(config.ProbesConfig{HTTPTimeout: 5 * time.Second, UserAgent: "monitrix-test"})

	res := h.Probe(context.Background(), &core.Resource{URL: srv.URL, Settings: core.Settings{SearchString: "Welcome"}})
	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, http.StatusOK, res.Measurement.StatusCode)
	assert.Greater(t, res.Measurement.LoadTime, 0.0)
	require.NotNil(t, res.Measurement.SearchFound)
	assert.True(t, *res.Measurement.SearchFound)

	res = h.Probe(context.Background(), &core.Resource{URL: srv.URL, Settings: core.Settings{SearchString: "Goodbye"}})
	require.True(t, res.OK())
	assert.False(t, *res.Measurement.SearchFound)

	res = h.Probe(context.Background(), &core.Resource{URL: srv.URL + "/broken"})
	require.True(t, res.OK(), "a 503 is still a measurement")
	assert.Equal(t, http.StatusServiceUnavailable, res.Measurement.StatusCode)
	assert.Nil(t, res.Measurement.SearchFound)
}

func TestHTTPChecker_ProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	h := NewHTTPChecker(config.ProbesConfig{HTTPTimeout: time.Second})
	res := h.Probe(context.Background(), &core.Resource{URL: addr})
	assert.False(t, res.OK())
	assert.True(t, errors.Is(res.Err, core.ErrUnreachable))
}

func TestHTTPChecker_BodyIsBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789needle"))
	}))
	defer srv.Close()

	h := NewHTTPChecker(config.ProbesConfig{MaxBodyBytes: 10})
	res := h.Probe(context.Background(), &core.Resource{URL: srv.URL, Settings: core.Settings{SearchString: "needle"}})
	require.True(t, res.OK())
	assert.False(t, *res.Measurement.SearchFound)
}

func TestHTTPChecker_CheckReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	h := NewHTTPChecker(config.ProbesConfig{})
	assert.NoError(t, h.CheckReachable(context.Background(), srv.URL))
	assert.NoError(t, h.CheckReachable(context.Background(), srv.URL+"/missing"))
	assert.True(t, errors.Is(h.CheckReachable(context.Background(), srv.URL+"/down"), core.ErrUnreachable))
}

type fakeLocations map[int64]*core.ProbeLocation

func (f fakeLocations) Location(_ context.Context, id int64) (*core.ProbeLocation, error) {
	loc, ok := f[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return loc, nil
}

func TestSSLChecker_LocalDial(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	s := NewSSLChecker(config.ProbesConfig{HTTPTimeout: 5 * time.Second}, fakeLocations{1: {ID: 1, Name: "local"}}, zap.NewNop())
	res := s.Probe(context.Background(), &core.Resource{Kind: core.KindSSL, URL: srv.URL, Settings: core.Settings{Port: port}})
	require.True(t, res.OK(), "%v", res.Err)

	cert := srv.Certificate()
	require.NotNil(t, res.Measurement.ExpiresAt)
	assert.True(t, cert.NotAfter.Equal(*res.Measurement.ExpiresAt))
	assert.True(t, cert.NotBefore.Equal(*res.Measurement.ValidFrom))
	assert.Equal(t, "local", res.Measurement.SSL.Location)
	assert.Greater(t, res.Measurement.SSL.ExpiringDays, 0)
}

func TestSSLChecker_Agent(t *testing.T) {
	validTo := time.Now().Add(10 * 24 * time.Hour).UTC().Truncate(time.Second)
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ssl", r.URL.Path)
		assert.Equal(t, "example.com", r.URL.Query().Get("host"))
		assert.Equal(t, "443", r.URL.Query().Get("port"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"valid_from":"2025-01-01T00:00:00Z","valid_to":"` + validTo.Format(time.RFC3339) + `","issuer":"CN=Test CA","subject":"CN=example.com"}`))
	}))
	defer agent.Close()

	locs := fakeLocations{2: {ID: 2, Name: "frankfurt", CountryCode: "DE", AgentURL: agent.URL}}
	s := NewSSLChecker(config.ProbesConfig{}, locs, zap.NewNop())
	res := s.Probe(context.Background(), &core.Resource{Kind: core.KindSSL, URL: "https://example.com", Settings: core.Settings{LocationID: 2}})
	require.True(t, res.OK(), "%v", res.Err)
	assert.True(t, validTo.Equal(*res.Measurement.ExpiresAt))
	assert.Equal(t, "CN=Test CA", res.Measurement.SSL.Issuer)
	assert.Equal(t, "frankfurt", res.Measurement.SSL.Location)
	assert.InDelta(t, 9, res.Measurement.SSL.ExpiringDays, 1)
}

func TestSSLChecker_AgentError(t *testing.T) {
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer agent.Close()

	s := NewSSLChecker(config.ProbesConfig{}, fakeLocations{1: {ID: 1, AgentURL: agent.URL}}, zap.NewNop())
	res := s.Probe(context.Background(), &core.Resource{URL: "https://example.com"})
	assert.False(t, res.OK())
	assert.True(t, errors.Is(res.Err, core.ErrUnreachable))
}

type fakeResolver struct {
	mu      sync.Mutex
	answers map[string][]string
	hang    map[string]bool
	queried []string
}

func (f *fakeResolver) LookupHost(ctx context.Context, name string) ([]string, error) {
	f.mu.Lock()
	f.queried = append(f.queried, name)
	f.mu.Unlock()
	if f.hang[name] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a, ok := f.answers[name]; ok {
		return a, nil
	}
	return nil, errNoSuchHost
}

func TestBlacklistChecker_Probe(t *testing.T) {
	r := &fakeResolver{
		answers: map[string][]string{
			"mail.example.com":            {"192.0.2.10"},
			"10.2.0.192.zen.spamhaus.org": {"127.0.0.2"},
			"10.2.0.192.bl.refused.org":   {"127.255.255.254"},
		},
		hang: map[string]bool{"10.2.0.192.slow.example.org": true},
	}
	zones := []string{"zen.spamhaus.org", "b.barracudacentral.org", "bl.refused.org", "slow.example.org"}
	b := NewBlacklistChecker(config.ProbesConfig{Blacklists: zones, BlacklistTimeout: 50 * time.Millisecond}, r, nil, zap.NewNop())

	res := b.Probe(context.Background(), &core.Resource{Kind: core.KindBlacklist, URL: "http://mail.example.com"})
	require.True(t, res.OK(), "%v", res.Err)
	m := res.Measurement
	assert.Equal(t, "192.0.2.10", m.IP)
	require.Len(t, m.Blacklist, len(zones))

	byZone := map[string]core.BlacklistEntry{}
	for _, e := range m.Blacklist {
		byZone[e.Blacklist] = e
	}
	assert.True(t, byZone["zen.spamhaus.org"].Listed)
	assert.Equal(t, "127.0.0.2", byZone["zen.spamhaus.org"].Address)
	assert.False(t, byZone["b.barracudacentral.org"].Listed)
	assert.False(t, byZone["bl.refused.org"].Listed)
	assert.False(t, byZone["slow.example.org"].Listed)
	assert.Equal(t, 1, m.ListedCount())
}

type fakeProviders struct {
	zones []string
	err   error
}

func (f fakeProviders) BlacklistProviders(context.Context) ([]string, error) { return f.zones, f.err }

func TestBlacklistChecker_ProviderOverride(t *testing.T) {
	r := &fakeResolver{}
	cfg := config.ProbesConfig{Blacklists: []string{"a.example", "b.example"}}

	b := NewBlacklistChecker(cfg, r, fakeProviders{zones: []string{"custom.example"}}, zap.NewNop())
	res := b.Probe(context.Background(), &core.Resource{URL: "198.51.100.7"})
	require.True(t, res.OK())
	require.Len(t, res.Measurement.Blacklist, 1)
	assert.Equal(t, "custom.example", res.Measurement.Blacklist[0].Blacklist)

	b = NewBlacklistChecker(cfg, r, fakeProviders{err: errors.New("db down")}, zap.NewNop())
	res = b.Probe(context.Background(), &core.Resource{URL: "198.51.100.7"})
	require.True(t, res.OK())
	assert.Len(t, res.Measurement.Blacklist, 2)
}

func TestBlacklistChecker_UnresolvableHost(t *testing.T) {
	b := NewBlacklistChecker(config.ProbesConfig{Blacklists: []string{"a.example"}}, &fakeResolver{}, nil, zap.NewNop())
	res := b.Probe(context.Background(), &core.Resource{URL: "http://nowhere.invalid"})
	assert.False(t, res.OK())
	assert.True(t, errors.Is(res.Err, core.ErrUnreachable))
}

func TestReverseIPv4(t *testing.T) {
	got, err := ReverseIPv4("1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "4.3.2.1", got)

	_, err = ReverseIPv4("2001:db8::1")
	assert.Error(t, err)
}

type fakeWhois struct {
	raw string
	err error
}

func (f fakeWhois) Whois(string, ...string) (string, error) { return f.raw, f.err }

type fakeRecords []core.DNSRecord

func (f fakeRecords) Records(context.Context, string) []core.DNSRecord { return f }

const sampleWhois = `Domain Name: EXAMPLE.COM
Registrar: Example Registrar, Inc.
Updated Date: 2024-08-14T07:01:34Z
Creation Date: 1995-08-14T04:00:00Z
Registry Expiry Date: 2030-08-13T04:00:00Z
Name Server: A.IANA-SERVERS.NET
Name Server: B.IANA-SERVERS.NET
`

func TestDomainChecker_Probe(t *testing.T) {
	records := fakeRecords{
		{Type: "A", Address: "93.184.215.14"},
		{Type: "NS", Value: "ns1.example.net"},
	}
	d := NewDomainCheckerWith(fakeWhois{raw: sampleWhois}, records, zap.NewNop())

	res := d.Probe(context.Background(), &core.Resource{Kind: core.KindDomain, URL: "http://www.example.com"})
	require.True(t, res.OK(), "%v", res.Err)
	m := res.Measurement
	assert.Equal(t, time.Date(2030, 8, 13, 4, 0, 0, 0, time.UTC), *m.ExpiresAt)
	assert.Equal(t, 1995, m.RegisteredOn.Year())
	assert.Equal(t, 2024, m.UpdatedOn.Year())
	assert.Equal(t, []string{"ns1.example.net"}, m.Domain.NameServers)
	assert.Len(t, m.Domain.DNSRecords, 2)
	assert.Equal(t, "Example Registrar, Inc.", m.Domain.Whois.Registrar["Name"])
}

func TestDomainChecker_FallsBackToWhoisNameServers(t *testing.T) {
	d := NewDomainCheckerWith(fakeWhois{raw: sampleWhois}, fakeRecords{}, zap.NewNop())
	res := d.Probe(context.Background(), &core.Resource{URL: "example.com"})
	require.True(t, res.OK())
	assert.Equal(t, []string{"a.iana-servers.net", "b.iana-servers.net"}, res.Measurement.Domain.NameServers)
}

func TestDomainChecker_Failures(t *testing.T) {
	d := NewDomainCheckerWith(fakeWhois{err: errors.New("connection refused")}, nil, zap.NewNop())
	res := d.Probe(context.Background(), &core.Resource{URL: "example.com"})
	assert.False(t, res.OK())

	d = NewDomainCheckerWith(fakeWhois{raw: "No match for domain"}, nil, zap.NewNop())
	res = d.Probe(context.Background(), &core.Resource{URL: "example.com"})
	assert.False(t, res.OK())
	assert.True(t, errors.Is(res.Err, errNoExpiry))
}

func TestSet_UnknownKind(t *testing.T) {
	s := NewSet()
	s.Register(core.KindWebsite, ProberFunc(func(context.Context, *core.Resource) core.ProbeResult {
		return core.Ok(&core.Measurement{StatusCode: 200})
	}))

	assert.True(t, s.Probe(context.Background(), &core.Resource{Kind: core.KindWebsite}).OK())
	res := s.Probe(context.Background(), &core.Resource{Kind: core.KindSSL})
	assert.True(t, errors.Is(res.Err, core.ErrInvalidKind))
}

func startDNS(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestDNSResolver(t *testing.T) {
	addr := startDNS(t, func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		q := req.Question[0]
		if q.Name != "example.com." {
			m.Rcode = dns.RcodeNameError
			_ = w.WriteMsg(m)
			return
		}
		hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: 300}
		switch q.Qtype {
		case dns.TypeA:
			m.Answer = append(m.Answer, &dns.A{Hdr: hdr, A: net.ParseIP("192.0.2.1")})
		case dns.TypeMX:
			m.Answer = append(m.Answer, &dns.MX{Hdr: hdr, Preference: 10, Mx: "mail.example.com."})
		case dns.TypeNS:
			m.Answer = append(m.Answer, &dns.NS{Hdr: hdr, Ns: "ns1.example.com."})
		case dns.TypeTXT:
			m.Answer = append(m.Answer, &dns.TXT{Hdr: hdr, Txt: []string{"v=spf1 -all"}})
		case dns.TypeCAA:
			m.Answer = append(m.Answer, &dns.CAA{Hdr: hdr, Flag: 0, Tag: "issue", Value: "letsencrypt.org"})
		}
		_ = w.WriteMsg(m)
	})

	r := NewDNSResolver(addr, 2*time.Second)

	addrs, err := r.LookupHost(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.1"}, addrs)

	_, err = r.LookupHost(context.Background(), "missing.example.org")
	assert.True(t, errors.Is(err, errNoSuchHost))

	records := r.Records(context.Background(), "example.com")
	types := map[string]core.DNSRecord{}
	for _, rec := range records {
		types[rec.Type] = rec
	}
	assert.Equal(t, "mail.example.com", types["MX"].Exchange)
	assert.Equal(t, uint16(10), types["MX"].Priority)
	assert.Equal(t, []string{"v=spf1 -all"}, types["TXT"].Entries)
	assert.Equal(t, "letsencrypt.org", types["CAA"].Issue)
	assert.Equal(t, uint32(300), types["A"].TTL)
	assert.Equal(t, []string{"ns1.example.com"}, NameServers(records))
}
