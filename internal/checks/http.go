package checks

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/leozw/monitrix/internal/config"
	"github.com/leozw/monitrix/internal/core"
)

const defaultMaxBody = 1 << 20

type HTTPChecker struct {
	client    *http.Client
	userAgent string
	maxBody   int64
}

func NewHTTPChecker(cfg config.ProbesConfig) *HTTPChecker {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &HTTPChecker{
		client:    newHTTPClient(timeout),
		userAgent: cfg.UserAgent,
		maxBody:   maxBody,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}
}

// Probe issues a GET and records the status code, the time to read the
// (bounded) body and, when configured, whether the search string appears.
// Any HTTP response is a measurement; only transport failures are Failed.
func (h *HTTPChecker) Probe(ctx context.Context, res *core.Resource) core.ProbeResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.URL, nil)
	if err != nil {
		return core.Failed(fmt.Errorf("%w: %v", core.ErrInvalidURL, err))
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return core.Failed(fmt.Errorf("%w: %v", core.ErrUnreachable, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBody))
	elapsed := time.Since(start)
	if err != nil {
		return core.Failed(fmt.Errorf("%w: reading body: %v", core.ErrUnreachable, err))
	}

	m := &core.Measurement{
		CheckedAt:  start.UTC(),
		StatusCode: resp.StatusCode,
		LoadTime:   elapsed.Seconds(),
		Body:       string(body),
	}
	if s := res.Settings.SearchString; s != "" {
		found := strings.Contains(m.Body, s)
		m.SearchString = s
		m.SearchFound = &found
	}
	return core.Ok(m)
}

// CheckReachable is the creation-time health check. The URL must answer
// without a transport error or a 5xx status, otherwise core.ErrUnreachable.
func (h *HTTPChecker) CheckReachable(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidURL, err)
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrUnreachable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, h.maxBody))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s answered %d", core.ErrUnreachable, rawURL, resp.StatusCode)
	}
	return nil
}
