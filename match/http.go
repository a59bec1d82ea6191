package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultTimeout   = 3 * time.Second
	defaultRetries   = 2
	defaultRetryBase = 100 * time.Millisecond
	maxResponseBytes = 1 << 20
)

// ErrNoHost is returned when no upstream is configured for a region.
var ErrNoHost = errors.New("no match host for region")

// HTTPProvider fetches recommendations from a per-region upstream at
// GET {host}/{teachers|companies}/{role_id}/matchdata?size={prefetch}.
type HTTPProvider struct {
	hosts     map[string]string
	fallback  string
	client    *http.Client
	retries   uint64
	retryBase time.Duration
}

// HTTPOption customises an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvider) { p.client = c }
}

// WithTimeout sets the per-attempt request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(p *HTTPProvider) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// WithRetries sets how many times a failed GET is retried and the initial
// backoff between attempts.
func WithRetries(n uint64, base time.Duration) HTTPOption {
	return func(p *HTTPProvider) {
		p.retries = n
		if base > 0 {
			p.retryBase = base
		}
	}
}

// WithFallbackRegion names the region whose host serves regions without one.
func WithFallbackRegion(region string) HTTPOption {
	return func(p *HTTPProvider) { p.fallback = region }
}

// NewHTTPProvider returns a provider for the region → base URL map hosts.
func NewHTTPProvider(hosts map[string]string, opts ...HTTPOption) *HTTPProvider {
	cp := make(map[string]string, len(hosts))
	for region, host := range hosts {
		cp[region] = strings.TrimRight(host, "/")
	}
	p := &HTTPProvider{
		hosts:     cp,
		client:    &http.Client{Timeout: defaultTimeout},
		retries:   defaultRetries,
		retryBase: defaultRetryBase,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *HTTPProvider) Fetch(ctx context.Context, req Request) (Match, error) {
	host, ok := p.hosts[req.Region]
	if !ok {
		host, ok = p.hosts[p.fallback]
	}
	if !ok {
		return Match{}, fmt.Errorf("%w: %q", ErrNoHost, req.Region)
	}

	size := req.Prefetch
	if size <= 0 {
		size = DefaultPrefetch
	}
	u := fmt.Sprintf("%s/%s/%s/matchdata?%s", host, req.Role.Collection(),
		strconv.FormatInt(req.RoleID, 10), url.Values{"size": {strconv.Itoa(size)}}.Encode())

	var m Match
	backoff := retry.WithMaxRetries(p.retries, retry.NewExponential(p.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		got, err := p.get(ctx, u)
		if err != nil {
			return err
		}
		m = got
		return nil
	})
	if err != nil {
		return Match{}, err
	}
	return m.Normalize(), nil
}

func (p *HTTPProvider) get(ctx context.Context, u string) (Match, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Match{}, err
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Match{}, retry.RetryableError(fmt.Errorf("match request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return Match{}, retry.RetryableError(fmt.Errorf("match upstream returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return Match{}, fmt.Errorf("match upstream returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Match{}, retry.RetryableError(fmt.Errorf("reading match response: %w", err))
	}
	return decode(body)
}

// decode accepts the bare payload or one wrapped in the {code,msg,data}
// envelope used across the platform.
func decode(body []byte) (Match, error) {
	var wrapped struct {
		Data *Match `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Data != nil {
		return *wrapped.Data, nil
	}
	var m Match
	if err := json.Unmarshal(body, &m); err != nil {
		return Match{}, fmt.Errorf("decoding match response: %w", err)
	}
	return m, nil
}
