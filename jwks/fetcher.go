package jwks

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

// Default transport limits for the upstream key endpoint.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultFetchTimeout   = 30 * time.Second

	// 1MB is generous for a key set (typically <10KB).
	defaultMaxBodySize = 1 * 1024 * 1024
)

// KeySetFetcher produces a complete, new KeySet on every call.
type KeySetFetcher interface {
	Fetch(ctx context.Context) (*KeySet, error)
}

// Fetcher retrieves the key set from the upstream certs endpoint.
type Fetcher struct {
	url         string
	client      *http.Client
	logger      logrus.FieldLogger
	maxBodySize int64
	now         func() time.Time
}

// NewHTTPClient returns a pooled client for the key endpoint: the dial is
// bounded by connectTimeout and the whole exchange by timeout.
func NewHTTPClient(connectTimeout, timeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 60 * time.Second,
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: timeout,
			ForceAttemptHTTP2:     true,
		},
	}
}

// NewFetcher builds a Fetcher for the given certs URL.
//
// Optional options:
//   - WithHTTPClient: Custom HTTP client (default: NewHTTPClient with default timeouts)
//   - WithFetcherLogger: Logger for skipped keys and fetch diagnostics
//   - WithMaxBodySize: Response size limit (default: 1MB)
func NewFetcher(certsURL string, opts ...FetcherOption) (*Fetcher, error) {
	u, err := url.Parse(certsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid certs URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("invalid certs URL %q: scheme must be http or https", certsURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid certs URL %q: missing host", certsURL)
	}

	f := &Fetcher{
		url:         u.String(),
		client:      NewHTTPClient(DefaultConnectTimeout, DefaultFetchTimeout),
		logger:      logrus.StandardLogger(),
		maxBodySize: defaultMaxBodySize,
		now:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}
	return f, nil
}

// URL returns the certs endpoint the Fetcher reads from.
func (f *Fetcher) URL() string { return f.url }

// Fetch downloads and parses the key set. The returned set is complete
// before it is handed back, so callers can swap it in atomically.
func (f *Fetcher) Fetch(ctx context.Context) (*KeySet, error) {
	logger := f.logger.WithField("url", f.url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	logger.Debug("requesting key set")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrFetch, err)
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", ErrMalformedKeySet, f.maxBodySize)
	}

	set, skipped, err := ParseKeySet(body, f.now())
	for _, s := range skipped {
		logger.WithFields(logrus.Fields{"kid": s.KeyID, "reason": s.Reason}).Warn("skipping unusable key")
	}
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"keys":    set.Len(),
		"entries": set.Len() + len(skipped),
	}).Info("fetched key set")
	return set, nil
}
