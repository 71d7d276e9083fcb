package jwks

import (
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/accessjwt/forwardauth/metrics"
)

// ============================================================================
// Fetcher Options
// ============================================================================

// FetcherOption is how options for the Fetcher are set up.
type FetcherOption func(*Fetcher) error

// WithHTTPClient sets the HTTP client used to reach the certs endpoint.
// If not specified, NewHTTPClient with the default timeouts is used.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) error {
		if client == nil {
			return errors.New("HTTP client cannot be nil")
		}
		f.client = client
		return nil
	}
}

// WithFetcherLogger sets the logger used for fetch diagnostics.
func WithFetcherLogger(logger logrus.FieldLogger) FetcherOption {
	return func(f *Fetcher) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		f.logger = logger
		return nil
	}
}

// WithMaxBodySize limits the size of the key-set document.
func WithMaxBodySize(n int64) FetcherOption {
	return func(f *Fetcher) error {
		if n <= 0 {
			return errors.New("max body size must be positive")
		}
		f.maxBodySize = n
		return nil
	}
}

// WithFetcherClock sets the time source stamped on fetched key sets.
func WithFetcherClock(now func() time.Time) FetcherOption {
	return func(f *Fetcher) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		f.now = now
		return nil
	}
}

// ============================================================================
// Coordinator Options
// ============================================================================

// CoordinatorOption is how options for the Coordinator are set up.
type CoordinatorOption func(*Coordinator) error

// WithStore sets the Store the coordinator refreshes.
func WithStore(store *Store) CoordinatorOption {
	return func(c *Coordinator) error {
		if store == nil {
			return errors.New("store cannot be nil")
		}
		c.store = store
		return nil
	}
}

// WithRefreshInterval sets the background refresh period. If not specified,
// defaults to 12 hours. Periods shorter than a second are rounded up to one.
func WithRefreshInterval(interval time.Duration) CoordinatorOption {
	return func(c *Coordinator) error {
		if interval < 0 {
			return errors.New("refresh interval cannot be negative")
		}
		if interval == 0 {
			interval = DefaultRefreshInterval
		}
		c.interval = interval
		return nil
	}
}

// WithFetchTimeout bounds a single upstream fetch, including the time an
// operator-triggered refresh waits for it. If not specified, defaults to
// 30 seconds.
func WithFetchTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) error {
		if timeout < 0 {
			return errors.New("fetch timeout cannot be negative")
		}
		if timeout == 0 {
			timeout = DefaultFetchTimeout
		}
		c.timeout = timeout
		return nil
	}
}

// WithMirror persists every good key set and seeds the store from it when
// the startup fetch fails.
func WithMirror(mirror Mirror) CoordinatorOption {
	return func(c *Coordinator) error {
		if mirror == nil {
			return errors.New("mirror cannot be nil")
		}
		c.mirror = mirror
		return nil
	}
}

// WithLogger sets the logger for refresh events.
func WithLogger(logger logrus.FieldLogger) CoordinatorOption {
	return func(c *Coordinator) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics sink for refresh attempts.
func WithMetrics(m metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) error {
		if m == nil {
			return errors.New("metrics cannot be nil")
		}
		c.metrics = m
		return nil
	}
}

// WithTracer sets the tracer used for refresh spans.
func WithTracer(tracer trace.Tracer) CoordinatorOption {
	return func(c *Coordinator) error {
		if tracer == nil {
			return errors.New("tracer cannot be nil")
		}
		c.tracer = tracer
		return nil
	}
}

// WithClock sets the time source used for refresh bookkeeping.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		c.now = now
		return nil
	}
}
