package jwks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/accessjwt/forwardauth/metrics"
)

// DefaultRefreshInterval is how often the key set is refreshed in the background.
const DefaultRefreshInterval = 12 * time.Hour

const (
	tracerName      = "github.com/accessjwt/forwardauth/jwks"
	flightKey       = "jwks"
	mirrorSaveLimit = 5 * time.Second
)

// Trigger names what asked for a refresh.
type Trigger string

const (
	TriggerStartup  Trigger = "startup"
	TriggerPeriodic Trigger = "periodic"
	TriggerMiss     Trigger = "miss"
	TriggerOperator Trigger = "operator"
)

// State is the refresh state reported by Status.
type State int

const (
	StateIdle State = iota
	StateRefreshing
	// StateFailed means the last attempt failed. It is not sticky: the next
	// trigger starts a new attempt.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the coordinator for diagnostics.
type Status struct {
	State       State
	KeyIDs      []string
	FetchedAt   time.Time
	LastAttempt time.Time
	LastSuccess time.Time
	LastError   error
	Attempts    uint64
}

// Coordinator owns the refresh policy for a Store. Periodic, miss and
// operator triggers all funnel into one single-flight fetch: while a fetch
// is running, every other trigger waits for its result instead of starting
// another. A failed fetch leaves the Store untouched.
type Coordinator struct {
	fetcher  KeySetFetcher
	store    *Store
	mirror   Mirror
	logger   logrus.FieldLogger
	metrics  metrics.Metrics
	tracer   trace.Tracer
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	group singleflight.Group

	mu          sync.Mutex
	inFlight    bool
	attempts    uint64
	lastAttempt time.Time
	lastSuccess time.Time
	lastErr     error

	cronMu sync.Mutex
	cron   *cron.Cron
}

// NewCoordinator builds a Coordinator around the given fetcher.
//
// Optional options:
//   - WithStore: Store to manage (default: a new empty Store)
//   - WithRefreshInterval: Background refresh period (default: 12 hours)
//   - WithFetchTimeout: Bound on a single fetch (default: 30 seconds)
//   - WithMirror: Persist good key sets for warm starts
//   - WithLogger, WithMetrics, WithTracer
func NewCoordinator(fetcher KeySetFetcher, opts ...CoordinatorOption) (*Coordinator, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required but was nil")
	}

	c := &Coordinator{
		fetcher:  fetcher,
		store:    NewStore(),
		logger:   logrus.StandardLogger(),
		metrics:  &metrics.NoopMetrics{},
		tracer:   otel.Tracer(tracerName),
		interval: DefaultRefreshInterval,
		timeout:  DefaultFetchTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}
	return c, nil
}

// Current returns the active key set.
func (c *Coordinator) Current() *KeySet {
	return c.store.Current()
}

// Refresh fetches a new key set, joining a fetch already in flight if there
// is one. It returns once that fetch has completed or ctx is done; the fetch
// itself is bounded by the fetch timeout and is not cancelled when a single
// waiter gives up.
func (c *Coordinator) Refresh(ctx context.Context, trigger Trigger) error {
	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		return nil, c.refresh(trigger)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.logger.WithField("trigger", trigger).Debug("joined in-flight key set refresh")
		}
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("waiting for key set refresh: %w", ctx.Err())
	}
}

func (c *Coordinator) refresh(trigger Trigger) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "jwks.refresh", trace.WithAttributes(
		attribute.String("jwks.trigger", string(trigger)),
	))
	defer span.End()

	logger := c.logger.WithField("trigger", trigger)
	logger.Info("refreshing key set")

	started := c.now()
	c.mu.Lock()
	c.inFlight = true
	c.attempts++
	c.lastAttempt = started
	c.mu.Unlock()

	set, err := c.fetcher.Fetch(ctx)
	elapsed := c.now().Sub(started)
	c.metrics.ObserveHistogram(metrics.RefreshDurationSeconds, elapsed.Seconds(), nil)

	c.mu.Lock()
	c.inFlight = false
	if err != nil {
		c.lastErr = err
		c.mu.Unlock()

		c.metrics.IncCounter(metrics.RefreshTotal, map[string]string{"trigger": string(trigger), "result": "failure"})
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		logger.WithError(err).WithField("serving_keys", c.store.Current().Len()).Error("key set refresh failed, keeping previous keys")
		return err
	}
	c.store.Replace(set)
	c.lastErr = nil
	c.lastSuccess = set.FetchedAt()
	c.mu.Unlock()

	c.metrics.IncCounter(metrics.RefreshTotal, map[string]string{"trigger": string(trigger), "result": "success"})
	c.metrics.SetGauge(metrics.KeySetKeys, float64(set.Len()), nil)
	c.metrics.SetGauge(metrics.KeySetLastSuccessSecond, float64(set.FetchedAt().Unix()), nil)
	span.SetAttributes(attribute.Int("jwks.keys", set.Len()))
	logger.WithFields(logrus.Fields{
		"keys":     set.Len(),
		"duration": elapsed,
	}).Info("key set refreshed")

	c.saveMirror(set)
	return nil
}

func (c *Coordinator) saveMirror(set *KeySet) {
	if c.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorSaveLimit)
	defer cancel()

	snap := Snapshot{Document: set.Source(), FetchedAt: set.FetchedAt()}
	if err := c.mirror.Save(ctx, snap); err != nil {
		c.logger.WithError(err).Warn("could not mirror key set")
	}
}

// Bootstrap performs the startup fetch. If it fails and a Mirror is
// configured, the last mirrored key set is installed so validation can
// proceed. The fetch error is returned either way; it is not fatal.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	err := c.Refresh(ctx, TriggerStartup)
	if err == nil || c.mirror == nil {
		return err
	}

	snap, found, mErr := c.mirror.Load(ctx)
	switch {
	case mErr != nil:
		c.logger.WithError(mErr).Warn("could not load mirrored key set")
		return err
	case !found:
		c.logger.Info("no mirrored key set available")
		return err
	}

	set, _, pErr := ParseKeySet(snap.Document, snap.FetchedAt)
	if pErr != nil {
		c.logger.WithError(pErr).Warn("mirrored key set is unusable")
		return err
	}

	c.mu.Lock()
	if c.store.Current().Len() == 0 {
		c.store.Replace(set)
		c.logger.WithFields(logrus.Fields{
			"keys":       set.Len(),
			"fetched_at": set.FetchedAt(),
		}).Warn("serving mirrored key set until the upstream is reachable")
		c.metrics.SetGauge(metrics.KeySetKeys, float64(set.Len()), nil)
	}
	c.mu.Unlock()
	return err
}

// Start schedules the periodic refresh. Calling Start on a running
// coordinator is a no-op.
func (c *Coordinator) Start() error {
	c.cronMu.Lock()
	defer c.cronMu.Unlock()

	if c.cron != nil {
		return nil
	}

	cronLogger := cron.PrintfLogger(c.logger)
	cr := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	cr.Schedule(cron.Every(c.interval), cron.FuncJob(func() {
		// Failures are logged and recorded by refresh.
		_ = c.Refresh(context.Background(), TriggerPeriodic)
	}))
	cr.Start()
	c.cron = cr

	c.logger.WithField("interval", c.interval).Info("scheduled periodic key set refresh")
	return nil
}

// Stop cancels the periodic refresh and waits for a running one to finish
// or for ctx to be done.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.cronMu.Lock()
	cr := c.cron
	c.cron = nil
	c.cronMu.Unlock()

	if cr == nil {
		return nil
	}
	select {
	case <-cr.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports the coordinator's state.
func (c *Coordinator) Status() Status {
	set := c.store.Current()

	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:       StateIdle,
		KeyIDs:      set.KeyIDs(),
		FetchedAt:   set.FetchedAt(),
		LastAttempt: c.lastAttempt,
		LastSuccess: c.lastSuccess,
		LastError:   c.lastErr,
		Attempts:    c.attempts,
	}
	switch {
	case c.inFlight:
		st.State = StateRefreshing
	case c.lastErr != nil:
		st.State = StateFailed
	}
	return st
}
