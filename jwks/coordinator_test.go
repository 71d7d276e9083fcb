package jwks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/accessjwt/forwardauth/internal/accesstest"
)

// fakeFetcher counts calls and delegates to fn.
type fakeFetcher struct {
	calls atomic.Int32
	fn    func(ctx context.Context) (*KeySet, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context) (*KeySet, error) {
	f.calls.Add(1)
	return f.fn(ctx)
}

func returning(set *KeySet, err error) *fakeFetcher {
	return &fakeFetcher{fn: func(context.Context) (*KeySet, error) { return set, err }}
}

// memoryMirror is an in-process Mirror.
type memoryMirror struct {
	mu      sync.Mutex
	snap    *Snapshot
	loadErr error
	saves   int
}

func (m *memoryMirror) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = &snap
	m.saves++
	return nil
}

func (m *memoryMirror) Load(context.Context) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return Snapshot{}, false, m.loadErr
	}
	if m.snap == nil {
		return Snapshot{}, false, nil
	}
	return *m.snap, true, nil
}

// recordingMetrics keeps the tags of every counter increment.
type recordingMetrics struct {
	mu       sync.Mutex
	counters map[string][]map[string]string
	gauges   map[string]float64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counters: map[string][]map[string]string{}, gauges: map[string]float64{}}
}

func (m *recordingMetrics) IncCounter(name string, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] = append(m.counters[name], tags)
}

func (m *recordingMetrics) ObserveHistogram(string, float64, map[string]string) {}

func (m *recordingMetrics) SetGauge(name string, value float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = value
}

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func Test_Coordinator_Refresh(t *testing.T) {
	key := accesstest.NewSigningKey(t, "kid")

	t.Run("a successful refresh replaces the set", func(t *testing.T) {
		set := newTestKeySet(t, key, "a")
		c, err := NewCoordinator(returning(set, nil), WithLogger(quietLogger()))
		require.NoError(t, err)

		require.NoError(t, c.Refresh(context.Background(), TriggerOperator))
		assert.Same(t, set, c.Current())

		st := c.Status()
		assert.Equal(t, StateIdle, st.State)
		assert.Equal(t, []string{"a"}, st.KeyIDs)
		assert.EqualValues(t, 1, st.Attempts)
		assert.NoError(t, st.LastError)
	})

	t.Run("a failed refresh keeps the previous set", func(t *testing.T) {
		good := newTestKeySet(t, key, "a", "b")
		boom := errors.New("boom")

		var fail atomic.Bool
		f := &fakeFetcher{fn: func(context.Context) (*KeySet, error) {
			if fail.Load() {
				return nil, boom
			}
			return good, nil
		}}
		c, err := NewCoordinator(f, WithLogger(quietLogger()))
		require.NoError(t, err)
		require.NoError(t, c.Refresh(context.Background(), TriggerStartup))

		fail.Store(true)
		err = c.Refresh(context.Background(), TriggerPeriodic)
		assert.ErrorIs(t, err, boom)
		assert.Same(t, good, c.Current())

		st := c.Status()
		assert.Equal(t, StateFailed, st.State)
		assert.ErrorIs(t, st.LastError, boom)
		assert.Equal(t, []string{"a", "b"}, st.KeyIDs)

		// Failed is not sticky.
		fail.Store(false)
		require.NoError(t, c.Refresh(context.Background(), TriggerOperator))
		assert.Equal(t, StateIdle, c.Status().State)
		assert.EqualValues(t, 3, c.Status().Attempts)
	})

	t.Run("concurrent triggers share one fetch", func(t *testing.T) {
		set := newTestKeySet(t, key, "a")
		started := make(chan struct{})
		release := make(chan struct{})
		var once sync.Once
		f := &fakeFetcher{fn: func(context.Context) (*KeySet, error) {
			once.Do(func() { close(started) })
			<-release
			return set, nil
		}}
		c, err := NewCoordinator(f, WithLogger(quietLogger()))
		require.NoError(t, err)

		const callers = 20
		errs := make(chan error, callers)
		go func() { errs <- c.Refresh(context.Background(), TriggerMiss) }()
		<-started
		assert.Equal(t, StateRefreshing, c.Status().State)

		for i := 1; i < callers; i++ {
			trigger := TriggerMiss
			if i%2 == 0 {
				trigger = TriggerOperator
			}
			go func() { errs <- c.Refresh(context.Background(), trigger) }()
		}
		// Give the joiners time to reach the in-flight call.
		time.Sleep(100 * time.Millisecond)
		close(release)

		for i := 0; i < callers; i++ {
			assert.NoError(t, <-errs)
		}
		assert.EqualValues(t, 1, f.calls.Load())
		assert.Same(t, set, c.Current())
	})

	t.Run("a waiter giving up does not cancel the fetch", func(t *testing.T) {
		set := newTestKeySet(t, key, "a")
		release := make(chan struct{})
		done := make(chan struct{})
		f := &fakeFetcher{fn: func(ctx context.Context) (*KeySet, error) {
			defer close(done)
			select {
			case <-release:
				return set, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}}
		c, err := NewCoordinator(f, WithLogger(quietLogger()))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err = c.Refresh(ctx, TriggerMiss)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		close(release)
		<-done
		require.Eventually(t, func() bool { return c.Current() == set }, time.Second, 5*time.Millisecond)
	})

	t.Run("the fetch is bounded by the fetch timeout", func(t *testing.T) {
		f := &fakeFetcher{fn: func(ctx context.Context) (*KeySet, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		c, err := NewCoordinator(f, WithLogger(quietLogger()), WithFetchTimeout(30*time.Millisecond))
		require.NoError(t, err)

		err = c.Refresh(context.Background(), TriggerOperator)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Zero(t, c.Current().Len())
	})

	t.Run("it records metrics and mirrors good sets", func(t *testing.T) {
		set := newTestKeySet(t, key, "a", "b")
		m := newRecordingMetrics()
		mirror := &memoryMirror{}
		c, err := NewCoordinator(returning(set, nil), WithLogger(quietLogger()), WithMetrics(m), WithMirror(mirror))
		require.NoError(t, err)

		require.NoError(t, c.Refresh(context.Background(), TriggerPeriodic))
		assert.Equal(t, []map[string]string{{"trigger": "periodic", "result": "success"}}, m.counters["forwardauth_keyset_refresh_total"])
		assert.Equal(t, 2.0, m.gauges["forwardauth_keyset_keys"])
		assert.Equal(t, 1, mirror.saves)
	})

	t.Run("it traces refreshes", func(t *testing.T) {
		recorder := tracetest.NewSpanRecorder()
		provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

		c, err := NewCoordinator(returning(nil, ErrNoUsableKeys),
			WithLogger(quietLogger()), WithTracer(provider.Tracer("test")))
		require.NoError(t, err)

		assert.Error(t, c.Refresh(context.Background(), TriggerMiss))

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "jwks.refresh", spans[0].Name())
		assert.Contains(t, spans[0].Attributes(), attribute.String("jwks.trigger", "miss"))
		assert.Equal(t, codes.Error, spans[0].Status().Code)
	})
}

func Test_Coordinator_Bootstrap(t *testing.T) {
	key := accesstest.NewSigningKey(t, "kid-1")
	doc := accesstest.Document(t, key)
	fetchedAt := time.Unix(1700000000, 0).UTC()

	t.Run("it falls back to the mirror when the upstream is down", func(t *testing.T) {
		mirror := &memoryMirror{snap: &Snapshot{Document: doc, FetchedAt: fetchedAt}}
		c, err := NewCoordinator(returning(nil, ErrFetch), WithLogger(quietLogger()), WithMirror(mirror))
		require.NoError(t, err)

		err = c.Bootstrap(context.Background())
		assert.ErrorIs(t, err, ErrFetch)
		assert.Equal(t, []string{"kid-1"}, c.Current().KeyIDs())
		assert.Equal(t, fetchedAt, c.Current().FetchedAt())
	})

	t.Run("without a mirrored set the store stays empty", func(t *testing.T) {
		c, err := NewCoordinator(returning(nil, ErrFetch), WithLogger(quietLogger()), WithMirror(&memoryMirror{}))
		require.NoError(t, err)

		assert.ErrorIs(t, c.Bootstrap(context.Background()), ErrFetch)
		assert.Zero(t, c.Current().Len())
	})

	t.Run("mirror errors are not fatal", func(t *testing.T) {
		mirror := &memoryMirror{loadErr: errors.New("connection refused")}
		c, err := NewCoordinator(returning(nil, ErrFetch), WithLogger(quietLogger()), WithMirror(mirror))
		require.NoError(t, err)

		assert.ErrorIs(t, c.Bootstrap(context.Background()), ErrFetch)
		assert.Zero(t, c.Current().Len())
	})

	t.Run("an unusable mirrored document is ignored", func(t *testing.T) {
		mirror := &memoryMirror{snap: &Snapshot{Document: []byte(`{"keys":[]}`), FetchedAt: fetchedAt}}
		c, err := NewCoordinator(returning(nil, ErrFetch), WithLogger(quietLogger()), WithMirror(mirror))
		require.NoError(t, err)

		assert.ErrorIs(t, c.Bootstrap(context.Background()), ErrFetch)
		assert.Zero(t, c.Current().Len())
	})

	t.Run("a successful startup fetch ignores the mirror", func(t *testing.T) {
		set := newTestKeySet(t, key, "fresh")
		mirror := &memoryMirror{snap: &Snapshot{Document: doc, FetchedAt: fetchedAt}}
		c, err := NewCoordinator(returning(set, nil), WithLogger(quietLogger()), WithMirror(mirror))
		require.NoError(t, err)

		require.NoError(t, c.Bootstrap(context.Background()))
		assert.Equal(t, []string{"fresh"}, c.Current().KeyIDs())
	})
}

func Test_Coordinator_Periodic(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	key := accesstest.NewSigningKey(t, "kid")
	f := returning(newTestKeySet(t, key, "a"), nil)
	c, err := NewCoordinator(f, WithLogger(quietLogger()), WithRefreshInterval(time.Second))
	require.NoError(t, err)

	require.NoError(t, c.Start())
	require.NoError(t, c.Start(), "starting twice is a no-op")

	require.Eventually(t, func() bool { return f.calls.Load() >= 1 }, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx), "stopping twice is a no-op")
}

func Test_NewCoordinator(t *testing.T) {
	f := returning(nil, nil)

	_, err := NewCoordinator(nil)
	assert.EqualError(t, err, "fetcher is required but was nil")

	tests := []struct {
		name string
		opt  CoordinatorOption
		want string
	}{
		{"nil store", WithStore(nil), "invalid option: store cannot be nil"},
		{"negative interval", WithRefreshInterval(-time.Second), "invalid option: refresh interval cannot be negative"},
		{"negative timeout", WithFetchTimeout(-time.Second), "invalid option: fetch timeout cannot be negative"},
		{"nil mirror", WithMirror(nil), "invalid option: mirror cannot be nil"},
		{"nil logger", WithLogger(nil), "invalid option: logger cannot be nil"},
		{"nil metrics", WithMetrics(nil), "invalid option: metrics cannot be nil"},
		{"nil tracer", WithTracer(nil), "invalid option: tracer cannot be nil"},
		{"nil clock", WithClock(nil), "invalid option: clock cannot be nil"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCoordinator(f, tc.opt)
			assert.EqualError(t, err, tc.want)
		})
	}

	t.Run("zero durations mean the defaults", func(t *testing.T) {
		c, err := NewCoordinator(f, WithRefreshInterval(0), WithFetchTimeout(0))
		require.NoError(t, err)
		assert.Equal(t, DefaultRefreshInterval, c.interval)
		assert.Equal(t, DefaultFetchTimeout, c.timeout)
	})
}
