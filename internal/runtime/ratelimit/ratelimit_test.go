package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hperrors "github.com/drblury/hubprovider/internal/runtime/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// sleeper advances the fake clock instead of blocking and records each wait.
type sleeper struct {
	clock *fakeClock
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	s.clock.Advance(d)
	return nil
}

func fakeOpts() (*fakeClock, *sleeper, []Option) {
	clock := newFakeClock()
	sl := &sleeper{clock: clock}
	return clock, sl, []Option{WithClock(clock), WithSleeper(sl.Sleep)}
}

func noop(context.Context) error { return nil }

func TestNoLimitNeverLimits(t *testing.T) {
	m := NewNoLimit()
	for range 100 {
		d, err := m.Check(context.Background())
		require.NoError(t, err)
		assert.False(t, d.Limited)
		require.NoError(t, m.Execute(context.Background(), noop))
	}
}

func TestFixedDelayWaitTime(t *testing.T) {
	clock, _, opts := fakeOpts()
	m := NewFixedDelay(2*time.Second, opts...)
	ctx := context.Background()

	d, err := m.Check(ctx)
	require.NoError(t, err)
	assert.False(t, d.Limited, "first call is never limited")

	require.NoError(t, m.Execute(ctx, noop))
	clock.Advance(500 * time.Millisecond)

	d, err = m.Check(ctx)
	require.NoError(t, err)
	assert.True(t, d.Limited)
	assert.Equal(t, 1500*time.Millisecond, d.WaitTime)
	assert.InDelta(t, 1.5, d.WaitSeconds(), 1e-9)

	clock.Advance(1500 * time.Millisecond)
	d, err = m.Check(ctx)
	require.NoError(t, err)
	assert.False(t, d.Limited)
}

func TestFixedDelayExecuteWaitsOut(t *testing.T) {
	clock, sl, opts := fakeOpts()
	m := NewFixedDelay(time.Second, opts...)
	ctx := context.Background()

	calls := []time.Time{}
	op := func(context.Context) error {
		calls = append(calls, clock.Now())
		return nil
	}
	for range 3 {
		require.NoError(t, m.Execute(ctx, op))
	}
	require.Len(t, calls, 3)
	assert.Equal(t, time.Second, calls[1].Sub(calls[0]))
	assert.Equal(t, time.Second, calls[2].Sub(calls[1]))
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sl.waits)
}

func TestCheckDoesNotRecord(t *testing.T) {
	_, _, opts := fakeOpts()
	monitors := map[string]Monitor{
		"fixed":     NewFixedDelay(time.Second, opts...),
		"threshold": NewThresholdBucket(ThresholdConfig{MaxCalls: 1, Window: time.Second}, opts...),
		"sliding":   NewSlidingWindow(time.Second, 1, opts...),
		"shared":    NewShared(NewMemoryStore(), "k", time.Second, 1, opts...),
	}
	for name, m := range monitors {
		t.Run(name, func(t *testing.T) {
			for range 5 {
				d, err := m.Check(context.Background())
				require.NoError(t, err)
				assert.False(t, d.Limited)
			}
		})
	}
}

func TestThresholdBucketLevels(t *testing.T) {
	clock, _, opts := fakeOpts()
	m := NewThresholdBucket(ThresholdConfig{MaxCalls: 10, Window: time.Second}, opts...)
	ctx := context.Background()

	for range 8 {
		require.NoError(t, m.Execute(ctx, noop))
	}
	assert.True(t, m.IsNearLimit())
	assert.False(t, m.IsCritical())

	require.NoError(t, m.Execute(ctx, noop))
	assert.True(t, m.IsCritical())

	d, err := m.Check(ctx)
	require.NoError(t, err)
	assert.False(t, d.Limited, "90%% usage is critical but not limited")
	assert.Equal(t, true, d.Metrics["is_critical"])

	require.NoError(t, m.Execute(ctx, noop))
	d, err = m.Check(ctx)
	require.NoError(t, err)
	assert.True(t, d.Limited)
	assert.Equal(t, time.Second, d.WaitTime)
	assert.Equal(t, int64(10), d.Metrics["total_calls"])

	clock.Advance(time.Second)
	assert.False(t, m.IsNearLimit())
}

func TestThresholdBucketTracksOperationTime(t *testing.T) {
	clock, _, opts := fakeOpts()
	m := NewThresholdBucket(ThresholdConfig{MaxCalls: 1, Window: time.Second}, opts...)
	ctx := context.Background()

	slow := func(context.Context) error {
		clock.Advance(300 * time.Millisecond)
		return nil
	}
	require.NoError(t, m.Execute(ctx, slow))
	require.NoError(t, m.Execute(ctx, slow))

	d, err := m.Check(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, d.Metrics["total_time"], 1e-9)
	assert.InDelta(t, 0.3, d.Metrics["average_time"], 1e-9)
	assert.Equal(t, int64(1), d.Metrics["throttled"])
}

func TestExecutePropagatesOperationError(t *testing.T) {
	boom := errors.New("boom")
	_, _, opts := fakeOpts()
	m := NewSlidingWindow(time.Second, 5, opts...)
	assert.ErrorIs(t, m.Execute(context.Background(), func(context.Context) error { return boom }), boom)
}

func TestSlidingWindowRoundTrip(t *testing.T) {
	clock, _, opts := fakeOpts()
	m := NewSlidingWindow(10*time.Second, 3, opts...)
	ctx := context.Background()

	for range 3 {
		require.NoError(t, m.Execute(ctx, noop))
		clock.Advance(time.Second)
	}

	d, err := m.Check(ctx)
	require.NoError(t, err)
	assert.True(t, d.Limited)
	assert.Equal(t, 7*time.Second, d.WaitTime)

	clock.Advance(d.WaitTime)
	d, err = m.Check(ctx)
	require.NoError(t, err)
	assert.False(t, d.Limited, "oldest request has left the window")
	assert.Equal(t, 2, d.Metrics["requests"])
}

func TestSlidingWindowConcurrentExecuteNeverExceedsLimit(t *testing.T) {
	clock := newFakeClock()
	blocked := make(chan struct{})
	sleep := func(ctx context.Context, d time.Duration) error {
		select {
		case <-blocked:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m := NewSlidingWindow(time.Minute, 5, WithClock(clock), WithSleeper(sleep))

	ctx, cancel := context.WithCancel(context.Background())
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ran   int
		waits int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Execute(ctx, func(context.Context) error {
				mu.Lock()
				ran++
				mu.Unlock()
				return nil
			})
			if err != nil {
				mu.Lock()
				waits++
				mu.Unlock()
			}
		}()
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran == 5
	}, time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()

	assert.Equal(t, 5, ran)
	assert.Equal(t, 15, waits)
}

func TestSharedMonitorsShareBudget(t *testing.T) {
	clock, _, opts := fakeOpts()
	store := NewMemoryStore()
	a := NewShared(store, "api", time.Minute, 2, opts...)
	b := NewShared(store, "api", time.Minute, 2, opts...)
	other := NewShared(store, "other", time.Minute, 2, opts...)
	ctx := context.Background()

	require.NoError(t, a.Execute(ctx, noop))
	require.NoError(t, b.Execute(ctx, noop))

	d, err := a.Check(ctx)
	require.NoError(t, err)
	assert.True(t, d.Limited)
	assert.Equal(t, "api", d.Metrics["key"])

	d, err = other.Check(ctx)
	require.NoError(t, err)
	assert.False(t, d.Limited)

	clock.Advance(time.Minute)
	d, err = b.Check(ctx)
	require.NoError(t, err)
	assert.False(t, d.Limited)
}

func TestSQLStoreSQLite(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "limits.db")
	store, err := OpenSQLStore(ctx, "sqlite3", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	now := time.Unix(1700000000, 0)
	for i := range 3 {
		u, err := store.Admit(ctx, "k", now.Add(time.Duration(i)*time.Second), 10*time.Second, 3, true)
		require.NoError(t, err)
		assert.Equal(t, i, u.Count)
	}

	u, err := store.Admit(ctx, "k", now.Add(3*time.Second), 10*time.Second, 3, true)
	require.NoError(t, err)
	assert.Equal(t, 3, u.Count)
	assert.True(t, u.Oldest.Equal(now))

	u, err = store.Admit(ctx, "k", now.Add(10*time.Second), 10*time.Second, 3, false)
	require.NoError(t, err)
	assert.Equal(t, 2, u.Count, "entry at exactly the window edge is pruned")

	_, _, opts := fakeOpts()
	m := NewShared(store, "monitor", time.Second, 1, opts...)
	require.NoError(t, m.Execute(ctx, noop))
	d, err := m.Check(ctx)
	require.NoError(t, err)
	assert.True(t, d.Limited)
	assert.Equal(t, time.Second, d.WaitTime)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "a.db?_txlock=immediate&_busy_timeout=5000", sqliteDSN("a.db"))
	assert.Equal(t, "a.db?mode=rwc&_txlock=immediate&_busy_timeout=5000", sqliteDSN("a.db?mode=rwc"))
	assert.Equal(t, "a.db?_txlock=deferred&_busy_timeout=1", sqliteDSN("a.db?_txlock=deferred&_busy_timeout=1"))
}

func TestOpenSQLStoreRejectsUnknownDriver(t *testing.T) {
	_, err := OpenSQLStore(context.Background(), "mysql", "x")
	assert.ErrorContains(t, err, "unsupported store driver")
}

func TestLimitedError(t *testing.T) {
	err := fmt.Errorf("call api: %w", &LimitedError{Decision: Decision{Limited: true, WaitTime: 3 * time.Second}, Reason: "quota"})
	limited, ok := AsLimited(err)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, limited.Decision.WaitTime)
	assert.Contains(t, err.Error(), "rate limited: quota")

	_, ok = AsLimited(errors.New("plain"))
	assert.False(t, ok)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"empty means none", Config{}, ""},
		{"fixed delay ok", Config{Strategy: "fixed_delay", MinDelay: time.Second}, ""},
		{"fixed delay missing", Config{Strategy: "fixed_delay"}, "min_delay"},
		{"threshold missing calls", Config{Strategy: "threshold"}, "max_calls"},
		{"threshold bad warning", Config{Strategy: "threshold", MaxCalls: 1, WarningThreshold: 2}, "warning_threshold"},
		{"sliding missing window", Config{Strategy: "sliding_window", MaxRequests: 1}, "window"},
		{"shared sql needs dsn", Config{Strategy: "shared", MaxRequests: 1, Window: time.Second, Store: "postgres"}, "store_dsn"},
		{"shared unknown store", Config{Strategy: "shared", MaxRequests: 1, Window: time.Second, Store: "redis"}, "unknown store"},
		{"unknown strategy", Config{Strategy: "leaky"}, "unknown rate limit strategy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
	assert.ErrorIs(t, Config{Strategy: "leaky"}.Validate(), hperrors.ErrUnknownRateStrategy)
}

func TestNewBuildsEachStrategy(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		cfg  Config
		want any
	}{
		{Config{}, &NoLimit{}},
		{Config{Strategy: "fixed_delay", MinDelay: time.Second}, &FixedDelay{}},
		{Config{Strategy: "threshold", MaxCalls: 2}, &ThresholdBucket{}},
		{Config{Strategy: "sliding_window", MaxRequests: 2, Window: time.Second}, &SlidingWindow{}},
		{Config{Strategy: "shared", MaxRequests: 2, Window: time.Second}, &Shared{}},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.strategy(), func(t *testing.T) {
			m, err := New(ctx, tt.cfg)
			require.NoError(t, err)
			assert.IsType(t, tt.want, m)
		})
	}

	_, err := New(ctx, Config{Strategy: "fixed_delay"})
	assert.Error(t, err)
}

func TestNewSharedWithSQLiteStore(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "shared.db")
	m, err := New(context.Background(), Config{
		Strategy:    StrategyShared,
		MaxRequests: 1,
		Window:      time.Minute,
		Store:       StoreSQLite,
		StoreDSN:    dsn,
	})
	require.NoError(t, err)
	shared := m.(*Shared)
	assert.Equal(t, DefaultSharedKey, shared.Key())
	require.NoError(t, shared.Execute(context.Background(), noop))
	d, err := shared.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Limited)
	require.NoError(t, shared.Close())
}

func TestReconfigurableUpdate(t *testing.T) {
	ctx := context.Background()
	_, _, opts := fakeOpts()
	r, err := NewReconfigurable(ctx, Config{Strategy: "fixed_delay", MinDelay: time.Second}, opts...)
	require.NoError(t, err)
	assert.IsType(t, &FixedDelay{}, r.Monitor())

	cfg := r.Config()
	cfg.MinDelay = time.Hour
	assert.Equal(t, time.Second, r.Config().MinDelay, "Config returns a copy")

	require.NoError(t, r.Update(ctx, Config{Strategy: "sliding_window", Window: time.Second, MaxRequests: 1}))
	assert.IsType(t, &SlidingWindow{}, r.Monitor())
	assert.Equal(t, StrategySlidingWindow, r.Config().Strategy)

	require.NoError(t, r.Execute(ctx, noop))
	d, err := r.Check(ctx)
	require.NoError(t, err)
	assert.True(t, d.Limited)

	err = r.Update(ctx, Config{Strategy: "bogus"})
	require.Error(t, err)
	assert.IsType(t, &SlidingWindow{}, r.Monitor(), "failed update keeps previous monitor")
	require.NoError(t, r.Close())
}

func TestReconfigurableClosesPreviousMonitorAfterInflightCalls(t *testing.T) {
	ctx := context.Background()
	r, err := NewReconfigurable(ctx, Config{
		Strategy:    StrategyShared,
		MaxRequests: 10,
		Window:      time.Minute,
		Store:       StoreSQLite,
		StoreDSN:    filepath.Join(t.TempDir(), "shared.db"),
	})
	require.NoError(t, err)
	prev := r.gen

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- r.Execute(ctx, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	require.NoError(t, r.Update(ctx, Config{Strategy: StrategyNone}))
	assert.IsType(t, &NoLimit{}, r.Monitor())

	// still open while the call that acquired it runs
	_, err = prev.mon.Check(ctx)
	require.NoError(t, err)
	assert.False(t, prev.retired.Load())

	close(release)
	require.NoError(t, <-done)
	require.Eventually(t, prev.retired.Load, time.Second, time.Millisecond)
	_, err = prev.mon.Check(ctx)
	assert.Error(t, err, "store is closed once the last call returned")
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}
