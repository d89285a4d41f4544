package runtime

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	configpkg "github.com/drblury/hubprovider/internal/runtime/config"
	"github.com/drblury/hubprovider/internal/runtime/envelope"
	errspkg "github.com/drblury/hubprovider/internal/runtime/errors"
	"github.com/drblury/hubprovider/internal/runtime/handlers"
	"github.com/drblury/hubprovider/internal/runtime/hub"
	"github.com/drblury/hubprovider/internal/runtime/hub/grpchub"
	loggingpkg "github.com/drblury/hubprovider/internal/runtime/logging"
	"github.com/drblury/hubprovider/internal/runtime/ratelimit"
	"github.com/drblury/hubprovider/internal/runtime/schema"
)

// startProvider runs p in the background and returns a function that stops
// it and returns Run's error.
func startProvider(t *testing.T, p *Provider) func() error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	require.Eventually(t, func() bool {
		return p.running.Load() && p.State() != StateDisconnected
	}, time.Second, time.Millisecond)

	return func() error {
		p.Stop()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("provider did not stop")
			return nil
		}
	}
}

func waitForResults(t *testing.T, h *hub.MemoryHub, n int) []hub.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results, err := h.WaitForResults(ctx, n)
	require.NoError(t, err)
	return results
}

func withSleep(s *recordingSleep) testOption {
	return func(_ *configpkg.Config, d *ProviderDependencies) {
		d.Sleep = s.Sleep
	}
}

func TestLoopStateString(t *testing.T) {
	tests := []struct {
		state LoopState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StatePolling, "polling"},
		{StateExecuting, "executing"},
		{StateSubmitting, "submitting"},
		{StateStopping, "stopping"},
		{StateStopped, "stopped"},
		{LoopState(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestRunProcessesTasksAndSubmitsEnvelopes(t *testing.T) {
	h := hub.NewMemoryHub()
	h.RequireToken("test-provider", "secret")
	h.Enqueue(
		hub.Task{ID: "t1", Action: "ping", Payload: []byte(`{}`)},
		hub.Task{ID: "t2", Action: "echo", Payload: []byte(`{}`), Account: []byte(`{"id":1}`)},
	)
	p := newTestProvider(t, h)
	p.MustRegisterAction(ActionRegistration{Name: "ping", Handler: pong})
	p.MustRegisterAction(ActionRegistration{Name: "echo", Handler: echo, PayloadSchema: schema.MustParse(map[string]any{"message": "string"})})

	stop := startProvider(t, p)
	results := waitForResults(t, h, 2)
	require.NoError(t, stop())

	assert.Equal(t, StateStopped, p.State())
	assert.Equal(t, "t1", results[0].TaskID)
	assert.Equal(t, "success", results[0].Status)
	assert.Equal(t, "test-provider", results[0].Provider)
	assert.Equal(t, "secret", results[0].AuthToken)
	assert.Equal(t, []byte(`{}`), results[0].Payload)

	env, err := envelope.Unmarshal(results[0].Result)
	require.NoError(t, err)
	assert.Equal(t, "pong", env.Data.Response["message"])

	assert.Equal(t, "t2", results[1].TaskID)
	assert.Equal(t, "error", results[1].Status)
	assert.Equal(t, []byte(`{"id":1}`), results[1].Account)

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.TasksProcessed)
	assert.Equal(t, uint64(1), stats.Connects)
	assert.False(t, stats.StartedAt.IsZero())
}

func TestRunRejectsSecondRun(t *testing.T) {
	p := newTestProvider(t, hub.NewMemoryHub())
	stop := startProvider(t, p)

	assert.ErrorIs(t, p.Run(context.Background()), errspkg.ErrAlreadyRunning)
	assert.ErrorIs(t, p.RegisterAction(ActionRegistration{Name: "late", Handler: pong}), errspkg.ErrRegistrationClosed)
	require.NoError(t, stop())
}

func TestRunReturnsWhenContextCancelled(t *testing.T) {
	p := newTestProvider(t, hub.NewMemoryHub())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.State() == StatePolling || p.State() == StateConnecting }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, StateStopped, p.State())
}

func TestStopAfterRunKeepsStoppedState(t *testing.T) {
	p := newTestProvider(t, hub.NewMemoryHub())
	stop := startProvider(t, p)
	require.NoError(t, stop())
	require.Equal(t, StateStopped, p.State())

	p.Stop()
	assert.Equal(t, StateStopped, p.State())
}

func TestRunNilProvider(t *testing.T) {
	var p *Provider
	assert.ErrorIs(t, p.Run(context.Background()), errspkg.ErrProviderRequired)
}

func TestRunFollowsPipelinedTasks(t *testing.T) {
	h := hub.NewMemoryHub()
	h.SetPipelining(true)
	h.Enqueue(hub.Task{Action: "ping"}, hub.Task{Action: "ping"}, hub.Task{Action: "ping"})
	p := newTestProvider(t, h, func(c *configpkg.Config, _ *ProviderDependencies) {
		c.PollInterval = time.Hour
	})
	p.MustRegisterAction(ActionRegistration{Name: "ping", Handler: pong})

	stop := startProvider(t, p)
	waitForResults(t, h, 3)
	require.NoError(t, stop())

	// one poll for the first task, at most one more once the pipeline ran dry
	assert.LessOrEqual(t, h.Polls(), 2)
	assert.Equal(t, 0, h.Pending())
}

func TestStopDropsPipelinedTask(t *testing.T) {
	h := hub.NewMemoryHub()
	h.SetPipelining(true)
	h.Enqueue(hub.Task{ID: "first", Action: "halt"}, hub.Task{ID: "second", Action: "halt"})
	p := newTestProvider(t, h)
	p.MustRegisterAction(ActionRegistration{
		Name: "halt",
		Handler: func(ctx context.Context, _ handlers.ActionContext) (map[string]any, error) {
			p.Stop()
			// the in-flight task is detached from the stop request
			return map[string]any{"cancelled": ctx.Err() != nil}, nil
		},
	})

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	results := h.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "first", results[0].TaskID)
	env, err := envelope.Unmarshal(results[0].Result)
	require.NoError(t, err)
	assert.Equal(t, false, env.Data.Response["cancelled"])
	assert.Equal(t, uint64(1), p.Stats().DroppedTasks)
}

func TestRunWaitsOnHubRateLimitSignal(t *testing.T) {
	tests := []struct {
		name     string
		signal   time.Duration
		maxWait  time.Duration
		wantWait time.Duration
	}{
		{name: "signal honoured", signal: 3 * time.Second, wantWait: 3 * time.Second},
		{name: "signal clamped", signal: 10 * time.Minute, maxWait: time.Minute, wantWait: time.Minute},
		{name: "zero wait falls back to poll interval", signal: 0, wantWait: 10 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := hub.NewMemoryHub()
			h.SignalRateLimit(tt.signal)
			h.Enqueue(hub.Task{Action: "ping"})
			sleeper := &recordingSleep{}
			p := newTestProvider(t, h, withSleep(sleeper), func(c *configpkg.Config, _ *ProviderDependencies) {
				c.MaxRateLimitWait = tt.maxWait
			})
			p.MustRegisterAction(ActionRegistration{Name: "ping", Handler: pong})

			stop := startProvider(t, p)
			waitForResults(t, h, 1)
			require.NoError(t, stop())

			waits := sleeper.Waits()
			require.NotEmpty(t, waits)
			assert.Equal(t, tt.wantWait, waits[0])
			assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.rateLimitWaits.WithLabelValues(WaitScopeHub)))
		})
	}
}

func TestRunHonoursPipelinedRateLimitSignal(t *testing.T) {
	h := hub.NewMemoryHub()
	h.Enqueue(hub.Task{ID: "t1", Action: "signal"})
	sleeper := &recordingSleep{}
	p := newTestProvider(t, h, withSleep(sleeper))
	p.MustRegisterAction(ActionRegistration{Name: "signal", Handler: pong})

	client := &signallingClient{wait: 7 * time.Second}
	p.dialer = hub.DialerFunc(func(ctx context.Context, id hub.Identity) (hub.Client, error) {
		inner, err := h.Dial(ctx, id)
		client.Client = inner
		return client, err
	})

	stop := startProvider(t, p)
	waitForResults(t, h, 1)
	require.Eventually(t, func() bool {
		for _, w := range sleeper.Waits() {
			if w == 7*time.Second {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	require.NoError(t, stop())
}

// signallingClient answers the first submit with a rate_limited pseudo task.
type signallingClient struct {
	hub.Client
	wait time.Duration
	sent bool
}

func (c *signallingClient) SubmitTaskResult(ctx context.Context, r hub.Result) (*hub.Task, error) {
	if _, err := c.Client.SubmitTaskResult(ctx, r); err != nil {
		return nil, err
	}
	if c.sent {
		return nil, nil
	}
	c.sent = true
	return hub.SignalTask(c.wait), nil
}

func TestRunProviderRateLimitDelaysPolling(t *testing.T) {
	h := hub.NewMemoryHub()
	h.Enqueue(hub.Task{Action: "ping"}, hub.Task{Action: "ping"})
	sleeper := &recordingSleep{}
	limiter := &alwaysLimited{wait: 2 * time.Second}
	p := newTestProvider(t, h, withSleep(sleeper), func(_ *configpkg.Config, d *ProviderDependencies) {
		d.RateLimiter = limiter
	})
	p.MustRegisterAction(ActionRegistration{Name: "ping", Handler: pong})

	stop := startProvider(t, p)
	results := waitForResults(t, h, 2)
	require.NoError(t, stop())

	// the provider limit also applies at dispatch time
	env, err := envelope.Unmarshal(results[0].Result)
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusLimit, env.Status)
	assert.Equal(t, "success", results[0].Status)
	assert.GreaterOrEqual(t, limiter.waits(), 2)
	assert.GreaterOrEqual(t, testutil.ToFloat64(p.metrics.rateLimitWaits.WithLabelValues(WaitScopeProvider)), 2.0)
}

// alwaysLimited reports every check as limited and counts waits.
type alwaysLimited struct {
	wait  time.Duration
	mu    sync.Mutex
	count int
}

func (a *alwaysLimited) Check(context.Context) (ratelimit.Decision, error) {
	return ratelimit.Decision{Limited: true, WaitTime: a.wait}, nil
}

func (a *alwaysLimited) Wait(ctx context.Context, _ time.Duration) error {
	a.mu.Lock()
	a.count++
	a.mu.Unlock()
	return ctx.Err()
}

func (a *alwaysLimited) Execute(ctx context.Context, op func(context.Context) error) error {
	return op(ctx)
}

func (a *alwaysLimited) waits() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

func TestRunReconnectsAfterBrokenChannel(t *testing.T) {
	h := hub.NewMemoryHub()
	h.FailPoll(&errspkg.ConnectionError{Op: "get task", Err: errors.New("reset by peer")})
	h.Enqueue(hub.Task{Action: "ping"})
	sleeper := &recordingSleep{}
	p := newTestProvider(t, h, withSleep(sleeper), func(_ *configpkg.Config, d *ProviderDependencies) {
		d.Backoff = &BackoffPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2}
	})
	p.MustRegisterAction(ActionRegistration{Name: "ping", Handler: pong})

	stop := startProvider(t, p)
	waitForResults(t, h, 1)
	require.NoError(t, stop())

	assert.Equal(t, 2, h.Dials())
	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Reconnects)
	assert.Equal(t, uint64(2), stats.Connects)
	require.NotEmpty(t, sleeper.Waits())
	assert.Equal(t, time.Millisecond, sleeper.Waits()[0])
}

func TestRunRetriesTransientPollErrors(t *testing.T) {
	h := hub.NewMemoryHub()
	h.FailPoll(errors.New("temporary glitch"))
	h.Enqueue(hub.Task{Action: "ping"})
	p := newTestProvider(t, h, withSleep(&recordingSleep{}))
	p.MustRegisterAction(ActionRegistration{Name: "ping", Handler: pong})

	stop := startProvider(t, p)
	waitForResults(t, h, 1)
	require.NoError(t, stop())

	assert.Equal(t, 1, h.Dials())
	assert.Equal(t, uint64(0), p.Stats().Reconnects)
}

func TestRunRetriesDialFailures(t *testing.T) {
	h := hub.NewMemoryHub()
	h.FailDial(
		&errspkg.AuthenticationError{Provider: "test-provider"},
		&errspkg.ConnectionError{Op: "dial", Err: errors.New("refused")},
	)
	h.Enqueue(hub.Task{Action: "ping"})
	p := newTestProvider(t, h)
	p.MustRegisterAction(ActionRegistration{Name: "ping", Handler: pong})

	stop := startProvider(t, p)
	waitForResults(t, h, 1)
	require.NoError(t, stop())

	assert.Equal(t, 3, h.Dials())
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.connectionAttempts.WithLabelValues("auth_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.connectionAttempts.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.connectionAttempts.WithLabelValues("success")))
}

func TestRunReportsRejectedCredentialsOverGRPC(t *testing.T) {
	h := hub.NewMemoryHub()
	backend, err := h.Dial(context.Background(), hub.Identity{Provider: "test-provider"})
	require.NoError(t, err)
	h.RequireToken("test-provider", "another-token")

	lis := bufconn.Listen(1 << 20)
	srv := grpchub.NewServer(backend)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	logger := &capturingLogger{ServiceLogger: loggingpkg.NopLogger()}
	p, err := NewProvider(context.Background(), testConfig(), logger, ProviderDependencies{
		Dialer: grpchub.NewDialer("passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		),
		Metrics: NewMetrics(prometheus.NewRegistry()),
		Sleep:   (&recordingSleep{}).Sleep,
	})
	require.NoError(t, err)

	stop := startProvider(t, p)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(p.metrics.connectionAttempts.WithLabelValues("auth_failure")) >= 1
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, stop())

	assert.Zero(t, testutil.ToFloat64(p.metrics.connectionAttempts.WithLabelValues("success")))
	assert.Contains(t, logger.messages, "Hub rejected provider credentials")
	assert.NotContains(t, logger.messages, "Connected to hub")
	assert.NotContains(t, logger.messages, "Hub channel broken, reconnecting")
}

func TestRunDropsResultOnSubmitFailure(t *testing.T) {
	h := hub.NewMemoryHub()
	h.Enqueue(hub.Task{ID: "t1", Action: "ping"}, hub.Task{ID: "t2", Action: "ping"})
	p := newTestProvider(t, h)
	p.MustRegisterAction(ActionRegistration{Name: "ping", Handler: pong})

	failing := &failingSubmitClient{}
	p.dialer = hub.DialerFunc(func(ctx context.Context, id hub.Identity) (hub.Client, error) {
		inner, err := h.Dial(ctx, id)
		failing.Client = inner
		return failing, err
	})

	stop := startProvider(t, p)
	results := waitForResults(t, h, 1)
	require.NoError(t, stop())

	assert.Equal(t, "t2", results[0].TaskID)
	assert.Equal(t, 1, h.Dials())
}

// failingSubmitClient rejects the first submit with a non-connection error.
type failingSubmitClient struct {
	hub.Client
	failed bool
}

func (c *failingSubmitClient) SubmitTaskResult(ctx context.Context, r hub.Result) (*hub.Task, error) {
	if !c.failed {
		c.failed = true
		return nil, errors.New("result rejected")
	}
	return c.Client.SubmitTaskResult(ctx, r)
}

func TestClampWait(t *testing.T) {
	p := newTestProvider(t, hub.NewMemoryHub(), func(c *configpkg.Config, _ *ProviderDependencies) {
		c.MaxRateLimitWait = time.Minute
	})
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, 10 * time.Millisecond},
		{-time.Second, 10 * time.Millisecond},
		{time.Second, time.Second},
		{time.Hour, time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.clampWait(tt.in), tt.in.String())
	}
}
