package hubprovider

import (
	"context"
	"errors"
	"testing"
	"time"
)

type greetPayload struct {
	Name string `json:"name"`
}

type greetReply struct {
	Greeting string `json:"greeting"`
}

func newFacadeProvider(t *testing.T, h *MemoryHub) *Provider {
	t.Helper()
	p, err := NewProvider(context.Background(), &Config{
		ProviderName:     "facade",
		AuthToken:        "token",
		ExecutionTimeout: time.Second,
		PollInterval:     10 * time.Millisecond,
	}, NopLogger(), ProviderDependencies{Dialer: h})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return p
}

func TestTypedActionThroughFacade(t *testing.T) {
	p := newFacadeProvider(t, NewMemoryHub())
	err := p.RegisterAction(ActionRegistration{
		Name:          "greet",
		PayloadSchema: MustParseSchema(map[string]any{"name": "string"}),
		Handler: Typed(func(_ context.Context, tc TypedContext[greetPayload, map[string]any]) (greetReply, error) {
			return greetReply{Greeting: "hello " + tc.Payload.Name}, nil
		}),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	env := p.Dispatch(context.Background(), Task{ID: "t-1", Action: "greet", Payload: []byte(`{"name":"ada"}`)})
	if env.Status != StatusSuccess {
		t.Fatalf("expected success, got %q: %s", env.Status, env.Message)
	}
	if env.Data.Response["greeting"] != "hello ada" {
		t.Fatalf("unexpected response %#v", env.Data.Response)
	}

	env = p.Dispatch(context.Background(), Task{ID: "t-2", Action: "greet", Payload: []byte(`{"name":7}`)})
	if env.Status != StatusError {
		t.Fatalf("expected validation error, got %q", env.Status)
	}
}

func TestRunThroughFacade(t *testing.T) {
	h := NewMemoryHub()
	p := newFacadeProvider(t, h)
	p.MustRegisterAction(ActionRegistration{
		Name: "ping",
		Handler: func(context.Context, ActionContext) (map[string]any, error) {
			return map[string]any{"pong": true}, nil
		},
	})
	h.Enqueue(Task{ID: "t-1", Action: "ping"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	results, err := h.WaitForResults(ctx, 1)
	if err != nil {
		t.Fatalf("wait for results: %v", err)
	}
	p.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if results[0].TaskID != "t-1" {
		t.Fatalf("unexpected result %#v", results[0])
	}
}

func TestRegistrationErrorsExported(t *testing.T) {
	p := newFacadeProvider(t, NewMemoryHub())
	if err := p.RegisterAction(ActionRegistration{Name: "x"}); !errors.Is(err, ErrHandlerRequired) {
		t.Fatalf("expected handler required, got %v", err)
	}
	var dup *DuplicateActionError
	p.MustRegisterAction(ActionRegistration{Name: "x", Handler: func(context.Context, ActionContext) (map[string]any, error) { return nil, nil }})
	err := p.RegisterAction(ActionRegistration{Name: "x", Handler: func(context.Context, ActionContext) (map[string]any, error) { return nil, nil }})
	if !errors.As(err, &dup) {
		t.Fatalf("expected duplicate action error, got %v", err)
	}
}

func TestRateLimiterConstructorsExported(t *testing.T) {
	m, err := NewRateLimiter(context.Background(), RateLimitConfig{Strategy: StrategyFixedDelay, MinDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("new rate limiter: %v", err)
	}
	if m == nil {
		t.Fatal("expected monitor")
	}
	if _, err := NewRateLimiter(context.Background(), RateLimitConfig{Strategy: "leaky"}); !errors.Is(err, ErrUnknownRateStrategy) {
		t.Fatalf("expected unknown strategy, got %v", err)
	}
}

func TestLoggerExports(t *testing.T) {
	logger := NewEntryServiceLogger(&stubEntry{})
	logger.Info("boot", LogFields{"component": "test"})
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestErrorCategoryConstants(t *testing.T) {
	if ErrorCategoryNone != "none" {
		t.Fatalf("expected ErrorCategoryNone to be 'none', got %q", ErrorCategoryNone)
	}
	if ErrorCategoryTimeout != "timeout" {
		t.Fatalf("expected ErrorCategoryTimeout to be 'timeout', got %q", ErrorCategoryTimeout)
	}
}

type stubEntry struct {
	fields LogFields
	err    error
}

func (s *stubEntry) Error(args ...any) {}
func (s *stubEntry) Info(args ...any)  {}
func (s *stubEntry) Debug(args ...any) {}
func (s *stubEntry) Trace(args ...any) {}

func (s *stubEntry) WithError(err error) *stubEntry {
	clone := *s
	clone.err = err
	return &clone
}

func (s *stubEntry) WithField(key string, value any) *stubEntry {
	clone := *s
	if clone.fields == nil {
		clone.fields = make(LogFields)
	}
	clone.fields[key] = value
	return &clone
}
