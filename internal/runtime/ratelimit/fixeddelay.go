package ratelimit

import (
	"context"
	"sync"
	"time"
)

// FixedDelay enforces a minimum spacing between consecutive calls.
type FixedDelay struct {
	minDelay time.Duration
	clock    Clock
	sleep    SleepFunc

	mu   sync.Mutex
	last time.Time
}

// NewFixedDelay creates a FixedDelay monitor.
func NewFixedDelay(minDelay time.Duration, opts ...Option) *FixedDelay {
	o := buildOptions(opts)
	return &FixedDelay{minDelay: minDelay, clock: o.clock, sleep: o.sleep}
}

// MinDelay returns the configured spacing.
func (f *FixedDelay) MinDelay() time.Duration { return f.minDelay }

func (f *FixedDelay) Check(context.Context) (Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decide(f.clock.Now()), nil
}

func (f *FixedDelay) Wait(ctx context.Context, d time.Duration) error {
	return f.sleep(ctx, d)
}

func (f *FixedDelay) Execute(ctx context.Context, op func(context.Context) error) error {
	if _, err := admit(ctx, f, f.sleep); err != nil {
		return err
	}
	return op(ctx)
}

func (f *FixedDelay) acquire(context.Context) (Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	d := f.decide(now)
	if !d.Limited {
		f.last = now
	}
	return d, nil
}

// decide must be called with mu held.
func (f *FixedDelay) decide(now time.Time) Decision {
	metrics := map[string]any{
		"strategy":  StrategyFixedDelay,
		"min_delay": seconds(f.minDelay),
	}
	if f.last.IsZero() {
		return Decision{Metrics: metrics}
	}
	elapsed := now.Sub(f.last)
	metrics["elapsed"] = seconds(elapsed)
	if elapsed >= f.minDelay {
		return Decision{Metrics: metrics}
	}
	return Decision{Limited: true, WaitTime: f.minDelay - elapsed, Metrics: metrics}
}
