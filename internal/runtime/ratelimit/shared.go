package ratelimit

import (
	"context"
	"io"
	"time"
)

// Usage is the window state a Store reports for a key.
type Usage struct {
	Count  int
	Oldest time.Time
}

// Store keeps sliding-window state that several monitors, possibly in several
// processes, agree on. Admit prunes entries older than window, reports the
// remaining usage and, when record is set and the count is below limit,
// records now. All of that happens in one critical section.
type Store interface {
	Admit(ctx context.Context, key string, now time.Time, window time.Duration, limit int, record bool) (Usage, error)
}

// Shared is a sliding window whose state lives in a Store under Key.
type Shared struct {
	store       Store
	key         string
	window      time.Duration
	maxRequests int
	clock       Clock
	sleep       SleepFunc
	owned       io.Closer
}

// NewShared creates a Shared monitor.
func NewShared(store Store, key string, window time.Duration, maxRequests int, opts ...Option) *Shared {
	o := buildOptions(opts)
	return &Shared{
		store:       store,
		key:         key,
		window:      window,
		maxRequests: maxRequests,
		clock:       o.clock,
		sleep:       o.sleep,
	}
}

// Key returns the store key shared by all cooperating monitors.
func (s *Shared) Key() string { return s.key }

func (s *Shared) Check(ctx context.Context) (Decision, error) {
	return s.decide(ctx, false)
}

func (s *Shared) Wait(ctx context.Context, d time.Duration) error {
	return s.sleep(ctx, d)
}

func (s *Shared) Execute(ctx context.Context, op func(context.Context) error) error {
	if _, err := admit(ctx, s, s.sleep); err != nil {
		return err
	}
	return op(ctx)
}

// Close releases a store opened by New. Stores passed in by the caller are left alone.
func (s *Shared) Close() error {
	if s.owned == nil {
		return nil
	}
	return s.owned.Close()
}

func (s *Shared) acquire(ctx context.Context) (Decision, error) {
	return s.decide(ctx, true)
}

func (s *Shared) decide(ctx context.Context, record bool) (Decision, error) {
	now := s.clock.Now()
	usage, err := s.store.Admit(ctx, s.key, now, s.window, s.maxRequests, record)
	if err != nil {
		return Decision{}, err
	}
	d := windowDecision(StrategyShared, now, s.window, s.maxRequests, usage.Count, usage.Oldest)
	d.Metrics["key"] = s.key
	return d, nil
}
