package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow admits at most MaxRequests inside any Window.
type SlidingWindow struct {
	window      time.Duration
	maxRequests int
	clock       Clock
	sleep       SleepFunc

	mu    sync.Mutex
	stamp []time.Time
}

// NewSlidingWindow creates a SlidingWindow monitor.
func NewSlidingWindow(window time.Duration, maxRequests int, opts ...Option) *SlidingWindow {
	o := buildOptions(opts)
	return &SlidingWindow{window: window, maxRequests: maxRequests, clock: o.clock, sleep: o.sleep}
}

func (s *SlidingWindow) Check(context.Context) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decide(s.clock.Now()), nil
}

func (s *SlidingWindow) Wait(ctx context.Context, d time.Duration) error {
	return s.sleep(ctx, d)
}

func (s *SlidingWindow) Execute(ctx context.Context, op func(context.Context) error) error {
	if _, err := admit(ctx, s, s.sleep); err != nil {
		return err
	}
	return op(ctx)
}

func (s *SlidingWindow) acquire(context.Context) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	d := s.decide(now)
	if !d.Limited {
		s.stamp = append(s.stamp, now)
	}
	return d, nil
}

// decide prunes expired timestamps; must be called with mu held.
func (s *SlidingWindow) decide(now time.Time) Decision {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.stamp) && !s.stamp[i].After(cutoff) {
		i++
	}
	s.stamp = s.stamp[i:]
	return windowDecision(StrategySlidingWindow, now, s.window, s.maxRequests, len(s.stamp), oldest(s.stamp))
}

func oldest(stamps []time.Time) time.Time {
	if len(stamps) == 0 {
		return time.Time{}
	}
	return stamps[0]
}

func windowDecision(strategy string, now time.Time, window time.Duration, limit, count int, first time.Time) Decision {
	d := Decision{Metrics: map[string]any{
		"strategy":     strategy,
		"requests":     count,
		"max_requests": limit,
		"window":       seconds(window),
	}}
	if count < limit {
		return d
	}
	d.Limited = true
	d.WaitTime = window
	if !first.IsZero() {
		d.WaitTime = window - now.Sub(first)
	}
	if d.WaitTime < 0 {
		d.WaitTime = 0
	}
	return d
}
