// Package ratelimit implements the monitors consulted before an action runs.
//
// Every monitor exposes the same three operations. Check is a pure query,
// Wait suspends the caller and Execute is the only entry point that records a
// unit of usage: it re-checks, waits while limited and records the call in one
// critical section before running the operation.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a single limit check.
type Decision struct {
	Limited  bool
	WaitTime time.Duration
	Metrics  map[string]any
}

// WaitSeconds reports WaitTime in fractional seconds, the unit used on the wire.
func (d Decision) WaitSeconds() float64 {
	return d.WaitTime.Seconds()
}

// Monitor is the common surface of every rate limiting strategy.
type Monitor interface {
	Check(ctx context.Context) (Decision, error)
	Wait(ctx context.Context, d time.Duration) error
	Execute(ctx context.Context, op func(context.Context) error) error
}

// Clock supplies the current time. Tests inject a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type options struct {
	clock Clock
	sleep SleepFunc
	store Store
}

// Option customises a monitor.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithSleeper overrides how monitors wait.
func WithSleeper(fn SleepFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// WithStore selects the store used by shared monitors built through New.
func WithStore(s Store) Option {
	return func(o *options) { o.store = s }
}

func buildOptions(opts []Option) options {
	o := options{clock: systemClock{}, sleep: Sleep}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// acquirer is implemented by strategies that can check and record atomically.
type acquirer interface {
	acquire(ctx context.Context) (Decision, error)
}

// admit loops until the acquirer records a unit, sleeping out every limited
// decision. It returns the number of times the caller had to wait.
func admit(ctx context.Context, a acquirer, sleep SleepFunc) (int, error) {
	waits := 0
	for {
		decision, err := a.acquire(ctx)
		if err != nil {
			return waits, err
		}
		if !decision.Limited {
			return waits, nil
		}
		waits++
		if err := sleep(ctx, decision.WaitTime); err != nil {
			return waits, err
		}
	}
}

func seconds(d time.Duration) float64 { return d.Seconds() }
