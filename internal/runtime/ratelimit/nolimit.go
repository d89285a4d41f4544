package ratelimit

import (
	"context"
	"time"
)

// NoLimit never limits.
type NoLimit struct {
	sleep SleepFunc
}

// NewNoLimit returns a monitor that always admits.
func NewNoLimit(opts ...Option) *NoLimit {
	o := buildOptions(opts)
	return &NoLimit{sleep: o.sleep}
}

func (n *NoLimit) Check(context.Context) (Decision, error) {
	return Decision{Metrics: map[string]any{"strategy": StrategyNone}}, nil
}

func (n *NoLimit) Wait(ctx context.Context, d time.Duration) error {
	return n.sleep(ctx, d)
}

func (n *NoLimit) Execute(ctx context.Context, op func(context.Context) error) error {
	return op(ctx)
}
