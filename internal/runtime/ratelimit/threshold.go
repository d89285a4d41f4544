package ratelimit

import (
	"context"
	"sync"
	"time"
)

// ThresholdConfig configures a ThresholdBucket.
type ThresholdConfig struct {
	MaxCalls          int
	Window            time.Duration
	WarningThreshold  float64
	CriticalThreshold float64
}

// ThresholdBucket counts calls inside a rolling window and reports usage
// against MaxCalls. The hard decision is made at 100% usage; the warning and
// critical levels are informational.
type ThresholdBucket struct {
	cfg   ThresholdConfig
	clock Clock
	sleep SleepFunc

	mu         sync.Mutex
	calls      []time.Time
	totalCalls int64
	totalTime  time.Duration
	throttled  int64
}

// NewThresholdBucket creates a ThresholdBucket. Zero thresholds default to
// 0.8 and 0.9, a zero window to one second.
func NewThresholdBucket(cfg ThresholdConfig, opts ...Option) *ThresholdBucket {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = DefaultWarningThreshold
	}
	if cfg.CriticalThreshold <= 0 {
		cfg.CriticalThreshold = DefaultCriticalThreshold
	}
	o := buildOptions(opts)
	return &ThresholdBucket{cfg: cfg, clock: o.clock, sleep: o.sleep}
}

func (t *ThresholdBucket) Check(context.Context) (Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.decide(t.clock.Now()), nil
}

func (t *ThresholdBucket) Wait(ctx context.Context, d time.Duration) error {
	return t.sleep(ctx, d)
}

func (t *ThresholdBucket) Execute(ctx context.Context, op func(context.Context) error) error {
	waits, err := admit(ctx, t, t.sleep)
	if waits > 0 {
		t.mu.Lock()
		t.throttled++
		t.mu.Unlock()
	}
	if err != nil {
		return err
	}
	start := t.clock.Now()
	opErr := op(ctx)
	elapsed := t.clock.Now().Sub(start)

	t.mu.Lock()
	t.totalTime += elapsed
	t.mu.Unlock()
	return opErr
}

// IsNearLimit reports whether usage has reached the warning threshold.
func (t *ThresholdBucket) IsNearLimit() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage(t.clock.Now()) >= t.cfg.WarningThreshold
}

// IsCritical reports whether usage has reached the critical threshold.
func (t *ThresholdBucket) IsCritical() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage(t.clock.Now()) >= t.cfg.CriticalThreshold
}

func (t *ThresholdBucket) acquire(context.Context) (Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	d := t.decide(now)
	if !d.Limited {
		t.calls = append(t.calls, now)
		t.totalCalls++
	}
	return d, nil
}

func (t *ThresholdBucket) prune(now time.Time) {
	cutoff := now.Add(-t.cfg.Window)
	i := 0
	for i < len(t.calls) && !t.calls[i].After(cutoff) {
		i++
	}
	t.calls = t.calls[i:]
}

func (t *ThresholdBucket) usage(now time.Time) float64 {
	t.prune(now)
	if t.cfg.MaxCalls <= 0 {
		return 1
	}
	return float64(len(t.calls)) / float64(t.cfg.MaxCalls)
}

// decide must be called with mu held.
func (t *ThresholdBucket) decide(now time.Time) Decision {
	usage := t.usage(now)
	avg := 0.0
	if t.totalCalls > 0 {
		avg = seconds(t.totalTime) / float64(t.totalCalls)
	}
	d := Decision{Metrics: map[string]any{
		"strategy":        StrategyThreshold,
		"calls_in_window": len(t.calls),
		"max_calls":       t.cfg.MaxCalls,
		"usage":           usage,
		"is_near_limit":   usage >= t.cfg.WarningThreshold,
		"is_critical":     usage >= t.cfg.CriticalThreshold,
		"total_calls":     t.totalCalls,
		"total_time":      seconds(t.totalTime),
		"average_time":    avg,
		"throttled":       t.throttled,
	}}
	if usage >= 1.0 {
		d.Limited = true
		d.WaitTime = t.cfg.Window
		if len(t.calls) > 0 {
			d.WaitTime = t.cfg.Window - now.Sub(t.calls[0])
		}
	}
	return d
}
