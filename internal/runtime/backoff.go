package runtime

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	configpkg "github.com/drblury/hubprovider/internal/runtime/config"
)

// BackoffPolicy controls how long the task loop waits between failed hub
// calls. Intervals grow by Multiplier up to MaxInterval and never give up.
type BackoffPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the randomization factor applied to each interval (0 disables it).
	Jitter float64
}

func (p BackoffPolicy) withDefaults() BackoffPolicy {
	if p.InitialInterval <= 0 {
		p.InitialInterval = configpkg.DefaultBackoffInitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = configpkg.DefaultBackoffMaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = configpkg.DefaultBackoffMultiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	return p
}

// BackoffPolicyFromConfig reads the reconnect settings of cfg.
func BackoffPolicyFromConfig(cfg *configpkg.Config) BackoffPolicy {
	if cfg == nil {
		return BackoffPolicy{}.withDefaults()
	}
	return BackoffPolicy{
		InitialInterval: cfg.BackoffInitialInterval,
		MaxInterval:     cfg.BackoffMaxInterval,
		Multiplier:      cfg.BackoffMultiplier,
		Jitter:          backoff.DefaultRandomizationFactor,
	}.withDefaults()
}

// NewBackOff returns a fresh exponential schedule for this policy.
func (p BackoffPolicy) NewBackOff() *backoff.ExponentialBackOff {
	p = p.withDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.Reset()
	return b
}

// Delays lists the first n waits of the schedule without jitter.
func (p BackoffPolicy) Delays(n int) []time.Duration {
	p = p.withDefaults()
	p.Jitter = 0
	b := p.NewBackOff()
	out := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, b.NextBackOff())
	}
	return out
}
