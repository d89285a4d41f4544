package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	hperrors "github.com/drblury/hubprovider/internal/runtime/errors"
)

// Strategy names accepted by Config.Strategy.
const (
	StrategyNone          = "none"
	StrategyFixedDelay    = "fixed_delay"
	StrategyThreshold     = "threshold"
	StrategySlidingWindow = "sliding_window"
	StrategyShared        = "shared"
)

// Store names accepted by Config.Store.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

const (
	DefaultWarningThreshold  = 0.8
	DefaultCriticalThreshold = 0.9
	DefaultSharedKey         = "hubprovider"
)

// Config describes a monitor declaratively so it can come from configuration.
type Config struct {
	Strategy          string        `mapstructure:"strategy"`
	MinDelay          time.Duration `mapstructure:"min_delay"`
	MaxCalls          int           `mapstructure:"max_calls"`
	Window            time.Duration `mapstructure:"window"`
	WarningThreshold  float64       `mapstructure:"warning_threshold"`
	CriticalThreshold float64       `mapstructure:"critical_threshold"`
	MaxRequests       int           `mapstructure:"max_requests"`
	Key               string        `mapstructure:"key"`
	Store             string        `mapstructure:"store"`
	StoreDSN          string        `mapstructure:"store_dsn"`
}

func (c Config) strategy() string {
	s := strings.ToLower(strings.TrimSpace(c.Strategy))
	if s == "" {
		return StrategyNone
	}
	return s
}

// Validate reports every problem with the configuration.
func (c Config) Validate() error {
	var errs []error
	switch c.strategy() {
	case StrategyNone:
	case StrategyFixedDelay:
		if c.MinDelay <= 0 {
			errs = append(errs, errors.New("rate_limit: min_delay must be positive"))
		}
	case StrategyThreshold:
		if c.MaxCalls <= 0 {
			errs = append(errs, errors.New("rate_limit: max_calls must be positive"))
		}
		if c.Window < 0 {
			errs = append(errs, errors.New("rate_limit: window cannot be negative"))
		}
		if c.WarningThreshold < 0 || c.WarningThreshold > 1 {
			errs = append(errs, fmt.Errorf("rate_limit: warning_threshold %v outside [0,1]", c.WarningThreshold))
		}
		if c.CriticalThreshold < 0 || c.CriticalThreshold > 1 {
			errs = append(errs, fmt.Errorf("rate_limit: critical_threshold %v outside [0,1]", c.CriticalThreshold))
		}
	case StrategySlidingWindow, StrategyShared:
		if c.MaxRequests <= 0 {
			errs = append(errs, errors.New("rate_limit: max_requests must be positive"))
		}
		if c.Window <= 0 {
			errs = append(errs, errors.New("rate_limit: window must be positive"))
		}
		if c.strategy() == StrategyShared {
			switch strings.ToLower(c.Store) {
			case "", StoreMemory:
			case StorePostgres, StoreSQLite:
				if c.StoreDSN == "" {
					errs = append(errs, fmt.Errorf("rate_limit: store_dsn is required for %s store", c.Store))
				}
			default:
				errs = append(errs, fmt.Errorf("rate_limit: unknown store %q", c.Store))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", hperrors.ErrUnknownRateStrategy, c.Strategy))
	}
	return errors.Join(errs...)
}

var defaultMemoryStore = NewMemoryStore()

// New builds the monitor described by cfg. Shared monitors without an explicit
// WithStore use a process-wide MemoryStore, or open a SQL store when
// cfg.Store names one; the caller owns closing it through the returned
// monitor's Close method.
func New(ctx context.Context, cfg Config, opts ...Option) (Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	switch cfg.strategy() {
	case StrategyFixedDelay:
		return NewFixedDelay(cfg.MinDelay, opts...), nil
	case StrategyThreshold:
		return NewThresholdBucket(ThresholdConfig{
			MaxCalls:          cfg.MaxCalls,
			Window:            cfg.Window,
			WarningThreshold:  cfg.WarningThreshold,
			CriticalThreshold: cfg.CriticalThreshold,
		}, opts...), nil
	case StrategySlidingWindow:
		return NewSlidingWindow(cfg.Window, cfg.MaxRequests, opts...), nil
	case StrategyShared:
		key := cfg.Key
		if key == "" {
			key = DefaultSharedKey
		}
		store := o.store
		var owned *SQLStore
		if store == nil {
			switch strings.ToLower(cfg.Store) {
			case StorePostgres, StoreSQLite:
				driver := "postgres"
				if strings.ToLower(cfg.Store) == StoreSQLite {
					driver = "sqlite3"
				}
				sqlStore, err := OpenSQLStore(ctx, driver, cfg.StoreDSN)
				if err != nil {
					return nil, err
				}
				store, owned = sqlStore, sqlStore
			default:
				store = defaultMemoryStore
			}
		}
		shared := NewShared(store, key, cfg.Window, cfg.MaxRequests, opts...)
		if owned != nil {
			shared.owned = owned
		}
		return shared, nil
	default:
		return NewNoLimit(opts...), nil
	}
}
