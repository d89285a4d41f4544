package config

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by NewViper.
const EnvPrefix = "HUBPROVIDER"

// NewViper returns a viper instance with every key defaulted, so that
// environment variables such as HUBPROVIDER_RATE_LIMIT_STRATEGY are picked up
// by Unmarshal even when no config file sets them.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Config{}.WithDefaults()
	defaults := map[string]any{
		"provider_name":                   "",
		"auth_token":                      "",
		"hub_address":                     "",
		"hub_transport":                   d.HubTransport,
		"hub_subject":                     "",
		"execution_timeout":               d.ExecutionTimeout,
		"timezone":                        d.Timezone,
		"poll_interval":                   d.PollInterval,
		"max_rate_limit_wait":             d.MaxRateLimitWait,
		"backoff_initial_interval":        d.BackoffInitialInterval,
		"backoff_max_interval":            d.BackoffMaxInterval,
		"backoff_multiplier":              d.BackoffMultiplier,
		"rate_limit.strategy":             "none",
		"rate_limit.min_delay":            "0s",
		"rate_limit.max_calls":            0,
		"rate_limit.window":               "0s",
		"rate_limit.warning_threshold":    0.0,
		"rate_limit.critical_threshold":   0.0,
		"rate_limit.max_requests":         0,
		"rate_limit.key":                  "",
		"rate_limit.store":                "memory",
		"rate_limit.store_dsn":            "",
		"pubsub_system":                   "channel",
		"task_topic":                      d.TaskTopic,
		"result_topic":                    d.ResultTopic,
		"kafka_brokers":                   []string{},
		"kafka_client_id":                 "",
		"kafka_consumer_group":            "",
		"rabbitmq_url":                    "",
		"nats_url":                        "",
		"http_server_address":             "",
		"http_publisher_url":              "",
		"aws_region":                      "",
		"aws_account_id":                  "",
		"aws_access_key_id":               "",
		"aws_secret_access_key":           "",
		"aws_endpoint":                    "",
		"metrics_enabled":                 false,
		"metrics_port":                    DefaultMetricsPort,
		"status_api_enabled":              false,
		"status_api_port":                 DefaultStatusAPIPort,
		"status_api_cors_allowed_origins": []string{},
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// FromViper decodes v into a Config with defaults applied.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg.WithDefaults(), nil
}

// DecodeHook decodes durations and comma separated lists. A duration written
// without a unit ("30", 30, 1.5) is read as seconds.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

var durationType = reflect.TypeOf(time.Duration(0))

func secondsToDurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != durationType || from == durationType {
			return data, nil
		}
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return secondsToDuration(float64(reflect.ValueOf(data).Int()))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return secondsToDuration(float64(reflect.ValueOf(data).Uint()))
		case reflect.Float32, reflect.Float64:
			return secondsToDuration(reflect.ValueOf(data).Float())
		case reflect.String:
			secs, err := strconv.ParseFloat(strings.TrimSpace(reflect.ValueOf(data).String()), 64)
			if err != nil {
				// has a unit; left to StringToTimeDurationHookFunc
				return data, nil
			}
			return secondsToDuration(secs)
		}
		return data, nil
	}
}

func secondsToDuration(secs float64) (time.Duration, error) {
	ns := secs * float64(time.Second)
	if math.IsNaN(ns) || ns >= math.MaxInt64 || ns <= math.MinInt64 {
		return 0, fmt.Errorf("duration of %v seconds is out of range", secs)
	}
	return time.Duration(ns), nil
}

// Load reads an optional config file (any format viper supports) plus the
// environment and returns the validated result.
func Load(path string) (Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg, err := FromViper(v)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
