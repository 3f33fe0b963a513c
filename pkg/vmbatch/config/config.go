// Package config loads vmbatch settings from defaults, an optional YAML file
// and VMBATCH_ environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nested keys: VMBATCH_WAIT__POLL_INTERVAL sets wait.poll_interval.
const EnvPrefix = "VMBATCH_"

// Config is the complete vmbatch configuration.
type Config struct {
	Inventory string         `koanf:"inventory" validate:"required"`
	Confirm   string         `koanf:"confirm" validate:"oneof=interactive force whatif"`
	Log       LogConfig      `koanf:"log"`
	Endpoint  EndpointConfig `koanf:"endpoint"`
	Watch     WatchConfig    `koanf:"watch"`
	Wait      WaitConfig     `koanf:"wait"`
	Invoke    InvokeConfig   `koanf:"invoke"`
	Jobs      JobsConfig     `koanf:"jobs"`
	Metrics   MetricsConfig  `koanf:"metrics"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=trace debug info warn error"`
}

// EndpointConfig paces the simulated endpoint.
type EndpointConfig struct {
	StepInterval time.Duration `koanf:"step_interval" validate:"gt=0"`
}

type WatchConfig struct {
	ProgressInterval time.Duration `koanf:"progress_interval" validate:"gt=0"`
}

// WaitConfig holds wait defaults. A negative timeout waits without a
// deadline.
type WaitConfig struct {
	Timeout      time.Duration `koanf:"timeout" validate:"gte=-1s"`
	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`
}

type RetryConfig struct {
	MaxRetries      int           `koanf:"max_retries" validate:"gte=0"`
	InitialInterval time.Duration `koanf:"initial_interval" validate:"gt=0"`
	MaxElapsed      time.Duration `koanf:"max_elapsed" validate:"gte=0"`
}

// InvokeConfig tunes calls to the endpoint. A zero rate limit means
// unlimited.
type InvokeConfig struct {
	Retry     RetryConfig `koanf:"retry"`
	RateLimit float64     `koanf:"rate_limit" validate:"gte=0"`
	Burst     int         `koanf:"burst" validate:"gte=1"`
}

type JobsConfig struct {
	TTL             time.Duration `koanf:"ttl" validate:"gt=0"`
	CleanupInterval time.Duration `koanf:"cleanup_interval" validate:"gt=0"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `koanf:"addr" validate:"omitempty,hostname_port"`
}

// Defaults returns the built-in settings as a flat koanf map.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"inventory":                     "inventory.yaml",
		"confirm":                       "interactive",
		"log.level":                     "warn",
		"endpoint.step_interval":        "250ms",
		"watch.progress_interval":       "500ms",
		"wait.timeout":                  "-1s",
		"wait.poll_interval":            "1s",
		"invoke.retry.max_retries":      3,
		"invoke.retry.initial_interval": "200ms",
		"invoke.retry.max_elapsed":      "10s",
		"invoke.rate_limit":             0,
		"invoke.burst":                  1,
		"jobs.ttl":                      "1h",
		"jobs.cleanup_interval":         "5m",
		"metrics.addr":                  "",
	}
}

// Load builds the configuration. An empty path skips the file layer; a path
// that does not exist is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, core.Wrap(err, core.CategoryOf(err), "config file not readable").WithTarget(path)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, core.Wrap(err, core.CategoryInvalidArgument, "failed to load config file").WithTarget(path)
		}
	}

	// 3. Environment
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, core.Wrap(err, core.CategoryInvalidArgument, "failed to unmarshal configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return core.Wrap(err, core.CategoryInvalidArgument, "invalid configuration")
	}
	return nil
}

// envKey maps VMBATCH_INVOKE__RETRY__MAX_RETRIES to invoke.retry.max_retries.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}
