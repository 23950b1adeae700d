// Package config holds the loopbridge command configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/spf13/viper"
)

// Config is the complete loopbridge configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Loop    LoopConfig    `mapstructure:"loop"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig selects the structured logging backend.
type LogConfig struct {
	// Format is one of "stumpy" (JSON), "text" (logrus), or "slog".
	Format string `mapstructure:"format"`
	// Level is a syslog keyword, e.g. "info", "debug", "err".
	Level string `mapstructure:"level"`
}

// LoopConfig controls the bridged main loop.
type LoopConfig struct {
	// Heartbeat is the interval of the heartbeat timeout source.
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	// Duration stops the loop after it elapses. Zero runs until signalled.
	Duration time.Duration `mapstructure:"duration"`
	// WatchStdin attaches a descriptor source for standard input.
	WatchStdin bool `mapstructure:"watch_stdin"`
	// Fallback enables probing of descriptors the poller cannot watch.
	Fallback bool `mapstructure:"fallback"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address. Empty disables the endpoint.
	Addr string `mapstructure:"addr"`
	// Path is the HTTP path metrics are served on.
	Path string `mapstructure:"path"`
}

// Formats are the valid LogConfig.Format values.
var Formats = []string{"stumpy", "text", "slog"}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Format: "stumpy",
			Level:  "info",
		},
		Loop: LoopConfig{
			Heartbeat:  time.Second,
			WatchStdin: true,
			Fallback:   true,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// SetDefaults registers the defaults with v.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("log.level", defaults.Log.Level)

	v.SetDefault("loop.heartbeat", defaults.Loop.Heartbeat)
	v.SetDefault("loop.duration", defaults.Loop.Duration)
	v.SetDefault("loop.watch_stdin", defaults.Loop.WatchStdin)
	v.SetDefault("loop.fallback", defaults.Loop.Fallback)

	v.SetDefault("metrics.addr", defaults.Metrics.Addr)
	v.SetDefault("metrics.path", defaults.Metrics.Path)
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if !contains(Formats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("config: log.format: must be one of %s, got %q", strings.Join(Formats, ", "), c.Log.Format))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Loop.Heartbeat <= 0 {
		errs = append(errs, fmt.Errorf("config: loop.heartbeat: must be positive, got %s", c.Loop.Heartbeat))
	}
	if c.Loop.Duration < 0 {
		errs = append(errs, fmt.Errorf("config: loop.duration: must not be negative, got %s", c.Loop.Duration))
	}
	if c.Metrics.Addr != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("config: metrics.path: must start with /, got %q", c.Metrics.Path))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a syslog keyword, as printed by logiface.Level, to its
// level.
func ParseLevel(s string) (logiface.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for level := logiface.LevelDisabled; level <= logiface.LevelTrace; level++ {
		if level.String() == s {
			return level, nil
		}
	}
	return logiface.LevelDisabled, fmt.Errorf("config: log.level: unknown level %q", s)
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
