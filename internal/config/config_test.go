package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loopbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  format: text
  level: debug
loop:
  heartbeat: 250ms
  duration: 3s
  watch_stdin: false
metrics:
  addr: 127.0.0.1:9100
`), 0o600))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.Loop.Heartbeat)
	assert.Equal(t, 3*time.Second, cfg.Loop.Duration)
	assert.False(t, cfg.Loop.WatchStdin)
	assert.True(t, cfg.Loop.Fallback)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
		errs   []string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "format", mutate: func(c *Config) { c.Log.Format = "xml" }, errs: []string{"log.format"}},
		{name: "level", mutate: func(c *Config) { c.Log.Level = "loud" }, errs: []string{"log.level"}},
		{name: "heartbeat", mutate: func(c *Config) { c.Loop.Heartbeat = 0 }, errs: []string{"loop.heartbeat"}},
		{name: "duration", mutate: func(c *Config) { c.Loop.Duration = -time.Second }, errs: []string{"loop.duration"}},
		{name: "path", mutate: func(c *Config) {
			c.Metrics.Addr = ":9100"
			c.Metrics.Path = "metrics"
		}, errs: []string{"metrics.path"}},
		{name: "several", mutate: func(c *Config) {
			c.Log.Format = ""
			c.Loop.Heartbeat = -1
		}, errs: []string{"log.format", "loop.heartbeat"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if len(tc.errs) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, s := range tc.errs {
				assert.Contains(t, err.Error(), s)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	for s, want := range map[string]logiface.Level{
		"info":     logiface.LevelInformational,
		" DEBUG ":  logiface.LevelDebug,
		"err":      logiface.LevelError,
		"warning":  logiface.LevelWarning,
		"trace":    logiface.LevelTrace,
		"disabled": logiface.LevelDisabled,
	} {
		got, err := ParseLevel(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}
