package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Load_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "https://gamma-api.polymarket.com", cfg.Polymarket.GammaURL)
	assert.Equal(t, "https://clob.polymarket.com", cfg.Polymarket.ClobURL)
	assert.Equal(t, 2*time.Second, cfg.Polymarket.PollInterval)
	assert.Equal(t, 0, cfg.View.DelaySeconds)
	assert.Equal(t, "1m", cfg.View.Timeframe)
	assert.Equal(t, "yes", cfg.View.Outcome)
	assert.Equal(t, 250*time.Millisecond, cfg.View.RefreshInterval)
	assert.Equal(t, 50000, cfg.Series.MaxPoints)
	assert.Equal(t, 6*time.Hour, cfg.Series.MaxAge)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func Test_Load_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delaycast.yaml")
	content := `
server:
  addr: ":9090"
view:
  delay_seconds: 45
  timeframe: 5s
  outcome: "no"
series:
  max_points: 100
logging:
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 45*time.Second, cfg.View.Delay())
	assert.Equal(t, "5s", cfg.View.Timeframe)
	assert.Equal(t, "no", cfg.View.Outcome)
	assert.Equal(t, 100, cfg.Series.MaxPoints)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 6*time.Hour, cfg.Series.MaxAge, "unset keys keep defaults")
}

func Test_Load_EnvOverrides(t *testing.T) {
	t.Setenv("DELAYCAST_VIEW_DELAY_SECONDS", "30")
	t.Setenv("DELAYCAST_SERVER_ADDR", "127.0.0.1:7000")
	t.Setenv("DELAYCAST_POLYMARKET_POLL_INTERVAL", "5s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.View.DelaySeconds)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Polymarket.PollInterval)
}

func Test_Load_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func Test_Validate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError string
	}{
		{
			name:   "Defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:        "Empty server address",
			mutate:      func(c *Config) { c.Server.Addr = "" },
			expectError: "Addr",
		},
		{
			name:        "Bad gamma url",
			mutate:      func(c *Config) { c.Polymarket.GammaURL = "not a url" },
			expectError: "GammaURL",
		},
		{
			name:        "Delay above maximum",
			mutate:      func(c *Config) { c.View.DelaySeconds = 601 },
			expectError: "view.delay_seconds",
		},
		{
			name:        "Delay that wraps when converted",
			mutate:      func(c *Config) { c.View.DelaySeconds = 18446744074 },
			expectError: "view.delay_seconds",
		},
		{
			name:        "Negative delay",
			mutate:      func(c *Config) { c.View.DelaySeconds = -1 },
			expectError: "DelaySeconds",
		},
		{
			name:        "Unknown timeframe",
			mutate:      func(c *Config) { c.View.Timeframe = "3m" },
			expectError: "view.timeframe",
		},
		{
			name:        "Unknown outcome",
			mutate:      func(c *Config) { c.View.Outcome = "maybe" },
			expectError: "Outcome",
		},
		{
			name:        "Poll interval too short",
			mutate:      func(c *Config) { c.Polymarket.PollInterval = 100 * time.Millisecond },
			expectError: "PollInterval",
		},
		{
			name:        "Unknown log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: "Level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.expectError == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.expectError)
		})
	}
}
