package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithEnvTarget(t *testing.T) {
	t.Setenv("TRAFFICFLOU_TARGET", "https://gamedin.example")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://gamedin.example", cfg.Target)
	assert.Equal(t, 1.0, cfg.Rate.Target)
	assert.Equal(t, int64(10), cfg.Rate.MaxConcurrency)
	assert.Equal(t, 10*time.Second, cfg.Rate.ControlWindow)
	assert.Equal(t, 5*time.Minute, cfg.Identity.CooldownWindow)
	assert.Equal(t, 3, cfg.Session.RetryLimit)
	assert.Equal(t, "static", cfg.Policy.Provider)
	assert.Equal(t, "http", cfg.Driver.Name)
	assert.Equal(t, []string{"memory"}, cfg.Telemetry.Sinks)
	assert.NotEmpty(t, cfg.Identity.UserAgents)
}

func TestLoad_MissingTarget(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target is required")
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trafficflou.yaml")
	yaml := `
target: https://gamedin.example
rate:
  target: 2.5
  max: 40
  max_concurrency: 16
identity:
  pool_size: 4
  proxies:
    - url: http://proxy-1.example:8080
      geo: us
    - url: http://proxy-2.example:8080
      geo: eu
policy:
  provider: openai
  model: gpt-4o-mini
driver:
  name: cdp
  cdp_url: ws://localhost:9222/devtools/browser
telemetry:
  sinks: [memory, sqlite]
  sqlite_path: /tmp/flou.db
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2.5, cfg.Rate.Target)
	assert.Equal(t, int64(16), cfg.Rate.MaxConcurrency)
	require.Len(t, cfg.Identity.Proxies, 2)
	assert.Equal(t, "eu", cfg.Identity.Proxies[1].Geo)
	assert.Equal(t, "openai", cfg.Policy.Provider)
	assert.Equal(t, "cdp", cfg.Driver.Name)
	assert.Equal(t, []string{"memory", "sqlite"}, cfg.Telemetry.Sinks)
	// Defaults still fill unset sections.
	assert.Equal(t, 30*time.Second, cfg.Session.ActionTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"relative target", func(c *Config) { c.Target = "example.com/path" }, "absolute URL"},
		{"zero rate", func(c *Config) { c.Rate.Target = 0 }, "rate.target"},
		{"max below target", func(c *Config) { c.Rate.Max = 0.5 }, "rate.max"},
		{"shrinking growth", func(c *Config) { c.Rate.GrowthFactor = 0.9 }, "growth_factor"},
		{"zero concurrency", func(c *Config) { c.Rate.MaxConcurrency = 0 }, "max_concurrency"},
		{"threshold above one", func(c *Config) { c.Rate.ErrorRateThreshold = 1.5 }, "error_rate_threshold"},
		{"no identities", func(c *Config) { c.Identity.PoolSize = 0; c.Identity.Proxies = nil }, "pool_size"},
		{"no user agents", func(c *Config) { c.Identity.UserAgents = nil }, "user_agents"},
		{"unknown provider", func(c *Config) { c.Policy.Provider = "oracle" }, "policy.provider"},
		{"cdp without url", func(c *Config) { c.Driver.Name = "cdp"; c.Driver.CDPURL = "" }, "cdp_url"},
		{"unknown driver", func(c *Config) { c.Driver.Name = "selenium" }, "driver.name"},
		{"no sinks", func(c *Config) { c.Telemetry.Sinks = nil }, "telemetry.sinks"},
		{"unknown sink", func(c *Config) { c.Telemetry.Sinks = []string{"kafka"} }, "sink"},
		{"sqlite without path", func(c *Config) {
			c.Telemetry.Sinks = []string{"sqlite"}
			c.Telemetry.SQLitePath = ""
		}, "sqlite_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TRAFFICFLOU_TARGET", "https://gamedin.example")
			cfg, err := Load("")
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
