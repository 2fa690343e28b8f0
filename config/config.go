// Package config loads and validates the engine configuration from a yaml
// file, environment variables (TRAFFICFLOU_ prefix) and built-in defaults,
// in that order of precedence.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full engine configuration.
type Config struct {
	Target string `mapstructure:"target"`

	Rate      RateConfig      `mapstructure:"rate"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Session   SessionConfig   `mapstructure:"session"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Driver    DriverConfig    `mapstructure:"driver"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Status    StatusConfig    `mapstructure:"status"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// RateConfig shapes admission control.
type RateConfig struct {
	Target             float64       `mapstructure:"target"`
	Max                float64       `mapstructure:"max"`
	GrowthFactor       float64       `mapstructure:"growth_factor"`
	Burst              int           `mapstructure:"burst"`
	MaxConcurrency     int64         `mapstructure:"max_concurrency"`
	MinConcurrency     int64         `mapstructure:"min_concurrency"`
	ErrorRateThreshold float64       `mapstructure:"error_rate_threshold"`
	ControlWindow      time.Duration `mapstructure:"control_window"`
}

// ProxyConfig describes one egress endpoint.
type ProxyConfig struct {
	URL string `mapstructure:"url"`
	Geo string `mapstructure:"geo"`
}

// IdentityConfig shapes the identity pool.
type IdentityConfig struct {
	PoolSize         int           `mapstructure:"pool_size"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	CooldownWindow   time.Duration `mapstructure:"cooldown_window"`
	RetireAfter      int           `mapstructure:"retire_after"`
	Proxies          []ProxyConfig `mapstructure:"proxies"`
	UserAgents       []string      `mapstructure:"user_agents"`
}

// SessionConfig shapes per-session execution.
type SessionConfig struct {
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	RetryLimit    int           `mapstructure:"retry_limit"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	PlanTimeout   time.Duration `mapstructure:"plan_timeout"`
	Profiles      []string      `mapstructure:"profiles"`
}

// PolicyConfig selects the behavior plan provider.
type PolicyConfig struct {
	Provider string `mapstructure:"provider"` // static, openai, anthropic
	Model    string `mapstructure:"model"`
}

// DriverConfig selects the execution driver.
type DriverConfig struct {
	Name   string `mapstructure:"name"` // http, cdp
	CDPURL string `mapstructure:"cdp_url"`
}

// TelemetryConfig shapes the pipeline and its sinks.
type TelemetryConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Sinks         []string      `mapstructure:"sinks"` // memory, sqlite
	SQLitePath    string        `mapstructure:"sqlite_path"`
}

// StatusConfig shapes the status HTTP server.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig shapes the logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// DefaultUserAgents is a realistic browser user agent rotation.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

func setDefaults(v *viper.Viper) {
	// Registered even when empty so AutomaticEnv can bind TRAFFICFLOU_TARGET.
	v.SetDefault("target", "")

	v.SetDefault("rate.target", 1.0)
	v.SetDefault("rate.max", 50.0)
	v.SetDefault("rate.growth_factor", 1.5)
	v.SetDefault("rate.burst", 5)
	v.SetDefault("rate.max_concurrency", 10)
	v.SetDefault("rate.min_concurrency", 1)
	v.SetDefault("rate.error_rate_threshold", 0.3)
	v.SetDefault("rate.control_window", 10*time.Second)

	v.SetDefault("identity.pool_size", 10)
	v.SetDefault("identity.failure_threshold", 3)
	v.SetDefault("identity.cooldown_window", 5*time.Minute)
	v.SetDefault("identity.retire_after", 3)
	v.SetDefault("identity.user_agents", DefaultUserAgents)

	v.SetDefault("session.action_timeout", 30*time.Second)
	v.SetDefault("session.retry_limit", 3)
	v.SetDefault("session.retry_backoff", 500*time.Millisecond)
	v.SetDefault("session.plan_timeout", 20*time.Second)
	v.SetDefault("session.profiles", []string{"gamer", "casual_player", "competitive_player", "streamer"})

	v.SetDefault("policy.provider", "static")

	v.SetDefault("driver.name", "http")

	v.SetDefault("telemetry.buffer_size", 1024)
	v.SetDefault("telemetry.batch_size", 64)
	v.SetDefault("telemetry.flush_interval", 2*time.Second)
	v.SetDefault("telemetry.sinks", []string{"memory"})
	v.SetDefault("telemetry.sqlite_path", "trafficflou.db")

	v.SetDefault("status.enabled", true)
	v.SetDefault("status.addr", ":8089")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load reads configuration from the optional file at path, the environment
// and defaults, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TRAFFICFLOU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for actionable mistakes.
func (c *Config) Validate() error {
	if c.Target == "" {
		return fmt.Errorf("target is required")
	}
	u, err := url.Parse(c.Target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("target %q must be an absolute URL", c.Target)
	}

	if c.Rate.Target <= 0 {
		return fmt.Errorf("rate.target must be positive")
	}
	if c.Rate.Max < c.Rate.Target {
		return fmt.Errorf("rate.max must be at least rate.target")
	}
	if c.Rate.GrowthFactor < 1 {
		return fmt.Errorf("rate.growth_factor must be at least 1")
	}
	if c.Rate.MaxConcurrency < 1 {
		return fmt.Errorf("rate.max_concurrency must be at least 1")
	}
	if c.Rate.MinConcurrency < 1 || c.Rate.MinConcurrency > c.Rate.MaxConcurrency {
		return fmt.Errorf("rate.min_concurrency must be between 1 and rate.max_concurrency")
	}
	if c.Rate.ErrorRateThreshold <= 0 || c.Rate.ErrorRateThreshold > 1 {
		return fmt.Errorf("rate.error_rate_threshold must be in (0, 1]")
	}
	if c.Rate.ControlWindow <= 0 {
		return fmt.Errorf("rate.control_window must be positive")
	}

	if c.Identity.PoolSize < 1 && len(c.Identity.Proxies) == 0 {
		return fmt.Errorf("identity.pool_size or identity.proxies is required")
	}
	if c.Identity.FailureThreshold < 1 {
		return fmt.Errorf("identity.failure_threshold must be at least 1")
	}
	if c.Identity.CooldownWindow <= 0 {
		return fmt.Errorf("identity.cooldown_window must be positive")
	}
	for _, p := range c.Identity.Proxies {
		if _, err := url.Parse(p.URL); err != nil || p.URL == "" {
			return fmt.Errorf("identity.proxies contains invalid url %q", p.URL)
		}
	}
	if len(c.Identity.UserAgents) == 0 {
		return fmt.Errorf("identity.user_agents must not be empty")
	}

	if c.Session.ActionTimeout <= 0 {
		return fmt.Errorf("session.action_timeout must be positive")
	}
	if c.Session.RetryLimit < 1 {
		return fmt.Errorf("session.retry_limit must be at least 1")
	}

	switch c.Policy.Provider {
	case "static", "openai", "anthropic":
	default:
		return fmt.Errorf("policy.provider %q must be one of static, openai, anthropic", c.Policy.Provider)
	}

	switch c.Driver.Name {
	case "http":
	case "cdp":
		if c.Driver.CDPURL == "" {
			return fmt.Errorf("driver.cdp_url is required for the cdp driver")
		}
	default:
		return fmt.Errorf("driver.name %q must be one of http, cdp", c.Driver.Name)
	}

	if len(c.Telemetry.Sinks) == 0 {
		return fmt.Errorf("telemetry.sinks must not be empty")
	}
	for _, sink := range c.Telemetry.Sinks {
		switch sink {
		case "memory":
		case "sqlite":
			if c.Telemetry.SQLitePath == "" {
				return fmt.Errorf("telemetry.sqlite_path is required for the sqlite sink")
			}
		default:
			return fmt.Errorf("telemetry sink %q must be one of memory, sqlite", sink)
		}
	}

	if c.Status.Enabled && c.Status.Addr == "" {
		return fmt.Errorf("status.addr is required when status.enabled")
	}
	return nil
}
