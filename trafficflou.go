// Package trafficflou provides a high-level façade over the session
// orchestration engine. Most applications interact with this package by:
//  1. Creating a TrafficFlou via New() (optionally overriding the policy
//     provider, execution driver, identity set and telemetry sinks)
//  2. Starting it with Start() and reading aggregate metrics via Snapshot()
//  3. Stopping it with Stop(), which drains in-flight sessions and flushes
//     telemetry
//
// All defaults are safe for local development: a static profile-walk policy
// provider, the HTTP execution driver, an in-memory telemetry sink and a
// small synthetic identity pool. Production deployments typically supply an
// AI-backed provider, proxy-backed identities and a durable sink, wired
// from config via FromConfig.
package trafficflou

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/trafficflou/trafficflou/config"
	"github.com/trafficflou/trafficflou/coordinator"
	"github.com/trafficflou/trafficflou/core"
	"github.com/trafficflou/trafficflou/driver"
	"github.com/trafficflou/trafficflou/driver/cdp"
	"github.com/trafficflou/trafficflou/driver/httpx"
	"github.com/trafficflou/trafficflou/engine"
	"github.com/trafficflou/trafficflou/identity"
	"github.com/trafficflou/trafficflou/logging"
	"github.com/trafficflou/trafficflou/policy"
	"github.com/trafficflou/trafficflou/policy/anthropic"
	"github.com/trafficflou/trafficflou/policy/openai"
	"github.com/trafficflou/trafficflou/scheduler"
	"github.com/trafficflou/trafficflou/telemetry"
	sqlitesink "github.com/trafficflou/trafficflou/telemetry/sqlite"
)

// Options configures the TrafficFlou instance.
type Options struct {
	// Profiles are the behavior archetypes rotated across sessions.
	// Defaults to the built-in set.
	Profiles []core.BehaviorProfile

	// Provider generates behavior plans. Defaults to the static
	// profile-walk provider.
	Provider policy.Provider

	// Driver executes plan actions. Defaults to the HTTP driver.
	Driver driver.Driver

	// Sinks receive batched session results. Defaults to one in-memory
	// sink.
	Sinks []telemetry.Sink

	// Identities seed the pool. Defaults to a small synthetic set with
	// rotated user agents and no proxies.
	Identities []*core.Identity

	// Component tuning hooks, applied on top of each component's defaults.
	SchedulerOptions   []func(o *scheduler.Options)
	CoordinatorOptions []func(o *coordinator.Options)
	IdentityOptions    []func(o *identity.Options)
	TelemetryOptions   []func(o *telemetry.Options)

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// TrafficFlou is the high-level façade aggregating the engine and its
// collaborators.
type TrafficFlou struct {
	engine   *engine.Engine
	pool     *identity.Pool
	pipeline *telemetry.Pipeline
}

// New creates a TrafficFlou targeting the given site with optional
// overrides. Any unset collaborator is initialized with a local default.
func New(target string, optFns ...func(o *Options)) *TrafficFlou {
	opts := Options{
		Profiles: core.DefaultProfiles(),
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Provider == nil {
		opts.Provider = policy.NewStaticProvider()
	}
	if opts.Driver == nil {
		opts.Driver = httpx.New()
	}
	if len(opts.Sinks) == 0 {
		opts.Sinks = []telemetry.Sink{telemetry.NewMemorySink()}
	}
	if len(opts.Identities) == 0 {
		opts.Identities = SyntheticIdentities(10, config.DefaultUserAgents, nil)
	}

	pool := identity.NewPool(opts.Identities, append(opts.IdentityOptions,
		func(o *identity.Options) { o.Logger = opts.Logger })...)

	coord := coordinator.New(pool, opts.Provider, opts.Driver, append(opts.CoordinatorOptions,
		func(o *coordinator.Options) {
			o.Profiles = opts.Profiles
			o.Logger = opts.Logger
		})...)

	sched := scheduler.New(append(opts.SchedulerOptions,
		func(o *scheduler.Options) {
			o.Target = target
			o.Profiles = opts.Profiles
			o.Logger = opts.Logger
		})...)

	pipe := telemetry.NewPipeline(opts.Sinks, append(opts.TelemetryOptions,
		func(o *telemetry.Options) { o.Logger = opts.Logger })...)

	eng := engine.New(sched, coord, pipe, func(o *engine.Options) {
		o.Logger = opts.Logger
	})

	return &TrafficFlou{engine: eng, pool: pool, pipeline: pipe}
}

// FromConfig builds a fully wired TrafficFlou from a validated config.
func FromConfig(cfg *config.Config, logger logging.Logger) (*TrafficFlou, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	provider, err := providerFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	drv, err := driverFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	sinks, err := sinksFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	profiles := selectProfiles(cfg.Session.Profiles)

	tf := New(cfg.Target, func(o *Options) {
		o.Profiles = profiles
		o.Provider = provider
		o.Driver = drv
		o.Sinks = sinks
		o.Identities = identitiesFromConfig(cfg)
		o.Logger = logger

		o.SchedulerOptions = []func(so *scheduler.Options){func(so *scheduler.Options) {
			so.TargetRate = cfg.Rate.Target
			so.MaxRate = cfg.Rate.Max
			so.GrowthFactor = cfg.Rate.GrowthFactor
			so.Burst = cfg.Rate.Burst
			so.MaxConcurrency = cfg.Rate.MaxConcurrency
			so.MinConcurrency = cfg.Rate.MinConcurrency
			so.ErrorRateThreshold = cfg.Rate.ErrorRateThreshold
			so.ControlWindow = cfg.Rate.ControlWindow
		}}
		o.CoordinatorOptions = []func(co *coordinator.Options){func(co *coordinator.Options) {
			co.ActionTimeout = cfg.Session.ActionTimeout
			co.RetryLimit = cfg.Session.RetryLimit
			co.RetryBackoff = cfg.Session.RetryBackoff
			co.PlanTimeout = cfg.Session.PlanTimeout
		}}
		o.IdentityOptions = []func(io *identity.Options){func(io *identity.Options) {
			io.FailureThreshold = cfg.Identity.FailureThreshold
			io.CooldownWindow = cfg.Identity.CooldownWindow
			io.RetireAfter = cfg.Identity.RetireAfter
		}}
		o.TelemetryOptions = []func(to *telemetry.Options){func(to *telemetry.Options) {
			to.BufferSize = cfg.Telemetry.BufferSize
			to.BatchSize = cfg.Telemetry.BatchSize
			to.FlushInterval = cfg.Telemetry.FlushInterval
		}}
	})
	return tf, nil
}

// Start launches the admission loop.
func (tf *TrafficFlou) Start(ctx context.Context) error {
	return tf.engine.Start(ctx)
}

// Stop drains in-flight sessions and flushes telemetry, bounded by ctx.
func (tf *TrafficFlou) Stop(ctx context.Context) error {
	return tf.engine.Stop(ctx)
}

// Snapshot returns current aggregate metrics.
func (tf *TrafficFlou) Snapshot() engine.Snapshot {
	return tf.engine.Snapshot()
}

// SetPhase ramps the admission rate to base·growth^phase.
func (tf *TrafficFlou) SetPhase(phase int) {
	tf.engine.SetPhase(phase)
}

// PoolStats returns the identity pool breakdown.
func (tf *TrafficFlou) PoolStats() identity.Stats {
	return tf.pool.Snapshot()
}

// Engine exposes the underlying engine, e.g. for the status server.
func (tf *TrafficFlou) Engine() *engine.Engine {
	return tf.engine
}

// SyntheticIdentities builds n identities cycling through userAgents and
// proxies. Proxies may be nil for direct egress.
func SyntheticIdentities(n int, userAgents []string, proxies []config.ProxyConfig) []*core.Identity {
	ids := make([]*core.Identity, 0, n)
	for i := 0; i < n; i++ {
		ua := ""
		if len(userAgents) > 0 {
			ua = userAgents[i%len(userAgents)]
		}
		proxyURL, geo := "", ""
		if len(proxies) > 0 {
			p := proxies[i%len(proxies)]
			proxyURL, geo = p.URL, p.Geo
		}
		ids = append(ids, core.NewIdentity(proxyURL, ua, geo))
	}
	return ids
}

func identitiesFromConfig(cfg *config.Config) []*core.Identity {
	n := cfg.Identity.PoolSize
	if len(cfg.Identity.Proxies) > n {
		n = len(cfg.Identity.Proxies)
	}
	return SyntheticIdentities(n, cfg.Identity.UserAgents, cfg.Identity.Proxies)
}

func providerFromConfig(cfg *config.Config) (policy.Provider, error) {
	switch cfg.Policy.Provider {
	case "static":
		return policy.NewStaticProvider(), nil
	case "openai":
		return openai.NewProvider(func(o *openai.Options) {
			if cfg.Policy.Model != "" {
				o.Model = cfg.Policy.Model
			}
		}), nil
	case "anthropic":
		return anthropic.NewProvider(func(o *anthropic.Options) {
			if cfg.Policy.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Policy.Model)
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown policy provider %q", cfg.Policy.Provider)
	}
}

func driverFromConfig(cfg *config.Config) (driver.Driver, error) {
	switch cfg.Driver.Name {
	case "http":
		return httpx.New(), nil
	case "cdp":
		return cdp.New(cfg.Driver.CDPURL), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver.Name)
	}
}

// sinksFromConfig initializes the configured sinks. A sink that fails to
// initialize is logged and skipped; the error is fatal only when no sink at
// all comes up.
func sinksFromConfig(cfg *config.Config, logger logging.Logger) ([]telemetry.Sink, error) {
	var (
		sinks    []telemetry.Sink
		firstErr error
	)
	for _, name := range cfg.Telemetry.Sinks {
		var (
			sink telemetry.Sink
			err  error
		)
		switch name {
		case "memory":
			sink = telemetry.NewMemorySink()
		case "sqlite":
			sink, err = sqlitesink.Open(cfg.Telemetry.SQLitePath)
		default:
			err = fmt.Errorf("unknown telemetry sink %q", name)
		}
		if err != nil {
			logger.Warn("telemetry sink unavailable", "sink", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sinks = append(sinks, sink)
	}
	if len(sinks) == 0 && firstErr != nil {
		return nil, fmt.Errorf("no telemetry sink initialized: %w", firstErr)
	}
	return sinks, nil
}

func selectProfiles(names []string) []core.BehaviorProfile {
	all := core.DefaultProfiles()
	if len(names) == 0 {
		return all
	}
	byName := make(map[string]core.BehaviorProfile, len(all))
	for _, p := range all {
		byName[p.Name] = p
	}
	out := make([]core.BehaviorProfile, 0, len(names))
	for _, name := range names {
		if p, ok := byName[name]; ok {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}
