package policy

import (
	"context"
	"math/rand"
	"time"

	"github.com/trafficflou/trafficflou/core"
)

// StaticOptions configure the StaticProvider.
type StaticOptions struct {
	// MaxPages caps how many profile pages one plan visits.
	MaxPages int
	// ThinkTimeJitter scales the random spread around the base think time
	// derived from the profile session duration (0 disables jitter).
	ThinkTimeJitter float64
	// Rand overrides the randomness source, for deterministic tests.
	Rand *rand.Rand
}

// StaticProvider builds plans from the profile's page paths without any
// model call: navigate the target, then walk the pages the archetype
// gravitates to with think-time waits and occasional scrolls in between.
// It is the default provider and the fallback when no AI backend is
// configured.
type StaticProvider struct {
	opts StaticOptions
}

// NewStaticProvider constructs a StaticProvider with optional overrides.
func NewStaticProvider(optFns ...func(o *StaticOptions)) *StaticProvider {
	opts := StaticOptions{
		MaxPages:        6,
		ThinkTimeJitter: 0.5,
		Rand:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &StaticProvider{opts: opts}
}

// GetPlan implements Provider.
func (p *StaticProvider) GetPlan(_ context.Context, sc SessionContext) (*core.BehaviorPlan, error) {
	paths := sc.Profile.PagePaths
	if len(paths) == 0 {
		paths = []string{"/"}
	}
	if len(paths) > p.opts.MaxPages {
		paths = paths[:p.opts.MaxPages]
	}

	think := p.thinkTime(sc.Profile, len(paths))

	plan := &core.BehaviorPlan{ID: core.NewID(), Profile: sc.Profile.Name}
	for i, path := range paths {
		plan.Actions = append(plan.Actions, core.Action{
			Kind:   core.ActionNavigate,
			Target: sc.Target + path,
		})
		plan.Actions = append(plan.Actions, core.Action{
			Kind:     core.ActionWait,
			Duration: p.jitter(think),
		})
		// Scroll roughly every other page, the way a reader skims.
		if i%2 == 0 {
			plan.Actions = append(plan.Actions, core.Action{
				Kind:  core.ActionScroll,
				Value: "800",
			})
		}
	}
	plan.Actions = append(plan.Actions, core.Action{
		Kind:   core.ActionExtract,
		Target: "title",
		Expect: "page title",
	})
	return plan, nil
}

// Info implements Provider.
func (p *StaticProvider) Info() Info {
	return Info{Name: "static-profile-walk", Provider: "static"}
}

// thinkTime spreads the profile's session duration across the planned page
// visits, floored at one second.
func (p *StaticProvider) thinkTime(profile core.BehaviorProfile, pages int) time.Duration {
	if profile.SessionDuration <= 0 || pages == 0 {
		return time.Second
	}
	t := profile.SessionDuration / time.Duration(pages*2)
	if t < time.Second {
		t = time.Second
	}
	return t
}

func (p *StaticProvider) jitter(base time.Duration) time.Duration {
	if p.opts.ThinkTimeJitter <= 0 {
		return base
	}
	spread := float64(base) * p.opts.ThinkTimeJitter
	return base + time.Duration((p.opts.Rand.Float64()*2-1)*spread)
}
