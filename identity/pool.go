package identity

import (
	"sync"
	"time"

	"github.com/trafficflou/trafficflou/core"
	"github.com/trafficflou/trafficflou/logging"
)

// Outcome reports how a session fared with its identity.
type Outcome string

const (
	// OutcomeSuccess returns the identity to rotation immediately.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure counts against the identity's failure threshold.
	OutcomeFailure Outcome = "failure"
)

// Criteria narrows identity selection during acquisition. Zero-value
// criteria match any available identity.
type Criteria struct {
	// Geo restricts selection to identities with this geo tag.
	Geo string
}

// Options configure pool behavior.
type Options struct {
	// FailureThreshold is the number of recorded failures that moves an
	// identity into cooldown.
	FailureThreshold int
	// CooldownWindow is the mandatory non-use interval after the threshold
	// is reached.
	CooldownWindow time.Duration
	// RetireAfter is the number of consecutive cooldown windows after which
	// an identity is permanently retired.
	RetireAfter int
	// Clock overrides time.Now, for deterministic tests.
	Clock func() time.Time
	// Logger receives pool lifecycle events. Defaults to NoOp.
	Logger logging.Logger
}

type entry struct {
	identity      *core.Identity
	cooldownUntil time.Time
	coolWindows   int
}

// Pool hands out identities to sessions under rotation and cooldown
// constraints. Safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	opts    Options
}

// NewPool constructs a pool seeded with the given identities.
func NewPool(identities []*core.Identity, optFns ...func(o *Options)) *Pool {
	opts := Options{
		FailureThreshold: 3,
		CooldownWindow:   5 * time.Minute,
		RetireAfter:      3,
		Clock:            time.Now,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	p := &Pool{entries: make(map[string]*entry, len(identities)), opts: opts}
	for _, id := range identities {
		p.entries[id.ID] = &entry{identity: id}
	}
	return p
}

// Replenish adds identities to the pool at runtime.
func (p *Pool) Replenish(identities ...*core.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range identities {
		p.entries[id.ID] = &entry{identity: id}
	}
}

// Acquire selects the least-recently-used available identity matching the
// criteria, marks it in use and returns a copy. It fails with
// core.ErrPoolExhausted when nothing matches; callers surface that as a
// session failure instead of blocking.
func (p *Pool) Acquire(criteria Criteria) (*core.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.opts.Clock()

	var best *entry
	for _, e := range p.entries {
		p.expireCooldownLocked(e, now)

		if e.identity.State != core.IdentityAvailable {
			continue
		}
		if criteria.Geo != "" && e.identity.Geo != criteria.Geo {
			continue
		}
		if best == nil || e.identity.LastUsed.Before(best.identity.LastUsed) {
			best = e
		}
	}
	if best == nil {
		return nil, core.ErrPoolExhausted
	}

	best.identity.State = core.IdentityInUse
	cp := *best.identity
	return &cp, nil
}

// Release records the session outcome for a held identity. Success returns
// it to rotation with a fresh last-used timestamp; failures past the
// threshold start a cooldown window, and failures persisting across
// RetireAfter consecutive windows retire the identity.
func (p *Pool) Release(identityID string, outcome Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[identityID]
	if !ok || e.identity.State != core.IdentityInUse {
		return
	}

	now := p.opts.Clock()
	e.identity.LastUsed = now

	if outcome == OutcomeSuccess {
		e.identity.Failures = 0
		e.coolWindows = 0
		e.identity.State = core.IdentityAvailable
		return
	}

	e.identity.Failures++
	if e.identity.Failures < p.opts.FailureThreshold {
		e.identity.State = core.IdentityAvailable
		return
	}

	e.coolWindows++
	if e.coolWindows >= p.opts.RetireAfter {
		e.identity.State = core.IdentityRetired
		p.opts.Logger.Warn("identity retired", "identity_id", identityID, "failures", e.identity.Failures)
		return
	}

	e.identity.State = core.IdentityCoolingDown
	e.cooldownUntil = now.Add(p.opts.CooldownWindow)
	e.identity.Failures = 0
	p.opts.Logger.Info("identity cooling down",
		"identity_id", identityID,
		"until", e.cooldownUntil,
		"window", e.coolWindows,
	)
}

// expireCooldownLocked promotes an identity back to available once its
// cooldown window has elapsed. Caller must hold the lock.
func (p *Pool) expireCooldownLocked(e *entry, now time.Time) {
	if e.identity.State == core.IdentityCoolingDown && !now.Before(e.cooldownUntil) {
		e.identity.State = core.IdentityAvailable
	}
}

// Stats is a point-in-time census of identity states.
type Stats struct {
	Available   int `json:"available"`
	InUse       int `json:"in_use"`
	CoolingDown int `json:"cooling_down"`
	Retired     int `json:"retired"`
}

// Snapshot returns the current state census. Cooldown expiry is applied
// before counting so the numbers reflect what Acquire would see.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.opts.Clock()
	var s Stats
	for _, e := range p.entries {
		p.expireCooldownLocked(e, now)
		switch e.identity.State {
		case core.IdentityAvailable:
			s.Available++
		case core.IdentityInUse:
			s.InUse++
		case core.IdentityCoolingDown:
			s.CoolingDown++
		case core.IdentityRetired:
			s.Retired++
		}
	}
	return s
}
