package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/trafficflou/trafficflou/core"
	"github.com/trafficflou/trafficflou/driver"
	"github.com/trafficflou/trafficflou/identity"
	"github.com/trafficflou/trafficflou/logging"
	"github.com/trafficflou/trafficflou/policy"
)

// Options configure per-session execution.
type Options struct {
	// ActionTimeout bounds each driver call. A timed out attempt is
	// recorded and retried.
	ActionTimeout time.Duration
	// RetryLimit is the maximum number of attempts per action.
	RetryLimit int
	// RetryBackoff is the base delay between attempts, doubled per retry.
	RetryBackoff time.Duration
	// PlanTimeout bounds the policy provider call.
	PlanTimeout time.Duration
	// Profiles resolves a spec's profile name to its full definition.
	Profiles []core.BehaviorProfile
	// Geo restricts identity acquisition, empty for any.
	Geo string
	// Clock overrides time.Now, for deterministic tests.
	Clock func() time.Time
	// Logger receives state transitions and action events. Defaults to NoOp.
	Logger logging.Logger
}

// Coordinator runs sessions against a fixed identity pool, policy provider
// and execution driver. Safe for concurrent use; each Run is independent.
type Coordinator struct {
	pool     *identity.Pool
	provider policy.Provider
	driver   driver.Driver
	opts     Options
}

// New constructs a coordinator.
func New(pool *identity.Pool, provider policy.Provider, drv driver.Driver, optFns ...func(o *Options)) *Coordinator {
	opts := Options{
		ActionTimeout: 30 * time.Second,
		RetryLimit:    3,
		RetryBackoff:  500 * time.Millisecond,
		PlanTimeout:   20 * time.Second,
		Clock:         time.Now,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.RetryLimit < 1 {
		opts.RetryLimit = 1
	}
	return &Coordinator{pool: pool, provider: provider, driver: drv, opts: opts}
}

// run carries the mutable state of one session through its lifecycle.
type run struct {
	c          *Coordinator
	spec       core.SessionSpec
	log        logging.Logger
	status     core.SessionStatus
	identity   *core.Identity
	identityID string
	started    time.Time
	outcomes   []core.ActionOutcome
}

// Run executes one session to completion and returns its terminal result.
// It never returns an error: every failure mode is folded into the result.
func (c *Coordinator) Run(ctx context.Context, spec core.SessionSpec) core.SessionResult {
	r := &run{
		c:       c,
		spec:    spec,
		log:     c.opts.Logger,
		status:  core.StatusPending,
		started: c.opts.Clock(),
	}

	id, err := c.pool.Acquire(identity.Criteria{Geo: c.opts.Geo})
	if err != nil {
		r.log.Warn("no identity available", "session_id", spec.ID, "error", err)
		return r.finalize(core.StatusFailed, core.ReasonNoIdentity)
	}
	r.identity = id
	r.identityID = id.ID
	r.transition(core.StatusIdentityAcquired)

	plan, err := r.requestPlan(ctx)
	if err != nil {
		r.log.Warn("plan unavailable", "session_id", spec.ID, "error", err)
		r.release(identity.OutcomeFailure)
		return r.finalize(core.StatusFailed, core.ReasonPlanUnavailable)
	}
	r.transition(core.StatusPlanReady)

	r.transition(core.StatusExecuting)
	return r.executePlan(ctx, plan)
}

func (r *run) requestPlan(ctx context.Context) (*core.BehaviorPlan, error) {
	planCtx, cancel := context.WithTimeout(ctx, r.c.opts.PlanTimeout)
	defer cancel()

	return r.c.provider.GetPlan(planCtx, policy.SessionContext{
		SessionID: r.spec.ID,
		Target:    r.spec.Target,
		Profile:   r.profile(),
		UserAgent: r.identity.UserAgent,
	})
}

func (r *run) profile() core.BehaviorProfile {
	for _, p := range r.c.opts.Profiles {
		if p.Name == r.spec.Profile {
			return p
		}
	}
	return core.BehaviorProfile{Name: r.spec.Profile}
}

// executePlan walks the plan strictly in order. Each action gets up to
// RetryLimit attempts; every attempt appends its own outcome except one cut
// short by session cancellation, which is discarded.
func (r *run) executePlan(ctx context.Context, plan *core.BehaviorPlan) core.SessionResult {
	for i, action := range plan.Actions {
		ok, res := r.executeAction(ctx, i, action)
		if !ok {
			return res
		}
	}
	r.release(identity.OutcomeSuccess)
	return r.finalize(core.StatusCompleted, core.ReasonNone)
}

// executeAction runs one action through its retry loop. It returns ok=true
// when the action eventually succeeded, otherwise the session's terminal
// result.
func (r *run) executeAction(ctx context.Context, index int, action core.Action) (bool, core.SessionResult) {
	for attempt := 1; attempt <= r.c.opts.RetryLimit; attempt++ {
		// Cancellation is only honored between attempts; an in-flight driver
		// call is awaited and its outcome discarded.
		if ctx.Err() != nil {
			r.release(identity.OutcomeFailure)
			return false, r.finalize(core.StatusAborted, core.ReasonCancelled)
		}

		outcome, err := r.attempt(ctx, index, attempt, action)
		if err == nil {
			r.outcomes = append(r.outcomes, outcome)
			return true, core.SessionResult{}
		}
		if ctx.Err() != nil {
			// The session was cancelled while the call was in flight.
			r.release(identity.OutcomeFailure)
			return false, r.finalize(core.StatusAborted, core.ReasonCancelled)
		}
		r.outcomes = append(r.outcomes, outcome)

		if core.IsFatal(err) {
			r.log.Warn("fatal driver error",
				"session_id", r.spec.ID, "action", string(action.Kind), "error", err)
			r.release(identity.OutcomeFailure)
			return false, r.finalize(core.StatusAborted, core.ReasonFatal)
		}
		if attempt < r.c.opts.RetryLimit {
			if err := r.backoff(ctx, attempt); err != nil {
				r.release(identity.OutcomeFailure)
				return false, r.finalize(core.StatusAborted, core.ReasonCancelled)
			}
		}
	}

	r.log.Warn("action retries exhausted",
		"session_id", r.spec.ID, "action_index", index, "attempts", r.c.opts.RetryLimit)
	r.release(identity.OutcomeFailure)
	return false, r.finalize(core.StatusFailed, core.ReasonActionExhausted)
}

// attempt performs a single bounded driver call and classifies its outcome.
func (r *run) attempt(ctx context.Context, index, attempt int, action core.Action) (core.ActionOutcome, error) {
	actionCtx, cancel := context.WithTimeout(ctx, r.c.opts.ActionTimeout)
	defer cancel()

	start := r.c.opts.Clock()
	res, err := r.c.driver.Execute(actionCtx, r.identity, action)
	latency := r.c.opts.Clock().Sub(start)

	outcome := core.ActionOutcome{
		ActionIndex: index,
		Attempt:     attempt,
		Latency:     latency,
		Observed:    res.Observed,
	}
	switch {
	case err == nil:
		outcome.Status = core.OutcomeOK
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		outcome.Status = core.OutcomeTimeout
		outcome.Error = "action timeout"
	default:
		outcome.Status = core.OutcomeError
		outcome.Error = err.Error()
	}

	r.log.Debug("action attempt",
		"session_id", r.spec.ID,
		"action", string(action.Kind),
		"attempt", attempt,
		"status", string(outcome.Status),
		"latency", latency,
	)
	return outcome, err
}

func (r *run) backoff(ctx context.Context, attempt int) error {
	delay := r.c.opts.RetryBackoff << (attempt - 1)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *run) transition(next core.SessionStatus) {
	r.log.Debug("session transition",
		"session_id", r.spec.ID, "from", string(r.status), "to", string(next))
	r.status = next
}

func (r *run) release(outcome identity.Outcome) {
	if r.identity == nil {
		return
	}
	r.c.pool.Release(r.identity.ID, outcome)
	r.identity = nil
}

// finalize builds the single terminal result for this session.
func (r *run) finalize(status core.SessionStatus, reason core.FailureReason) core.SessionResult {
	r.transition(status)
	return core.SessionResult{
		SessionID:  r.spec.ID,
		IdentityID: r.identityID,
		Target:     r.spec.Target,
		Profile:    r.spec.Profile,
		Status:     status,
		Reason:     reason,
		Outcomes:   r.outcomes,
		StartedAt:  r.started,
		Duration:   r.c.opts.Clock().Sub(r.started),
	}
}
