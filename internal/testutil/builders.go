package testutil

import (
	"time"

	"github.com/trafficflou/trafficflou/core"
)

// PlanBuilder assembles a BehaviorPlan step by step.
type PlanBuilder struct {
	plan core.BehaviorPlan
}

// NewPlan starts a plan for the given profile.
func NewPlan(profile string) *PlanBuilder {
	return &PlanBuilder{plan: core.BehaviorPlan{ID: core.NewID(), Profile: profile}}
}

// Navigate appends a navigate action.
func (b *PlanBuilder) Navigate(target string) *PlanBuilder {
	b.plan.Actions = append(b.plan.Actions, core.Action{Kind: core.ActionNavigate, Target: target})
	return b
}

// Wait appends a wait action.
func (b *PlanBuilder) Wait(d time.Duration) *PlanBuilder {
	b.plan.Actions = append(b.plan.Actions, core.Action{Kind: core.ActionWait, Duration: d})
	return b
}

// Click appends a click action.
func (b *PlanBuilder) Click(selector string) *PlanBuilder {
	b.plan.Actions = append(b.plan.Actions, core.Action{Kind: core.ActionClick, Target: selector})
	return b
}

// Extract appends an extract action.
func (b *PlanBuilder) Extract(target string) *PlanBuilder {
	b.plan.Actions = append(b.plan.Actions, core.Action{Kind: core.ActionExtract, Target: target})
	return b
}

// Build returns the assembled plan.
func (b *PlanBuilder) Build() *core.BehaviorPlan {
	p := b.plan
	return &p
}

// ResultBuilder assembles a SessionResult.
type ResultBuilder struct {
	result core.SessionResult
}

// NewResult starts a completed result for the given session id.
func NewResult(sessionID string) *ResultBuilder {
	return &ResultBuilder{result: core.SessionResult{
		SessionID: sessionID,
		Status:    core.StatusCompleted,
		StartedAt: time.Now().UTC(),
	}}
}

// Failed marks the result failed with a reason.
func (b *ResultBuilder) Failed(reason core.FailureReason) *ResultBuilder {
	b.result.Status = core.StatusFailed
	b.result.Reason = reason
	return b
}

// Aborted marks the result aborted with a reason.
func (b *ResultBuilder) Aborted(reason core.FailureReason) *ResultBuilder {
	b.result.Status = core.StatusAborted
	b.result.Reason = reason
	return b
}

// Outcome appends one action outcome.
func (b *ResultBuilder) Outcome(index, attempt int, status core.OutcomeStatus, latency time.Duration) *ResultBuilder {
	b.result.Outcomes = append(b.result.Outcomes, core.ActionOutcome{
		ActionIndex: index,
		Attempt:     attempt,
		Status:      status,
		Latency:     latency,
	})
	return b
}

// Build returns the assembled result.
func (b *ResultBuilder) Build() core.SessionResult {
	return b.result
}
