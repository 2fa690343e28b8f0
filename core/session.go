package core

import "time"

// SessionStatus is the coordinator's per-session state machine position.
//
// Transitions:
//
//	Pending → IdentityAcquired → PlanReady → Executing → Completed
//	                                                   ↘ Failed | Aborted
//
// Completed, Failed and Aborted are terminal. Every terminal transition
// emits exactly one SessionResult.
type SessionStatus string

const (
	StatusPending          SessionStatus = "pending"
	StatusIdentityAcquired SessionStatus = "identity_acquired"
	StatusPlanReady        SessionStatus = "plan_ready"
	StatusExecuting        SessionStatus = "executing"
	StatusCompleted        SessionStatus = "completed"
	StatusFailed           SessionStatus = "failed"
	StatusAborted          SessionStatus = "aborted"
)

// Terminal reports whether the status ends a session.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// FailureReason classifies why a session did not complete.
type FailureReason string

const (
	// ReasonNone marks a completed session.
	ReasonNone FailureReason = ""
	// ReasonNoIdentity means the pool had no matching identity.
	ReasonNoIdentity FailureReason = "no_identity"
	// ReasonPlanUnavailable means the policy provider timed out or returned
	// a malformed plan.
	ReasonPlanUnavailable FailureReason = "plan_unavailable"
	// ReasonActionExhausted means an action failed past its retry limit.
	ReasonActionExhausted FailureReason = "action_exhausted"
	// ReasonFatal means the driver reported an unretryable error, e.g. the
	// target rejected the identity.
	ReasonFatal FailureReason = "fatal"
	// ReasonCancelled means the session was cancelled between actions.
	ReasonCancelled FailureReason = "cancelled"
)

// SessionSpec describes one admitted unit of work. Immutable once created
// by the scheduler.
type SessionSpec struct {
	ID       string    `json:"id"`
	Target   string    `json:"target"`
	Profile  string    `json:"profile"`
	Priority int       `json:"priority"`
	Admitted time.Time `json:"admitted"`
}

// NewSessionSpec creates a spec with a fresh ID and admission timestamp.
func NewSessionSpec(target, profile string, priority int) SessionSpec {
	return SessionSpec{
		ID:       NewID(),
		Target:   target,
		Profile:  profile,
		Priority: priority,
		Admitted: time.Now().UTC(),
	}
}

// OutcomeStatus is the result classification of a single action attempt.
type OutcomeStatus string

const (
	OutcomeOK      OutcomeStatus = "ok"
	OutcomeTimeout OutcomeStatus = "timeout"
	OutcomeError   OutcomeStatus = "error"
)

// ActionOutcome records one attempt at one plan action. Outcomes are
// retained per attempt: a retried action contributes one entry per attempt,
// all sharing ActionIndex, in execution order. Immutable once appended.
type ActionOutcome struct {
	ActionIndex int           `json:"action_index"`
	Attempt     int           `json:"attempt"`
	Status      OutcomeStatus `json:"status"`
	Latency     time.Duration `json:"latency"`
	Observed    string        `json:"observed,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// SessionResult is the terminal record of one session, consumed exactly
// once by the telemetry pipeline.
type SessionResult struct {
	SessionID  string          `json:"session_id"`
	IdentityID string          `json:"identity_id,omitempty"`
	Target     string          `json:"target"`
	Profile    string          `json:"profile,omitempty"`
	Status     SessionStatus   `json:"status"`
	Reason     FailureReason   `json:"reason,omitempty"`
	Outcomes   []ActionOutcome `json:"outcomes,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
}

// Succeeded reports whether the session completed its plan.
func (r SessionResult) Succeeded() bool { return r.Status == StatusCompleted }

// AverageLatency returns the mean latency across all recorded attempts,
// or zero when no attempt was made.
func (r SessionResult) AverageLatency() time.Duration {
	if len(r.Outcomes) == 0 {
		return 0
	}
	var total time.Duration
	for _, o := range r.Outcomes {
		total += o.Latency
	}
	return total / time.Duration(len(r.Outcomes))
}
