package core

import "time"

// ActionKind enumerates the abstract behaviors a driver can execute.
type ActionKind string

const (
	// ActionNavigate loads a URL.
	ActionNavigate ActionKind = "navigate"
	// ActionWait idles for Action.Duration to mimic reading/thinking time.
	ActionWait ActionKind = "wait"
	// ActionClick activates the element addressed by Action.Target.
	ActionClick ActionKind = "click"
	// ActionScroll scrolls the viewport; Action.Value carries the distance.
	ActionScroll ActionKind = "scroll"
	// ActionFill types Action.Value into the element at Action.Target.
	ActionFill ActionKind = "fill"
	// ActionExtract reads text/content from Action.Target.
	ActionExtract ActionKind = "extract"
)

// Valid reports whether k is one of the known action kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionNavigate, ActionWait, ActionClick, ActionScroll, ActionFill, ActionExtract:
		return true
	}
	return false
}

// Action is one abstract step of a behavior plan.
//
// Target addresses a URL (navigate) or element selector (click/fill/extract).
// Value carries free-form input: fill text or scroll distance in pixels.
// Expect is an optional hint about the outcome the planner anticipated, kept
// for telemetry correlation only; drivers never enforce it.
type Action struct {
	Kind     ActionKind    `json:"kind"`
	Target   string        `json:"target,omitempty"`
	Value    string        `json:"value,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Expect   string        `json:"expect,omitempty"`
}

// BehaviorPlan is the ordered sequence of actions one session will attempt.
// A plan is produced once per session and never mutated afterwards; a retry
// replays the failed action, never the plan.
type BehaviorPlan struct {
	ID      string   `json:"id"`
	Profile string   `json:"profile,omitempty"`
	Actions []Action `json:"actions"`
}

// Validate rejects empty or malformed plans before execution starts.
func (p *BehaviorPlan) Validate() error {
	if p == nil || len(p.Actions) == 0 {
		return ErrPlanUnavailable
	}
	for _, a := range p.Actions {
		if !a.Kind.Valid() {
			return ErrPlanUnavailable
		}
	}
	return nil
}
