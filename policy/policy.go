// Package policy defines the behavior policy capability: given a session
// context, a Provider returns the ordered plan of abstract actions the
// session will attempt. Implementations range from the deterministic
// StaticProvider to AI-backed providers in the openai and anthropic
// subpackages. The engine treats the provider as a capability, so test
// doubles can substitute deterministic fakes.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/trafficflou/trafficflou/core"
)

// SessionContext carries everything a provider may use to shape a plan.
type SessionContext struct {
	SessionID string               `json:"session_id"`
	Target    string               `json:"target"`
	Profile   core.BehaviorProfile `json:"profile"`
	UserAgent string               `json:"user_agent,omitempty"`
}

// Info contains metadata about a provider implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "static", "openai", "anthropic", ...
}

// Provider is the minimal interface the coordinator needs to obtain a
// behavior plan. GetPlan must honor ctx cancellation; on timeout or error
// the session fails with reason PlanUnavailable.
type Provider interface {
	GetPlan(ctx context.Context, sc SessionContext) (*core.BehaviorPlan, error)

	// Info returns information about the provider implementation.
	Info() Info
}

// planPayload is the JSON document AI providers are instructed to emit.
type planPayload struct {
	Actions []struct {
		Kind       string `json:"kind"`
		Target     string `json:"target,omitempty"`
		Value      string `json:"value,omitempty"`
		DurationMS int64  `json:"duration_ms,omitempty"`
		Expect     string `json:"expect,omitempty"`
	} `json:"actions"`
}

// ParsePlan decodes a model-produced JSON document into a validated
// BehaviorPlan. Surrounding prose and markdown fences are tolerated; only
// the first top-level JSON object is considered.
func ParsePlan(raw string, profile string) (*core.BehaviorPlan, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in model output", core.ErrPlanUnavailable)
	}

	var payload planPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrPlanUnavailable, err)
	}

	plan := &core.BehaviorPlan{ID: core.NewID(), Profile: profile}
	for _, a := range payload.Actions {
		plan.Actions = append(plan.Actions, core.Action{
			Kind:     core.ActionKind(a.Kind),
			Target:   a.Target,
			Value:    a.Value,
			Duration: durationFromMillis(a.DurationMS),
			Expect:   a.Expect,
		})
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// BuildPrompt renders the instruction given to AI providers. The plan
// format is fixed, so the schema is spelled out inline rather than derived.
func BuildPrompt(sc SessionContext) string {
	var b strings.Builder
	b.WriteString("Produce a browsing plan for one simulated visitor session.\n")
	fmt.Fprintf(&b, "Target site: %s\n", sc.Target)
	if sc.Profile.Name != "" {
		fmt.Fprintf(&b, "Visitor archetype: %s (interests: %s)\n",
			sc.Profile.Name, strings.Join(sc.Profile.Interests, ", "))
		fmt.Fprintf(&b, "Typical session length: %s\n", sc.Profile.SessionDuration)
	}
	b.WriteString(`Respond with only a JSON object of the form:
{"actions":[{"kind":"navigate|wait|click|scroll|fill|extract","target":"...","value":"...","duration_ms":0,"expect":"..."}]}
Rules: start with a navigate to the target site, interleave wait actions with
realistic think times in duration_ms, use site-relative paths the archetype
would plausibly visit, and keep the plan between 4 and 12 actions.`)
	return b.String()
}

func durationFromMillis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
