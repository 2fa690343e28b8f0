package policy

import (
	"context"
	"time"

	"github.com/trafficflou/trafficflou/core"
)

// MockProvider is a lightweight in-memory Provider useful for tests. It
// returns a canned plan, optionally after a delay (to exercise provider
// timeouts) or with an injected error.
type MockProvider struct {
	Plan  *core.BehaviorPlan
	Err   error
	Delay time.Duration

	// Calls counts GetPlan invocations. Not synchronized; intended for
	// single-session tests.
	Calls int
}

// NewMockProvider constructs a MockProvider returning the given plan.
func NewMockProvider(plan *core.BehaviorPlan) *MockProvider {
	return &MockProvider{Plan: plan}
}

// GetPlan implements Provider.
func (m *MockProvider) GetPlan(ctx context.Context, _ SessionContext) (*core.BehaviorPlan, error) {
	m.Calls++
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Plan, nil
}

// Info implements Provider.
func (m *MockProvider) Info() Info { return Info{Name: "mock", Provider: "mock"} }
