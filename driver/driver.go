// Package driver defines the execution driver capability: executing one
// abstract plan action against a live browser or HTTP context. Drivers
// classify their errors as retryable (plain error) or fatal
// (core.FatalError), which decides whether the coordinator retries the
// action or aborts the remaining plan. Concrete implementations live in the
// httpx and cdp subpackages; MockDriver provides a scripted test double.
package driver

import (
	"context"
	"sync"
	"time"

	"github.com/trafficflou/trafficflou/core"
)

// Result carries what a driver observed while executing an action, e.g.
// response size, extracted text or evaluation output.
type Result struct {
	Observed string
}

// Driver executes one abstract action using the session's identity.
// Implementations must honor ctx cancellation and deadlines, and must wrap
// unretryable failures (identity rejected, transport gone) with
// core.NewFatalError.
type Driver interface {
	Execute(ctx context.Context, identity *core.Identity, action core.Action) (Result, error)

	// Name identifies the driver implementation in telemetry and logs.
	Name() string
}

// Step scripts one MockDriver invocation.
type Step struct {
	Observed string
	Err      error
	Delay    time.Duration
}

// MockDriver is a scripted Driver for tests. Each Execute call consumes the
// next Step; once the script is exhausted every call succeeds immediately.
// Safe for concurrent use.
type MockDriver struct {
	mu       sync.Mutex
	script   []Step
	executed []core.Action
}

// NewMockDriver constructs a MockDriver with an optional script.
func NewMockDriver(script ...Step) *MockDriver {
	return &MockDriver{script: script}
}

// Execute implements Driver.
func (m *MockDriver) Execute(ctx context.Context, _ *core.Identity, action core.Action) (Result, error) {
	m.mu.Lock()
	var step Step
	if len(m.script) > 0 {
		step = m.script[0]
		m.script = m.script[1:]
	}
	m.executed = append(m.executed, action)
	m.mu.Unlock()

	if step.Delay > 0 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(step.Delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{Observed: step.Observed}, step.Err
}

// Name implements Driver.
func (m *MockDriver) Name() string { return "mock" }

// Executed returns a copy of all actions seen so far, in call order.
func (m *MockDriver) Executed() []core.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Action, len(m.executed))
	copy(out, m.executed)
	return out
}
