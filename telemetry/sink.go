package telemetry

import (
	"context"
	"sync"

	"github.com/trafficflou/trafficflou/core"
)

// Sink receives batches of session results. Write may be called with the
// same result more than once after a flush failure.
type Sink interface {
	// Write persists one batch. An error causes the batch to be retried on
	// the next flush cycle.
	Write(ctx context.Context, batch []core.SessionResult) error

	// Name identifies the sink in logs.
	Name() string
}

// Compile-time check.
var _ Sink = (*MemorySink)(nil)

// MemorySink keeps written results in memory. Used as the default sink and
// as a test double; Err, when set, fails the next Write once.
type MemorySink struct {
	mu      sync.Mutex
	results []core.SessionResult

	// Err fails the next Write call, then clears.
	Err error
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write appends the batch.
func (s *MemorySink) Write(_ context.Context, batch []core.SessionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		err := s.Err
		s.Err = nil
		return err
	}
	s.results = append(s.results, batch...)
	return nil
}

// Name implements Sink.
func (s *MemorySink) Name() string { return "memory" }

// Results returns a copy of everything written so far.
func (s *MemorySink) Results() []core.SessionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.SessionResult, len(s.results))
	copy(out, s.results)
	return out
}
