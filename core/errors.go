package core

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the engine's failure taxonomy. All of them are
// session-local: they terminate the affected session, release its identity
// and are recorded; none propagate to crash the engine process.
var (
	// ErrPoolExhausted is returned by the identity pool when no identity
	// satisfies the acquisition criteria. Callers must surface it as a
	// session failure rather than retrying indefinitely.
	ErrPoolExhausted = errors.New("identity pool exhausted")

	// ErrPlanUnavailable is returned when the behavior policy provider
	// times out, errors, or produces a malformed plan.
	ErrPlanUnavailable = errors.New("behavior plan unavailable")

	// ErrActionExhausted is returned when an action fails past its
	// configured retry limit.
	ErrActionExhausted = errors.New("action retries exhausted")
)

// FatalError marks a driver error that must abort the remaining plan
// immediately instead of being retried, e.g. the target rejected the
// session's identity. Drivers wrap such errors with NewFatalError.
type FatalError struct {
	Err error
}

// NewFatalError wraps err as unretryable.
func NewFatalError(err error) *FatalError { return &FatalError{Err: err} }

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err (or anything it wraps) is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
