// Package engine closes the orchestration loop: it admits sessions through
// the scheduler, runs each one through the coordinator in its own
// goroutine, records the result to telemetry, and feeds error and latency
// signal back into admission control. It also aggregates process-wide
// metrics for the status endpoint.
package engine
