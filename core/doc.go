// Package core provides the foundational domain types shared by the
// TrafficFlou engine. It defines:
//
//   - Identities (rotating egress fingerprints: proxy, user agent, geo)
//   - Session specs, statuses and results (one simulated user visit each)
//   - Behavior plans (ordered abstract actions a session will attempt)
//   - Action outcomes (per-attempt execution records)
//   - Behavior profiles (audience archetypes steering plan generation)
//   - The error taxonomy separating retryable from fatal failures
//
// The package intentionally keeps implementation concerns (pooling,
// scheduling, drivers, telemetry) out of scope so that every component can
// depend on it without cycles. All types here are plain data; once a plan or
// outcome has been handed off it must be treated as immutable.
package core
