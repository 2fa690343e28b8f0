// Package scheduler decides how many sessions to admit per unit time and at
// what concurrency. Admission combines a token bucket (target rate, ramped
// by phase) with a weighted semaphore (concurrency ceiling). Observed
// session results feed a rolling window; when the window's error rate
// crosses the configured threshold the effective ceiling is halved, and it
// recovers one slot per clean control window (additive increase,
// multiplicative decrease). Admission beyond capacity blocks cooperatively
// on the caller's context, never spinning.
package scheduler
