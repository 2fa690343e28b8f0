// Package telemetry buffers session results and flushes them to sinks in
// batches. The pipeline is lossy under pressure: Record never blocks beyond
// a bounded enqueue, and when the buffer is full the oldest pending result
// is dropped and counted. Sinks receive at-least-once delivery and must
// tolerate duplicates.
package telemetry
