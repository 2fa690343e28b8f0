package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficflou/trafficflou/core"
)

func openTestSink(t *testing.T) *Sink {
	t.Helper()
	sink, err := Open(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func TestSink_WriteAndCount(t *testing.T) {
	sink := openTestSink(t)

	batch := []core.SessionResult{
		{
			SessionID:  "s-1",
			IdentityID: "id-1",
			Target:     "https://example.com",
			Profile:    "gamer",
			Status:     core.StatusCompleted,
			StartedAt:  time.Now().UTC(),
			Duration:   3 * time.Second,
			Outcomes: []core.ActionOutcome{
				{ActionIndex: 0, Attempt: 1, Status: core.OutcomeOK, Latency: 120 * time.Millisecond},
			},
		},
		{
			SessionID: "s-2",
			Target:    "https://example.com",
			Status:    core.StatusFailed,
			Reason:    core.ReasonNoIdentity,
			StartedAt: time.Now().UTC(),
		},
	}
	require.NoError(t, sink.Write(context.Background(), batch))

	total, err := sink.Count(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	failed, err := sink.Count(context.Background(), core.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
}

func TestSink_ToleratesDuplicateBatches(t *testing.T) {
	sink := openTestSink(t)

	batch := []core.SessionResult{{
		SessionID: "s-1",
		Target:    "https://example.com",
		Status:    core.StatusCompleted,
		StartedAt: time.Now().UTC(),
	}}

	// A retried flush delivers the same batch twice.
	require.NoError(t, sink.Write(context.Background(), batch))
	require.NoError(t, sink.Write(context.Background(), batch))

	total, err := sink.Count(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
