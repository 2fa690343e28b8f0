package telemetry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficflou/trafficflou/core"
)

func result(id string) core.SessionResult {
	return core.SessionResult{SessionID: id, Status: core.StatusCompleted}
}

func newTestPipeline(sinks []Sink, bufferSize int) *Pipeline {
	return NewPipeline(sinks, func(o *Options) {
		o.BufferSize = bufferSize
		o.BatchSize = 8
		// Long interval so tests drive Flush explicitly.
		o.FlushInterval = time.Hour
	})
}

func TestPipeline_DropOldestUnderPressure(t *testing.T) {
	const n = 10
	p := newTestPipeline(nil, n)
	defer p.Close(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n+5; i++ {
			p.Record(result(fmt.Sprintf("s-%d", i)))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked")
	}

	assert.Equal(t, uint64(5), p.Dropped())
	assert.Equal(t, n, p.Pending())
}

func TestPipeline_FlushDeliversInOrder(t *testing.T) {
	sink := NewMemorySink()
	p := newTestPipeline([]Sink{sink}, 100)
	defer p.Close(context.Background())

	for i := 0; i < 20; i++ {
		p.Record(result(fmt.Sprintf("s-%d", i)))
	}
	require.NoError(t, p.Flush(context.Background()))

	got := sink.Results()
	require.Len(t, got, 20)
	for i, r := range got {
		assert.Equal(t, fmt.Sprintf("s-%d", i), r.SessionID)
	}
	assert.Zero(t, p.Pending())
}

func TestPipeline_SinkFailureRetriesNextCycle(t *testing.T) {
	sink := NewMemorySink()
	sink.Err = errors.New("connection reset")
	p := newTestPipeline([]Sink{sink}, 100)
	defer p.Close(context.Background())

	p.Record(result("s-1"))
	require.Error(t, p.Flush(context.Background()))
	assert.Equal(t, 1, p.Pending())
	assert.Empty(t, sink.Results())

	// Next cycle succeeds and drains the buffer.
	require.NoError(t, p.Flush(context.Background()))
	assert.Len(t, sink.Results(), 1)
	assert.Zero(t, p.Pending())
}

func TestPipeline_FanOutToAllSinks(t *testing.T) {
	a, b := NewMemorySink(), NewMemorySink()
	p := newTestPipeline([]Sink{a, b}, 100)
	defer p.Close(context.Background())

	p.Record(result("s-1"))
	require.NoError(t, p.Flush(context.Background()))

	assert.Len(t, a.Results(), 1)
	assert.Len(t, b.Results(), 1)
}

func TestPipeline_CloseFlushesRemainder(t *testing.T) {
	sink := NewMemorySink()
	p := newTestPipeline([]Sink{sink}, 100)

	p.Record(result("s-1"))
	p.Record(result("s-2"))
	require.NoError(t, p.Close(context.Background()))

	assert.Len(t, sink.Results(), 2)
}

// writeHookSink runs a callback before delegating to the in-memory sink,
// letting tests interleave Record calls with an in-flight flush.
type writeHookSink struct {
	inner  *MemorySink
	during func()
}

func (s *writeHookSink) Name() string { return "hook" }

func (s *writeHookSink) Write(ctx context.Context, batch []core.SessionResult) error {
	if s.during != nil {
		s.during()
	}
	return s.inner.Write(ctx, batch)
}

func TestPipeline_RecordDuringFlushKeepsNewest(t *testing.T) {
	sink := &writeHookSink{inner: NewMemorySink()}
	p := newTestPipeline([]Sink{sink}, 4)
	defer p.Close(context.Background())

	for i := 0; i < 4; i++ {
		p.Record(result(fmt.Sprintf("s-%d", i)))
	}

	// While the first batch is being written, two more records overflow the
	// buffer and drop s-0 and s-1 from its head.
	fired := false
	sink.during = func() {
		if fired {
			return
		}
		fired = true
		p.Record(result("s-4"))
		p.Record(result("s-5"))
	}

	require.NoError(t, p.Flush(context.Background()))

	// The overflow drops are counted, and the records that replaced them
	// survive to delivery instead of being discarded with the batch.
	assert.Equal(t, uint64(2), p.Dropped())
	assert.Zero(t, p.Pending())

	got := sink.inner.Results()
	ids := make([]string, 0, len(got))
	for _, r := range got {
		ids = append(ids, r.SessionID)
	}
	assert.Contains(t, ids, "s-4")
	assert.Contains(t, ids, "s-5")
}

func TestPipeline_BackgroundFlusher(t *testing.T) {
	sink := NewMemorySink()
	p := NewPipeline([]Sink{sink}, func(o *Options) {
		o.FlushInterval = 5 * time.Millisecond
	})
	defer p.Close(context.Background())

	p.Record(result("s-1"))

	require.Eventually(t, func() bool {
		return len(sink.Results()) == 1
	}, time.Second, time.Millisecond)
}
