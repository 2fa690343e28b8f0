package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trafficflou/trafficflou/core"
	"github.com/trafficflou/trafficflou/logging"
)

// Options configure the pipeline.
type Options struct {
	// BufferSize bounds the number of pending results. When the buffer is
	// full the oldest pending result is dropped.
	BufferSize int
	// BatchSize is the maximum number of results written per sink call.
	BatchSize int
	// FlushInterval is the background flush period.
	FlushInterval time.Duration
	// FlushTimeout bounds each sink write.
	FlushTimeout time.Duration
	// Logger receives flush events. Defaults to NoOp.
	Logger logging.Logger
}

// Pipeline buffers session results and flushes them to sinks from a
// background goroutine. Record is safe for concurrent use and never blocks
// beyond the buffer append.
type Pipeline struct {
	opts  Options
	sinks []Sink

	mu      sync.Mutex
	pending []core.SessionResult
	dropped atomic.Uint64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewPipeline creates a pipeline over the given sinks and starts its
// background flusher. With no sinks the pipeline only counts drops.
func NewPipeline(sinks []Sink, optFns ...func(o *Options)) *Pipeline {
	opts := Options{
		BufferSize:    1024,
		BatchSize:     64,
		FlushInterval: 2 * time.Second,
		FlushTimeout:  10 * time.Second,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BufferSize < 1 {
		opts.BufferSize = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}

	p := &Pipeline{
		opts:  opts,
		sinks: sinks,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.loop()
	return p
}

// Record enqueues one result. When the buffer is full the oldest pending
// result is dropped and the drop counter incremented; Record itself never
// fails.
func (p *Pipeline) Record(result core.SessionResult) {
	p.mu.Lock()
	if len(p.pending) >= p.opts.BufferSize {
		p.pending = p.pending[1:]
		p.dropped.Add(1)
	}
	p.pending = append(p.pending, result)
	p.mu.Unlock()
}

// Dropped returns the total number of results dropped under pressure.
func (p *Pipeline) Dropped() uint64 {
	return p.dropped.Load()
}

// Pending returns the number of buffered, unflushed results.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Flush writes all buffered results to every sink. If any sink fails the
// batch stays buffered for the next cycle; sinks must tolerate the
// resulting duplicates.
func (p *Pipeline) Flush(ctx context.Context) error {
	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.mu.Unlock()
			return nil
		}
		n := len(p.pending)
		if n > p.opts.BatchSize {
			n = p.opts.BatchSize
		}
		batch := make([]core.SessionResult, n)
		copy(batch, p.pending[:n])
		droppedBefore := p.dropped.Load()
		p.mu.Unlock()

		var firstErr error
		for _, sink := range p.sinks {
			if err := sink.Write(ctx, batch); err != nil {
				p.opts.Logger.Warn("telemetry flush failed",
					"sink", sink.Name(),
					"batch_size", len(batch),
					"dropped_total", p.dropped.Load(),
					"error", err,
				)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		if firstErr != nil {
			return firstErr
		}

		p.mu.Lock()
		// Drops happen only at the head, so any drop recorded during the
		// write consumed a batch element first; remove only the batch
		// elements still present.
		lost := int(p.dropped.Load() - droppedBefore)
		if lost > n {
			lost = n
		}
		p.pending = p.pending[n-lost:]
		p.mu.Unlock()

		p.opts.Logger.Debug("telemetry flush completed",
			"batch_size", len(batch),
			"dropped_total", p.dropped.Load(),
		)
	}
}

// Close stops the background flusher after a final flush attempt.
func (p *Pipeline) Close(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stop) })
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.Flush(ctx)
}

func (p *Pipeline) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.opts.FlushTimeout)
			_ = p.Flush(ctx)
			cancel()
		case <-p.stop:
			return
		}
	}
}
