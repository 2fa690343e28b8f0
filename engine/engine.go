package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/trafficflou/trafficflou/core"
	"github.com/trafficflou/trafficflou/coordinator"
	"github.com/trafficflou/trafficflou/logging"
	"github.com/trafficflou/trafficflou/scheduler"
	"github.com/trafficflou/trafficflou/telemetry"
)

// ErrAlreadyRunning is returned by Start when the engine is running.
var ErrAlreadyRunning = errors.New("engine already running")

// Options configure the engine.
type Options struct {
	// Clock overrides time.Now, for deterministic tests.
	Clock func() time.Time
	// Logger receives lifecycle events. Defaults to NoOp.
	Logger logging.Logger
}

// Engine owns the admission loop. Public methods are safe for concurrent
// use.
type Engine struct {
	scheduler   *scheduler.Scheduler
	coordinator *coordinator.Coordinator
	pipeline    *telemetry.Pipeline
	clock       func() time.Time
	logger      logging.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	active   map[string]context.CancelFunc
	wg       sync.WaitGroup
	started  time.Time
	totals   totals
}

type totals struct {
	admitted     uint64
	completed    uint64
	failed       uint64
	aborted      uint64
	sumLatency   time.Duration
	latencyCount uint64
	reasons      map[core.FailureReason]uint64
}

// New constructs an engine over its three collaborators.
func New(sched *scheduler.Scheduler, coord *coordinator.Coordinator, pipe *telemetry.Pipeline, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Clock:  time.Now,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		scheduler:   sched,
		coordinator: coord,
		pipeline:    pipe,
		clock:       opts.Clock,
		logger:      opts.Logger,
		active:      make(map[string]context.CancelFunc),
		totals:      totals{reasons: make(map[core.FailureReason]uint64)},
	}
}

// Start launches the admission loop in the background. It returns
// immediately; the loop runs until Stop or ctx cancellation.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.started = e.clock()

	e.wg.Add(1)
	go e.loop(loopCtx)
	e.logger.Info("engine started")
	return nil
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()
	for {
		spec, err := e.scheduler.Admit(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Warn("admission failed", "error", err)
			continue
		}

		e.mu.Lock()
		e.totals.admitted++
		sessionCtx, cancel := context.WithCancel(ctx)
		e.active[spec.ID] = cancel
		e.mu.Unlock()

		e.wg.Add(1)
		go e.runSession(sessionCtx, cancel, spec)
	}
}

// runSession drives one session to its terminal result and feeds the
// result back into scheduling and telemetry. The concurrency slot is
// released in all cases.
func (e *Engine) runSession(ctx context.Context, cancel context.CancelFunc, spec core.SessionSpec) {
	defer e.wg.Done()
	defer cancel()
	defer func() {
		e.mu.Lock()
		delete(e.active, spec.ID)
		e.mu.Unlock()
		e.scheduler.Done()
	}()

	result := e.coordinator.Run(ctx, spec)
	e.pipeline.Record(result)
	e.scheduler.Observe(result)
	e.observe(result)
}

func (e *Engine) observe(result core.SessionResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch result.Status {
	case core.StatusCompleted:
		e.totals.completed++
	case core.StatusAborted:
		e.totals.aborted++
	default:
		e.totals.failed++
	}
	if result.Reason != core.ReasonNone {
		e.totals.reasons[result.Reason]++
	}
	if lat := result.AverageLatency(); lat > 0 {
		e.totals.sumLatency += lat
		e.totals.latencyCount++
	}
}

// ActiveSessions returns the ids of sessions currently executing.
func (e *Engine) ActiveSessions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	return ids
}

// CancelSession cancels one active session between actions. It reports
// whether the session was known.
func (e *Engine) CancelSession(sessionID string) bool {
	e.mu.Lock()
	cancel, ok := e.active[sessionID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// SetPhase ramps the scheduler's admission rate.
func (e *Engine) SetPhase(phase int) {
	e.scheduler.SetPhase(phase)
}

// Stop halts admission, waits for in-flight sessions to finish and flushes
// telemetry. Waiting is bounded by ctx; on expiry remaining sessions are
// cancelled and awaited.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Deadline passed; in-flight sessions were already cancelled via the
		// loop context, wait for them to observe it.
		<-done
	}

	e.logger.Info("engine stopped")
	return e.pipeline.Close(ctx)
}

// Running reports whether the admission loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Snapshot is a point-in-time aggregate of engine activity, serializable
// for the status endpoint.
type Snapshot struct {
	Running        bool                          `json:"running"`
	Uptime         time.Duration                 `json:"uptime"`
	ActiveSessions int                           `json:"active_sessions"`
	Admitted       uint64                        `json:"admitted"`
	Completed      uint64                        `json:"completed"`
	Failed         uint64                        `json:"failed"`
	Aborted        uint64                        `json:"aborted"`
	SuccessRate    float64                       `json:"success_rate"`
	AverageLatency time.Duration                 `json:"average_latency"`
	Reasons        map[core.FailureReason]uint64 `json:"reasons,omitempty"`
	TelemetryDrops uint64                        `json:"telemetry_drops"`
	Rate           scheduler.RateState           `json:"rate"`
}

// Snapshot returns current aggregate metrics.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	t := e.totals
	reasons := make(map[core.FailureReason]uint64, len(t.reasons))
	for k, v := range t.reasons {
		reasons[k] = v
	}
	snap := Snapshot{
		Running:        e.running,
		ActiveSessions: len(e.active),
		Admitted:       t.admitted,
		Completed:      t.completed,
		Failed:         t.failed,
		Aborted:        t.aborted,
		Reasons:        reasons,
	}
	if e.running {
		snap.Uptime = e.clock().Sub(e.started)
	}
	e.mu.Unlock()

	finished := snap.Completed + snap.Failed + snap.Aborted
	if finished > 0 {
		snap.SuccessRate = float64(snap.Completed) / float64(finished)
	}
	if t.latencyCount > 0 {
		snap.AverageLatency = t.sumLatency / time.Duration(t.latencyCount)
	}
	snap.TelemetryDrops = e.pipeline.Dropped()
	snap.Rate = e.scheduler.State()
	return snap
}
