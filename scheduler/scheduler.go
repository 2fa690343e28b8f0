package scheduler

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/trafficflou/trafficflou/core"
	"github.com/trafficflou/trafficflou/logging"
)

// Options configure the scheduler.
type Options struct {
	// TargetRate is the base admission rate in sessions per second.
	TargetRate float64
	// MaxRate caps the phased rate ramp.
	MaxRate float64
	// GrowthFactor is the per-phase rate multiplier (rate = base·growth^phase).
	GrowthFactor float64
	// Burst is the token bucket burst size.
	Burst int
	// MaxConcurrency is the hard concurrency ceiling.
	MaxConcurrency int64
	// MinConcurrency is the floor the AIMD loop never cuts below.
	MinConcurrency int64
	// ErrorRateThreshold triggers multiplicative decrease when the rolling
	// error rate over a control window exceeds it.
	ErrorRateThreshold float64
	// ControlWindow is the AIMD evaluation interval.
	ControlWindow time.Duration
	// Target and Profiles shape the SessionSpecs handed out; profiles
	// rotate round-robin.
	Target   string
	Profiles []core.BehaviorProfile
	// Clock overrides time.Now, for deterministic tests.
	Clock func() time.Time
	// Logger receives admission control events. Defaults to NoOp.
	Logger logging.Logger
}

// RateState is the scheduler's process-wide feedback state, reset only on
// process restart.
type RateState struct {
	TargetRate       float64       `json:"target_rate"`
	Phase            int           `json:"phase"`
	EffectiveCeiling int64         `json:"effective_ceiling"`
	InFlight         int64         `json:"in_flight"`
	Admitted         uint64        `json:"admitted"`
	WindowErrorRate  float64       `json:"window_error_rate"`
	LatencyP95       time.Duration `json:"latency_p95"`
	PeakRate         float64       `json:"peak_rate"`
}

// Scheduler is the admission controller. Safe for concurrent use; Admit
// blocks until capacity is available or ctx is cancelled.
type Scheduler struct {
	opts    Options
	limiter *rate.Limiter
	sem     *semaphore.Weighted

	mu          sync.Mutex
	phase       int
	ceiling     int64 // current effective ceiling
	penaltyOwed int64 // ceiling reductions not yet backed by a held slot
	inFlight    int64
	admitted    uint64
	nextProfile int
	peakRate    float64

	windowStart     time.Time
	windowTotal     int
	windowFailures  int
	windowLatencies []time.Duration
	lastErrorRate   float64
	lastP95         time.Duration
}

// New constructs a scheduler.
func New(optFns ...func(o *Options)) *Scheduler {
	opts := Options{
		TargetRate:         1,
		MaxRate:            50,
		GrowthFactor:       1.5,
		Burst:              5,
		MaxConcurrency:     10,
		MinConcurrency:     1,
		ErrorRateThreshold: 0.3,
		ControlWindow:      10 * time.Second,
		Clock:              time.Now,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MinConcurrency < 1 {
		opts.MinConcurrency = 1
	}

	s := &Scheduler{
		opts:        opts,
		limiter:     rate.NewLimiter(rate.Limit(opts.TargetRate), opts.Burst),
		sem:         semaphore.NewWeighted(opts.MaxConcurrency),
		ceiling:     opts.MaxConcurrency,
		windowStart: opts.Clock(),
	}
	return s
}

// Admit blocks until both a rate token and a concurrency slot are
// available, then returns the spec for one admitted session. Cancellation
// of ctx returns its error with no capacity held.
func (s *Scheduler) Admit(ctx context.Context) (core.SessionSpec, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return core.SessionSpec{}, err
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return core.SessionSpec{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight++
	s.admitted++
	if r := float64(s.limiter.Limit()); r > s.peakRate {
		s.peakRate = r
	}

	var profile core.BehaviorProfile
	if len(s.opts.Profiles) > 0 {
		profile = s.opts.Profiles[s.nextProfile%len(s.opts.Profiles)]
		s.nextProfile++
	}
	return core.NewSessionSpec(s.opts.Target, profile.Name, 0), nil
}

// Done releases the concurrency slot of a finished session. If the AIMD
// loop owes ceiling reductions that could not be enforced while all slots
// were busy, the slot is consumed as penalty instead of being released.
func (s *Scheduler) Done() {
	s.mu.Lock()
	s.inFlight--
	consume := s.penaltyOwed > 0
	if consume {
		s.penaltyOwed--
	}
	s.mu.Unlock()

	if !consume {
		s.sem.Release(1)
	}
}

// Observe feeds one session result into the rolling feedback window and
// evaluates the AIMD loop once per control window.
func (s *Scheduler) Observe(result core.SessionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.windowTotal++
	if !result.Succeeded() {
		s.windowFailures++
	}
	if lat := result.AverageLatency(); lat > 0 {
		s.windowLatencies = append(s.windowLatencies, lat)
	}

	now := s.opts.Clock()
	if now.Sub(s.windowStart) < s.opts.ControlWindow {
		return
	}
	s.evaluateWindowLocked(now)
}

// evaluateWindowLocked applies additive-increase/multiplicative-decrease to
// the effective ceiling and resets the window. Caller must hold the lock.
func (s *Scheduler) evaluateWindowLocked(now time.Time) {
	errorRate := 0.0
	if s.windowTotal > 0 {
		errorRate = float64(s.windowFailures) / float64(s.windowTotal)
	}
	s.lastErrorRate = errorRate
	s.lastP95 = percentile(s.windowLatencies, 0.95)

	switch {
	case errorRate > s.opts.ErrorRateThreshold:
		newCeiling := s.ceiling / 2
		if newCeiling < s.opts.MinConcurrency {
			newCeiling = s.opts.MinConcurrency
		}
		if cut := s.ceiling - newCeiling; cut > 0 {
			for i := int64(0); i < cut; i++ {
				if !s.sem.TryAcquire(1) {
					// Slot busy; collect it when that session finishes.
					s.penaltyOwed++
				}
			}
			s.ceiling = newCeiling
			s.applyRateDampingLocked()
			s.opts.Logger.Warn("backpressure engaged",
				"error_rate", errorRate,
				"effective_ceiling", s.ceiling,
			)
		}
	case s.ceiling < s.opts.MaxConcurrency:
		s.ceiling++
		if s.penaltyOwed > 0 {
			s.penaltyOwed--
		} else {
			s.sem.Release(1)
		}
		s.applyRateDampingLocked()
		s.opts.Logger.Info("capacity recovering", "effective_ceiling", s.ceiling)
	}

	s.windowStart = now
	s.windowTotal = 0
	s.windowFailures = 0
	s.windowLatencies = s.windowLatencies[:0]
}

// SetPhase ramps the admission rate to base·growth^phase, capped at MaxRate.
func (s *Scheduler) SetPhase(phase int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if phase < 0 {
		phase = 0
	}
	s.phase = phase
	s.applyRateDampingLocked()
}

// applyRateDampingLocked recomputes the limiter rate from the phase ramp,
// scaled down in proportion to any ceiling reduction. Caller holds the lock.
func (s *Scheduler) applyRateDampingLocked() {
	r := s.opts.TargetRate * math.Pow(s.opts.GrowthFactor, float64(s.phase))
	if r > s.opts.MaxRate {
		r = s.opts.MaxRate
	}
	r *= float64(s.ceiling) / float64(s.opts.MaxConcurrency)
	if r <= 0 {
		r = s.opts.TargetRate / float64(s.opts.MaxConcurrency)
	}
	s.limiter.SetLimit(rate.Limit(r))
}

// State returns a snapshot of the scheduler's feedback state.
func (s *Scheduler) State() RateState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RateState{
		TargetRate:       float64(s.limiter.Limit()),
		Phase:            s.phase,
		EffectiveCeiling: s.ceiling,
		InFlight:         s.inFlight,
		Admitted:         s.admitted,
		WindowErrorRate:  s.lastErrorRate,
		LatencyP95:       s.lastP95,
		PeakRate:         s.peakRate,
	}
}

func percentile(latencies []time.Duration, p float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
