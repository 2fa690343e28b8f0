package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficflou/trafficflou/core"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fastScheduler(clock *fakeClock, maxConcurrency int64) *Scheduler {
	return New(func(o *Options) {
		o.TargetRate = 1000 // rate is not under test here
		o.MaxRate = 10000
		o.Burst = int(maxConcurrency) * 2
		o.MaxConcurrency = maxConcurrency
		o.ControlWindow = time.Second
		o.ErrorRateThreshold = 0.3
		o.Target = "https://example.com"
		if clock != nil {
			o.Clock = clock.Now
		}
	})
}

func failedResult() core.SessionResult {
	return core.SessionResult{Status: core.StatusFailed, Reason: core.ReasonActionExhausted}
}

func okResult(lat time.Duration) core.SessionResult {
	return core.SessionResult{
		Status:   core.StatusCompleted,
		Outcomes: []core.ActionOutcome{{Status: core.OutcomeOK, Latency: lat}},
	}
}

func TestScheduler_ConcurrencyCeiling(t *testing.T) {
	s := fastScheduler(nil, 2)

	_, err := s.Admit(context.Background())
	require.NoError(t, err)
	_, err = s.Admit(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Admit(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	s.Done()
	_, err = s.Admit(context.Background())
	assert.NoError(t, err)
}

func TestScheduler_TokenBucketBoundsRate(t *testing.T) {
	s := New(func(o *Options) {
		o.TargetRate = 0.001
		o.Burst = 2
		o.MaxConcurrency = 10
	})

	for i := 0; i < 2; i++ {
		_, err := s.Admit(context.Background())
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Admit(ctx)
	assert.Error(t, err)
}

func TestScheduler_BackpressureHalvesCeiling(t *testing.T) {
	clock := newFakeClock()
	s := fastScheduler(clock, 8)

	require.Equal(t, int64(8), s.State().EffectiveCeiling)

	for i := 0; i < 9; i++ {
		s.Observe(failedResult())
	}
	clock.Advance(2 * time.Second)
	s.Observe(failedResult())

	st := s.State()
	assert.Equal(t, int64(4), st.EffectiveCeiling)
	assert.Equal(t, 1.0, st.WindowErrorRate)
}

func TestScheduler_CeilingRecoversAdditively(t *testing.T) {
	clock := newFakeClock()
	s := fastScheduler(clock, 8)

	// One failing window: 8 → 4.
	for i := 0; i < 9; i++ {
		s.Observe(failedResult())
	}
	clock.Advance(2 * time.Second)
	s.Observe(failedResult())
	require.Equal(t, int64(4), s.State().EffectiveCeiling)

	// Two clean windows: +1 each.
	clock.Advance(2 * time.Second)
	s.Observe(okResult(time.Millisecond))
	require.Equal(t, int64(5), s.State().EffectiveCeiling)

	clock.Advance(2 * time.Second)
	s.Observe(okResult(time.Millisecond))
	assert.Equal(t, int64(6), s.State().EffectiveCeiling)
}

func TestScheduler_PenaltyCollectedOnDone(t *testing.T) {
	clock := newFakeClock()
	s := fastScheduler(clock, 2)

	// Fill both slots, then trigger a decrease to ceiling 1 while busy.
	_, err := s.Admit(context.Background())
	require.NoError(t, err)
	_, err = s.Admit(context.Background())
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		s.Observe(failedResult())
	}
	clock.Advance(2 * time.Second)
	s.Observe(failedResult())
	require.Equal(t, int64(1), s.State().EffectiveCeiling)

	// First completion is consumed as penalty: still no free slot.
	s.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Admit(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Second completion frees the single remaining slot.
	s.Done()
	_, err = s.Admit(context.Background())
	assert.NoError(t, err)
}

func TestScheduler_ProfileRotation(t *testing.T) {
	profiles := []core.BehaviorProfile{{Name: "gamer"}, {Name: "streamer"}}
	s := New(func(o *Options) {
		o.TargetRate = 1000
		o.Burst = 10
		o.MaxConcurrency = 10
		o.Target = "https://example.com"
		o.Profiles = profiles
	})

	var got []string
	for i := 0; i < 4; i++ {
		spec, err := s.Admit(context.Background())
		require.NoError(t, err)
		got = append(got, spec.Profile)
		s.Done()
	}
	assert.Equal(t, []string{"gamer", "streamer", "gamer", "streamer"}, got)
}

func TestScheduler_SetPhaseRampsRate(t *testing.T) {
	s := New(func(o *Options) {
		o.TargetRate = 10
		o.GrowthFactor = 2
		o.MaxRate = 35
		o.MaxConcurrency = 4
	})

	s.SetPhase(1)
	assert.InDelta(t, 20, s.State().TargetRate, 0.01)

	// Phase 2 would be 40/s; capped at MaxRate.
	s.SetPhase(2)
	assert.InDelta(t, 35, s.State().TargetRate, 0.01)
}

func TestScheduler_StateTracksLatencyPercentile(t *testing.T) {
	clock := newFakeClock()
	s := fastScheduler(clock, 4)

	for i := 1; i <= 20; i++ {
		s.Observe(okResult(time.Duration(i) * time.Millisecond))
	}
	clock.Advance(2 * time.Second)
	s.Observe(okResult(21 * time.Millisecond))

	st := s.State()
	assert.GreaterOrEqual(t, st.LatencyP95, 19*time.Millisecond)
	assert.Zero(t, st.WindowErrorRate)
}
