package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficflou/trafficflou/coordinator"
	"github.com/trafficflou/trafficflou/core"
	"github.com/trafficflou/trafficflou/driver"
	"github.com/trafficflou/trafficflou/identity"
	"github.com/trafficflou/trafficflou/policy"
	"github.com/trafficflou/trafficflou/scheduler"
	"github.com/trafficflou/trafficflou/telemetry"
)

type fixture struct {
	engine *Engine
	sink   *telemetry.MemorySink
	driver *driver.MockDriver
}

func newFixture(t *testing.T, drv *driver.MockDriver) *fixture {
	t.Helper()

	ids := make([]*core.Identity, 8)
	for i := range ids {
		ids[i] = core.NewIdentity("", "TrafficFlou-Test/1.0", "us")
	}
	pool := identity.NewPool(ids)

	plan := &core.BehaviorPlan{
		ID:      core.NewID(),
		Profile: "gamer",
		Actions: []core.Action{{Kind: core.ActionNavigate, Target: "https://example.com"}},
	}
	coord := coordinator.New(pool, policy.NewMockProvider(plan), drv, func(o *coordinator.Options) {
		o.ActionTimeout = 100 * time.Millisecond
		o.RetryLimit = 1
	})

	sched := scheduler.New(func(o *scheduler.Options) {
		o.TargetRate = 500
		o.MaxRate = 1000
		o.Burst = 8
		o.MaxConcurrency = 8
		o.Target = "https://example.com"
	})

	sink := telemetry.NewMemorySink()
	pipe := telemetry.NewPipeline([]telemetry.Sink{sink}, func(o *telemetry.Options) {
		o.FlushInterval = time.Millisecond
	})

	return &fixture{
		engine: New(sched, coord, pipe),
		sink:   sink,
		driver: drv,
	}
}

func TestEngine_OneResultPerAdmittedSession(t *testing.T) {
	f := newFixture(t, driver.NewMockDriver())

	require.NoError(t, f.engine.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, f.engine.Stop(context.Background()))

	snap := f.engine.Snapshot()
	require.Positive(t, snap.Admitted)
	assert.Equal(t, snap.Admitted, snap.Completed+snap.Failed+snap.Aborted)
	assert.Equal(t, int(snap.Admitted), len(f.sink.Results()))
	assert.Zero(t, snap.TelemetryDrops)
	assert.Zero(t, snap.ActiveSessions)
}

func TestEngine_SnapshotAggregates(t *testing.T) {
	f := newFixture(t, driver.NewMockDriver())

	require.NoError(t, f.engine.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, f.engine.Stop(context.Background()))

	snap := f.engine.Snapshot()
	assert.False(t, snap.Running)
	assert.Positive(t, snap.Completed)
	// Every plan executes cleanly, so any non-completed session can only be
	// one cancelled at shutdown.
	assert.Zero(t, snap.Failed)
	if snap.Aborted == 0 {
		assert.Equal(t, 1.0, snap.SuccessRate)
	}
	assert.Positive(t, snap.Rate.Admitted)
}

func TestEngine_StartTwice(t *testing.T) {
	f := newFixture(t, driver.NewMockDriver())

	require.NoError(t, f.engine.Start(context.Background()))
	defer f.engine.Stop(context.Background())

	assert.ErrorIs(t, f.engine.Start(context.Background()), ErrAlreadyRunning)
	assert.True(t, f.engine.Running())
}

func TestEngine_CancelSession(t *testing.T) {
	// Every action hangs, so admitted sessions stay active until cancelled.
	script := make([]driver.Step, 64)
	for i := range script {
		script[i] = driver.Step{Delay: time.Hour}
	}
	f := newFixture(t, driver.NewMockDriver(script...))

	require.NoError(t, f.engine.Start(context.Background()))
	defer f.engine.Stop(context.Background())

	var ids []string
	require.Eventually(t, func() bool {
		ids = f.engine.ActiveSessions()
		return len(ids) > 0
	}, time.Second, time.Millisecond)

	assert.True(t, f.engine.CancelSession(ids[0]))

	require.Eventually(t, func() bool {
		for _, r := range f.sink.Results() {
			if r.SessionID == ids[0] {
				return r.Status == core.StatusAborted && r.Reason == core.ReasonCancelled
			}
		}
		return false
	}, time.Second, time.Millisecond)

	assert.False(t, f.engine.CancelSession("unknown"))
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	f := newFixture(t, driver.NewMockDriver())

	require.NoError(t, f.engine.Start(context.Background()))
	require.NoError(t, f.engine.Stop(context.Background()))
	assert.NoError(t, f.engine.Stop(context.Background()))
	assert.False(t, f.engine.Running())
}
