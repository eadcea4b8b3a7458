package slam

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/slamviz/internal/worker"
)

// skewed is a strategy with a non-unit quaternion whose second call panics.
type skewed struct{ calls atomic.Int32 }

func (s *skewed) Name() string    { return "skewed" }
func (s *skewed) PointCount() int { return 3 }
func (s *skewed) Next(elapsed float64) (Pose, []Point3D) {
	if s.calls.Add(1) == 2 {
		panic("boom")
	}
	return Pose{
		Position:    Vector3{X: elapsed},
		Orientation: Quaternion{Z: 3, W: 4},
	}, make([]Point3D, 3)
}

func newTestGenerator(t *testing.T, strategy Strategy, normalize bool) (*Generator, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	store := NewStateStore(IdentityPose(0), nil)
	g := NewGenerator(store, strategy, GeneratorOptions{
		Interval:             DefaultInterval,
		NormalizeOrientation: normalize,
		Clock:                fc,
		Logger:               slog.New(slog.DiscardHandler),
	})
	t.Cleanup(func() { g.Stop() })
	return g, fc
}

func waitGeneration(t *testing.T, s *StateStore, want uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Generation() >= want }, time.Second, time.Millisecond)
}

func TestGenerator_FirstTickIsImmediate(t *testing.T) {
	strategy := NewUniformVolume(UniformTrajectory, 500, 10, NewSource(1))
	g, fc := newTestGenerator(t, strategy, true)

	assert.Equal(t, worker.StateIdle, g.State())
	require.True(t, g.Start(context.Background()))
	waitGeneration(t, g.Store(), 1)

	pose, points := g.Store().Snapshot()
	assert.Len(t, points, 500)
	assert.Equal(t, uint64(fc.Now().UnixNano()), pose.Timestamp)
	assert.InDelta(t, 5.0, pose.Position.X, 1e-12)
	assert.InDelta(t, 1.0, pose.Orientation.Norm(), 1e-12)
}

func TestGenerator_TicksOnIntervalWithElapsedTime(t *testing.T) {
	g, fc := newTestGenerator(t, NewUniformVolume(UniformTrajectory, 10, 10, NewSource(1)), true)
	require.True(t, g.Start(context.Background()))
	waitGeneration(t, g.Store(), 1)

	var last uint64
	for i := 1; i <= 3; i++ {
		fc.Advance(DefaultInterval)
		waitGeneration(t, g.Store(), uint64(i+1))

		pose := g.Store().SnapshotPose()
		want := UniformTrajectory.PoseAt(float64(i) * DefaultInterval.Seconds())
		assert.InDelta(t, want.Position.X, pose.Position.X, 1e-9)
		assert.InDelta(t, want.Position.Y, pose.Position.Y, 1e-9)
		assert.InDelta(t, want.Position.Z, pose.Position.Z, 1e-9)
		assert.Greater(t, pose.Timestamp, last, "timestamps advance with the clock")
		last = pose.Timestamp
	}
}

func TestGenerator_NormalizationToggle(t *testing.T) {
	g, _ := newTestGenerator(t, &skewed{}, false)
	require.True(t, g.Start(context.Background()))
	waitGeneration(t, g.Store(), 1)
	assert.Equal(t, Quaternion{Z: 3, W: 4}, g.Store().SnapshotPose().Orientation)

	g2, _ := newTestGenerator(t, &skewed{}, true)
	require.True(t, g2.Start(context.Background()))
	waitGeneration(t, g2.Store(), 1)
	got := g2.Store().SnapshotPose().Orientation
	assert.InDelta(t, 0.6, got.Z, 1e-12)
	assert.InDelta(t, 0.8, got.W, 1e-12)
}

func TestGenerator_StartStopIdempotent(t *testing.T) {
	g, _ := newTestGenerator(t, NewUniformVolume(UniformTrajectory, 10, 10, NewSource(1)), true)

	assert.False(t, g.Stop(), "stop before start")
	require.True(t, g.Start(context.Background()))
	assert.False(t, g.Start(context.Background()), "second start")
	waitGeneration(t, g.Store(), 1)

	require.True(t, g.Stop())
	assert.False(t, g.Stop(), "second stop")
	assert.Equal(t, worker.StateStopped, g.State())

	select {
	case <-g.Done():
	default:
		t.Fatal("worker goroutine still running after Stop")
	}
}

func TestGenerator_RestartResetsElapsedOrigin(t *testing.T) {
	g, fc := newTestGenerator(t, NewUniformVolume(UniformTrajectory, 10, 10, NewSource(1)), true)

	require.True(t, g.Start(context.Background()))
	waitGeneration(t, g.Store(), 1)
	fc.Advance(DefaultInterval)
	waitGeneration(t, g.Store(), 2)
	require.True(t, g.Stop())

	fc.Advance(time.Minute)
	require.True(t, g.Start(context.Background()))
	waitGeneration(t, g.Store(), 3)

	pose := g.Store().SnapshotPose()
	assert.InDelta(t, 5.0, pose.Position.X, 1e-12, "fresh run starts at elapsed 0")
	assert.Equal(t, uint64(fc.Now().UnixNano()), pose.Timestamp)
}

func TestGenerator_RestartAfterParentCancel(t *testing.T) {
	g, fc := newTestGenerator(t, NewUniformVolume(UniformTrajectory, 10, 10, NewSource(1)), true)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, g.Start(ctx))
	waitGeneration(t, g.Store(), 1)
	cancel()
	<-g.Done()
	assert.Equal(t, worker.StateStopped, g.State())

	require.True(t, g.Start(context.Background()))
	assert.Equal(t, worker.StateRunning, g.State())
	waitGeneration(t, g.Store(), 2)
	fc.Advance(DefaultInterval)
	waitGeneration(t, g.Store(), 3)
	assert.Equal(t, uint64(3), g.Ticks())
}

func TestGenerator_PanicInTickIsRecovered(t *testing.T) {
	strategy := &skewed{}
	g, fc := newTestGenerator(t, strategy, true)
	require.True(t, g.Start(context.Background()))
	waitGeneration(t, g.Store(), 1)

	fc.Advance(DefaultInterval) // second call panics
	require.Eventually(t, func() bool { return strategy.calls.Load() == 2 }, time.Second, time.Millisecond)
	fc.Advance(DefaultInterval)
	waitGeneration(t, g.Store(), 2)

	assert.Equal(t, worker.StateRunning, g.State())
	require.Eventually(t, func() bool { return g.Ticks() == 2 }, time.Second, time.Millisecond)
}
