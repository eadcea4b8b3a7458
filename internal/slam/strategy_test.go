package slam

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/slamviz/internal/config"
)

func TestCircularTrajectory_HorizontalPeriodicity(t *testing.T) {
	for _, traj := range []CircularTrajectory{UniformTrajectory, SceneTrajectory} {
		period := traj.Period()
		require.InDelta(t, 4*math.Pi, period, 1e-12, "w = 0.5 rad/s")

		for _, ts := range []float64{0, 0.37, 1.5, 12.25} {
			a := traj.PoseAt(ts)
			b := traj.PoseAt(ts + period)
			assert.InDelta(t, a.Position.X, b.Position.X, 1e-9)
			assert.InDelta(t, a.Position.Y, b.Position.Y, 1e-9)
		}
	}
}

func TestCircularTrajectory_VerticalPeriodicity(t *testing.T) {
	traj := SceneTrajectory
	verticalPeriod := 2 * math.Pi / traj.VerticalRate
	for _, ts := range []float64{0, 0.5, 3} {
		assert.InDelta(t, traj.PoseAt(ts).Position.Z, traj.PoseAt(ts+verticalPeriod).Position.Z, 1e-9)
	}
}

func TestCircularTrajectory_PoseAtZero(t *testing.T) {
	p := UniformTrajectory.PoseAt(0)
	assert.InDelta(t, 5.0, p.Position.X, 1e-12)
	assert.InDelta(t, 0.0, p.Position.Y, 1e-12)
	assert.InDelta(t, 1.0, p.Position.Z, 1e-12)
	assert.Equal(t, IdentityQuaternion, p.Orientation)
	assert.Zero(t, p.Timestamp)
}

func TestCircularTrajectory_RadiusIsConstant(t *testing.T) {
	for _, ts := range []float64{0, 1, 2.5, 100} {
		p := UniformTrajectory.PoseAt(ts)
		assert.InDelta(t, 5.0, math.Hypot(p.Position.X, p.Position.Y), 1e-9)
	}
}

func TestCircularTrajectory_PeriodWithoutRotation(t *testing.T) {
	assert.Zero(t, CircularTrajectory{}.Period())
}

func TestUniformVolume(t *testing.T) {
	u := NewUniformVolume(UniformTrajectory, 500, 10, NewSource(7))
	assert.Equal(t, "uniform", u.Name())
	assert.Equal(t, 500, u.PointCount())

	_, first := u.Next(0)
	require.Len(t, first, 500)
	for _, p := range first {
		assert.True(t, p.X >= -10 && p.X <= 10, "x out of range: %v", p.X)
		assert.True(t, p.Y >= -10 && p.Y <= 10, "y out of range: %v", p.Y)
		assert.True(t, p.Z >= -10 && p.Z <= 10, "z out of range: %v", p.Z)
	}

	pose, second := u.Next(1)
	assert.Equal(t, first, second, "uniform points are sampled once")
	assert.Equal(t, UniformTrajectory.PoseAt(1), pose)

	second[0].X = 1000
	_, third := u.Next(2)
	assert.NotEqual(t, 1000.0, third[0].X, "Next returns a copy")
}

func TestUniformVolume_SeedIsDeterministic(t *testing.T) {
	_, a := NewUniformVolume(UniformTrajectory, 50, 10, NewSource(42)).Next(0)
	_, b := NewUniformVolume(UniformTrajectory, 50, 10, NewSource(42)).Next(0)
	_, c := NewUniformVolume(UniformTrajectory, 50, 10, NewSource(43)).Next(0)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestStructuredScene_PointCount(t *testing.T) {
	s := NewStructuredScene(SceneTrajectory, DefaultSceneCounts, NewSource(1))
	assert.Equal(t, "scene", s.Name())
	assert.Equal(t, 1800, s.PointCount())

	for _, ts := range []float64{0, 0.1, 5} {
		_, points := s.Next(ts)
		assert.Len(t, points, 1800)
	}
}

func TestStructuredScene_Layout(t *testing.T) {
	counts := DefaultSceneCounts
	s := NewStructuredScene(SceneTrajectory, counts, NewSource(3))
	s.PlaneNoise = 0
	_, points := s.Next(2)

	floor := points[:counts.Floor]
	for _, p := range floor {
		assert.Equal(t, 0.0, p.Z)
	}
	ceiling := points[counts.Floor : counts.Floor+counts.Ceiling]
	for _, p := range ceiling {
		assert.Equal(t, s.Height, p.Z)
	}

	walls := points[counts.Floor+counts.Ceiling : counts.Floor+counts.Ceiling+4*counts.Wall]
	for i, p := range walls {
		switch i / counts.Wall {
		case 0, 1:
			assert.InDelta(t, s.HalfWidth, math.Abs(p.X), 1e-12)
		default:
			assert.InDelta(t, s.HalfDepth, math.Abs(p.Y), 1e-12)
		}
		assert.True(t, p.Z >= 0 && p.Z <= s.Height)
	}

	sphere := points[len(points)-counts.Sphere:]
	center := s.SphereCenter(2)
	for _, p := range sphere {
		d := math.Sqrt(sq(p.X-center.X) + sq(p.Y-center.Y) + sq(p.Z-center.Z))
		assert.InDelta(t, s.SphereRadius, d, 1e-9)
	}
}

func TestStructuredScene_SphereMoves(t *testing.T) {
	s := NewStructuredScene(SceneTrajectory, DefaultSceneCounts, NewSource(1))
	assert.NotEqual(t, s.SphereCenter(0), s.SphereCenter(1))
	assert.InDelta(t, 3.0, s.SphereCenter(0).X, 1e-12)
}

func TestSceneCounts_TotalMatchesConfig(t *testing.T) {
	assert.Equal(t, config.Default().Generator.Scene.ScenePointCount(), DefaultSceneCounts.Total())
}

func TestNewStrategy(t *testing.T) {
	cfg := config.Default().Generator

	s, err := NewStrategy(cfg)
	require.NoError(t, err)
	assert.Equal(t, "uniform", s.Name())
	assert.Equal(t, 500, s.PointCount())

	cfg.Strategy = config.StrategyScene
	s, err = NewStrategy(cfg)
	require.NoError(t, err)
	assert.Equal(t, "scene", s.Name())
	assert.Equal(t, 1800, s.PointCount())

	cfg.Trajectory = &config.TrajectoryConfig{Radius: 3, AngularRate: 1}
	s, err = NewStrategy(cfg)
	require.NoError(t, err)
	pose, _ := s.Next(0)
	assert.InDelta(t, 3.0, pose.Position.X, 1e-12)

	cfg.Strategy = "spiral"
	_, err = NewStrategy(cfg)
	assert.Error(t, err)
}

func sq(v float64) float64 { return v * v }
