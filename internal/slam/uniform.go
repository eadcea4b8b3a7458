package slam

import (
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// pcgStream is the fixed PCG stream selector; the seed picks the state.
const pcgStream = 0x9e3779b97f4a7c15

// NewSource returns a PCG source for seed. A zero seed is replaced with the
// current time so unseeded deployments differ between runs.
func NewSource(seed uint64) rand.Source {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.NewPCG(seed, seed^pcgStream)
}

// UniformVolume samples a fixed set of points uniformly inside the cube
// [-HalfExtent, HalfExtent]^3 once at construction. Every Next returns a copy
// of that same set; only the pose moves.
type UniformVolume struct {
	Trajectory CircularTrajectory
	HalfExtent float64

	points []Point3D
}

// NewUniformVolume samples count points with the given source.
func NewUniformVolume(traj CircularTrajectory, count int, halfExtent float64, src rand.Source) *UniformVolume {
	dist := distuv.Uniform{Min: -halfExtent, Max: halfExtent, Src: src}

	points := make([]Point3D, count)
	for i := range points {
		points[i] = Point3D{X: dist.Rand(), Y: dist.Rand(), Z: dist.Rand()}
	}

	return &UniformVolume{
		Trajectory: traj,
		HalfExtent: halfExtent,
		points:     points,
	}
}

// Name implements Strategy.
func (u *UniformVolume) Name() string { return "uniform" }

// PointCount implements Strategy.
func (u *UniformVolume) PointCount() int { return len(u.points) }

// Next implements Strategy.
func (u *UniformVolume) Next(elapsed float64) (Pose, []Point3D) {
	return u.Trajectory.PoseAt(elapsed), clonePoints(u.points)
}
