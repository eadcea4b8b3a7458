package slam

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"
)

// SceneCounts fixes how many points each part of the synthetic room gets.
type SceneCounts struct {
	Floor     int
	Ceiling   int
	Wall      int // per wall; the room has four
	Furniture int
	Sphere    int
}

// DefaultSceneCounts sums to 1800 points per tick.
var DefaultSceneCounts = SceneCounts{
	Floor:     400,
	Ceiling:   400,
	Wall:      150,
	Furniture: 200,
	Sphere:    200,
}

// Total is the number of points one scene tick produces.
func (c SceneCounts) Total() int {
	return c.Floor + c.Ceiling + 4*c.Wall + c.Furniture + c.Sphere
}

// StructuredScene regenerates a synthetic room every tick: floor and ceiling
// planes, four wall bands, a furniture cluster and a sphere orbiting the room
// centre. The sphere moves with the same elapsed time that drives the pose.
//
// StructuredScene is not safe for concurrent use; the generator calls Next
// from a single goroutine.
type StructuredScene struct {
	Trajectory CircularTrajectory
	Counts     SceneCounts

	// Room geometry in metres, centred on the origin, floor at z=0.
	HalfWidth float64
	HalfDepth float64
	Height    float64

	// Furniture box.
	FurnitureCenter r3.Vec
	FurnitureHalf   r3.Vec

	// Moving sphere.
	SphereRadius      float64
	SphereOrbitRadius float64
	SphereOrbitRate   float64 // rad/s
	SphereHeight      float64

	// PlaneNoise is the standard deviation of the off-plane jitter.
	PlaneNoise float64

	src rand.Source
}

// NewStructuredScene creates a scene with the default room layout.
func NewStructuredScene(traj CircularTrajectory, counts SceneCounts, src rand.Source) *StructuredScene {
	return &StructuredScene{
		Trajectory:        traj,
		Counts:            counts,
		HalfWidth:         5,
		HalfDepth:         5,
		Height:            3,
		FurnitureCenter:   r3.Vec{X: 2.5, Y: -2.5, Z: 0.4},
		FurnitureHalf:     r3.Vec{X: 0.6, Y: 0.4, Z: 0.4},
		SphereRadius:      0.5,
		SphereOrbitRadius: 3,
		SphereOrbitRate:   0.4,
		SphereHeight:      1.5,
		PlaneNoise:        0.01,
		src:               src,
	}
}

// Name implements Strategy.
func (s *StructuredScene) Name() string { return "scene" }

// PointCount implements Strategy.
func (s *StructuredScene) PointCount() int { return s.Counts.Total() }

// Next implements Strategy.
func (s *StructuredScene) Next(elapsed float64) (Pose, []Point3D) {
	points := make([]Point3D, 0, s.Counts.Total())

	points = s.appendPlane(points, s.Counts.Floor, 0)
	points = s.appendPlane(points, s.Counts.Ceiling, s.Height)
	points = s.appendWalls(points, s.Counts.Wall)
	points = s.appendBox(points, s.Counts.Furniture, s.FurnitureCenter, s.FurnitureHalf)
	points = s.appendSphere(points, s.Counts.Sphere, s.SphereCenter(elapsed), s.SphereRadius)

	return s.Trajectory.PoseAt(elapsed), points
}

// SphereCenter is the orbiting sphere's centre at elapsed seconds.
func (s *StructuredScene) SphereCenter(elapsed float64) r3.Vec {
	angle := s.SphereOrbitRate * elapsed
	return r3.Vec{
		X: s.SphereOrbitRadius * math.Cos(angle),
		Y: s.SphereOrbitRadius * math.Sin(angle),
		Z: s.SphereHeight,
	}
}

func (s *StructuredScene) uniform(min, max float64) distuv.Uniform {
	return distuv.Uniform{Min: min, Max: max, Src: s.src}
}

func (s *StructuredScene) noise() distuv.Normal {
	return distuv.Normal{Mu: 0, Sigma: s.PlaneNoise, Src: s.src}
}

// appendPlane adds n points on the horizontal plane z=height.
func (s *StructuredScene) appendPlane(points []Point3D, n int, height float64) []Point3D {
	xs := s.uniform(-s.HalfWidth, s.HalfWidth)
	ys := s.uniform(-s.HalfDepth, s.HalfDepth)
	jitter := s.noise()
	for i := 0; i < n; i++ {
		points = append(points, Point3D{X: xs.Rand(), Y: ys.Rand(), Z: height + jitter.Rand()})
	}
	return points
}

// appendWalls adds n points to each of the four vertical walls.
func (s *StructuredScene) appendWalls(points []Point3D, n int) []Point3D {
	xs := s.uniform(-s.HalfWidth, s.HalfWidth)
	ys := s.uniform(-s.HalfDepth, s.HalfDepth)
	zs := s.uniform(0, s.Height)
	jitter := s.noise()

	for _, side := range []float64{-1, 1} {
		for i := 0; i < n; i++ {
			points = append(points, Point3D{X: side*s.HalfWidth + jitter.Rand(), Y: ys.Rand(), Z: zs.Rand()})
		}
	}
	for _, side := range []float64{-1, 1} {
		for i := 0; i < n; i++ {
			points = append(points, Point3D{X: xs.Rand(), Y: side*s.HalfDepth + jitter.Rand(), Z: zs.Rand()})
		}
	}
	return points
}

// appendBox adds n points uniformly inside an axis-aligned box.
func (s *StructuredScene) appendBox(points []Point3D, n int, center, half r3.Vec) []Point3D {
	xs := s.uniform(-half.X, half.X)
	ys := s.uniform(-half.Y, half.Y)
	zs := s.uniform(-half.Z, half.Z)
	for i := 0; i < n; i++ {
		offset := r3.Vec{X: xs.Rand(), Y: ys.Rand(), Z: zs.Rand()}
		points = append(points, pointFromVec(r3.Add(center, offset)))
	}
	return points
}

// appendSphere adds n points on the surface of a sphere. Directions come from
// normalised Gaussian samples, which are uniform over the sphere.
func (s *StructuredScene) appendSphere(points []Point3D, n int, center r3.Vec, radius float64) []Point3D {
	g := distuv.Normal{Mu: 0, Sigma: 1, Src: s.src}
	for i := 0; i < n; i++ {
		dir := r3.Vec{X: g.Rand(), Y: g.Rand(), Z: g.Rand()}
		if r3.Norm(dir) == 0 {
			dir = r3.Vec{Z: 1}
		}
		points = append(points, pointFromVec(r3.Add(center, r3.Scale(radius, r3.Unit(dir)))))
	}
	return points
}
