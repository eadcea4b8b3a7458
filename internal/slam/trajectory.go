package slam

import "math"

// Strategy produces the next pose and point set from the elapsed time since
// the generator started. Implementations leave Pose.Timestamp unset; the
// generator stamps it.
type Strategy interface {
	// Name identifies the strategy in logs and metrics.
	Name() string

	// PointCount is the exact number of points Next returns.
	PointCount() int

	// Next computes the state at elapsed seconds. The returned slice is owned
	// by the caller.
	Next(elapsed float64) (Pose, []Point3D)
}

// CircularTrajectory is a horizontal circle with a sinusoidal height and a
// yaw-like rotation about Z:
//
//	x = R cos(wt), y = R sin(wt), z = z0 + A sin(wz t)
//	q = (0, 0, sin(yaw t), cos(yaw t))
type CircularTrajectory struct {
	Radius       float64 // R, metres
	AngularRate  float64 // w, rad/s
	BaseHeight   float64 // z0, metres
	Amplitude    float64 // A, metres
	VerticalRate float64 // wz, rad/s
	YawRate      float64 // rad/s
}

// UniformTrajectory is the preset used with the uniform-volume point strategy.
var UniformTrajectory = CircularTrajectory{
	Radius:       5,
	AngularRate:  0.5,
	BaseHeight:   1,
	Amplitude:    1,
	VerticalRate: 0.3,
	YawRate:      0.2,
}

// SceneTrajectory is the preset used with the structured-scene point strategy.
var SceneTrajectory = CircularTrajectory{
	Radius:       2,
	AngularRate:  0.5,
	BaseHeight:   1,
	Amplitude:    0.5,
	VerticalRate: 1.5,
	YawRate:      0.2,
}

// PoseAt evaluates the trajectory at t seconds. The orientation is returned
// as computed, not normalised.
func (c CircularTrajectory) PoseAt(t float64) Pose {
	return Pose{
		Position: Vector3{
			X: c.Radius * math.Cos(c.AngularRate*t),
			Y: c.Radius * math.Sin(c.AngularRate*t),
			Z: c.BaseHeight + c.Amplitude*math.Sin(c.VerticalRate*t),
		},
		Orientation: Quaternion{
			Z: math.Sin(c.YawRate * t),
			W: math.Cos(c.YawRate * t),
		},
	}
}

// Period returns the time for one horizontal revolution (2π/w), or 0 when
// the trajectory does not rotate.
func (c CircularTrajectory) Period() float64 {
	if c.AngularRate == 0 {
		return 0
	}
	return 2 * math.Pi / math.Abs(c.AngularRate)
}
