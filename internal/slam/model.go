// Package slam generates simulated SLAM telemetry: a parametric robot
// trajectory and a synthetic point map, held in a mutex-guarded StateStore
// that broadcasters snapshot.
package slam

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Vector3 is a position or translation in metres.
type Vector3 struct {
	X, Y, Z float64
}

// Quaternion is an orientation (x, y, z vector part; w scalar part).
type Quaternion struct {
	X, Y, Z, W float64
}

// IdentityQuaternion is the zero rotation.
var IdentityQuaternion = Quaternion{W: 1}

// Norm returns the quaternion magnitude.
func (q Quaternion) Norm() float64 {
	return quat.Abs(q.number())
}

// Normalized returns the unit quaternion with the same rotation. Zero or
// non-finite quaternions normalise to identity.
func (q Quaternion) Normalized() Quaternion {
	n := q.number()
	abs := quat.Abs(n)
	if abs == 0 || math.IsNaN(abs) || math.IsInf(abs, 0) {
		return IdentityQuaternion
	}
	u := quat.Scale(1/abs, n)
	return Quaternion{X: u.Imag, Y: u.Jmag, Z: u.Kmag, W: u.Real}
}

func (q Quaternion) number() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

// Pose is the position and orientation of the simulated agent at Timestamp
// (nanoseconds since the Unix epoch). Poses are values; they are replaced
// wholesale, never mutated in place.
type Pose struct {
	Position    Vector3
	Orientation Quaternion
	Timestamp   uint64
}

// IdentityPose returns a pose at the origin with no rotation.
func IdentityPose(timestamp uint64) Pose {
	return Pose{Orientation: IdentityQuaternion, Timestamp: timestamp}
}

// Point3D is a map point in metres.
type Point3D struct {
	X, Y, Z float64
}

func pointFromVec(v r3.Vec) Point3D {
	return Point3D{X: v.X, Y: v.Y, Z: v.Z}
}
