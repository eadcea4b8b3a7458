// Package foxglove builds the Foxglove schema messages slamviz publishes
// (PoseInFrame, PointCloud, FrameTransform) and encodes them to protobuf.
package foxglove

import (
	"time"

	"github.com/banshee-data/slamviz/internal/slam"
)

// Schema names as registered in the published descriptor set.
const (
	PoseInFrameSchemaName    = "foxglove.PoseInFrame"
	PointCloudSchemaName     = "foxglove.PointCloud"
	FrameTransformSchemaName = "foxglove.FrameTransform"
)

const nanosPerSecond = 1_000_000_000

// Timestamp is a Foxglove time: whole seconds plus nanoseconds.
type Timestamp struct {
	Sec  uint32
	Nsec uint32
}

// TimestampFromNanos splits a nanosecond count by integer division and
// remainder.
func TimestampFromNanos(ns uint64) Timestamp {
	return Timestamp{
		Sec:  uint32(ns / nanosPerSecond),
		Nsec: uint32(ns % nanosPerSecond),
	}
}

// TimestampFromTime converts a wall-clock time.
func TimestampFromTime(t time.Time) Timestamp {
	return TimestampFromNanos(uint64(t.UnixNano()))
}

// Nanos is the inverse of TimestampFromNanos.
func (t Timestamp) Nanos() uint64 {
	return uint64(t.Sec)*nanosPerSecond + uint64(t.Nsec)
}

// Pose is a position and orientation within a frame.
type Pose struct {
	Position    slam.Vector3
	Orientation slam.Quaternion
}

// IdentityPose is the zero offset.
var IdentityPose = Pose{Orientation: slam.IdentityQuaternion}

// PoseInFrame is foxglove.PoseInFrame.
type PoseInFrame struct {
	Timestamp Timestamp
	FrameID   string
	Pose      Pose
}

// NumericType is foxglove.PackedElementField.NumericType.
type NumericType int32

const (
	NumericTypeUnknown NumericType = 0
	NumericTypeUint8   NumericType = 1
	NumericTypeInt8    NumericType = 2
	NumericTypeUint16  NumericType = 3
	NumericTypeInt16   NumericType = 4
	NumericTypeUint32  NumericType = 5
	NumericTypeInt32   NumericType = 6
	NumericTypeFloat32 NumericType = 7
	NumericTypeFloat64 NumericType = 8
)

// PackedElementField describes one field inside each packed point.
type PackedElementField struct {
	Name   string
	Offset uint32
	Type   NumericType
}

// PointCloud is foxglove.PointCloud.
type PointCloud struct {
	Timestamp   Timestamp
	FrameID     string
	Pose        Pose
	PointStride uint32
	Fields      []PackedElementField
	Data        []byte
}

// FrameTransform is foxglove.FrameTransform.
type FrameTransform struct {
	Timestamp     Timestamp
	ParentFrameID string
	ChildFrameID  string
	Translation   slam.Vector3
	Rotation      slam.Quaternion
}

// Message is implemented by every publishable message type.
type Message interface {
	SchemaName() string
}

func (PoseInFrame) SchemaName() string    { return PoseInFrameSchemaName }
func (PointCloud) SchemaName() string     { return PointCloudSchemaName }
func (FrameTransform) SchemaName() string { return FrameTransformSchemaName }
