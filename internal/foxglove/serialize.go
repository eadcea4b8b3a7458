package foxglove

import (
	"time"

	"github.com/banshee-data/slamviz/internal/slam"
)

// SerializePose converts a pose into a PoseInFrame in frameID.
func SerializePose(p slam.Pose, frameID string) PoseInFrame {
	return PoseInFrame{
		Timestamp: TimestampFromNanos(p.Timestamp),
		FrameID:   frameID,
		Pose: Pose{
			Position:    p.Position,
			Orientation: p.Orientation,
		},
	}
}

// SerializePointCloud packs points into a PointCloud with three float32
// fields at offsets 0, 4 and 8 and an identity pose.
func SerializePointCloud(points []slam.Point3D, ts Timestamp, frameID string) PointCloud {
	return PointCloud{
		Timestamp:   ts,
		FrameID:     frameID,
		Pose:        IdentityPose,
		PointStride: PointStride,
		Fields:      append([]PackedElementField(nil), PointFields...),
		Data:        PackPoints(points),
	}
}

// SerializeTransform returns the identity transform from parent to child,
// stamped with now.
func SerializeTransform(now time.Time, parent, child string) FrameTransform {
	return FrameTransform{
		Timestamp:     TimestampFromTime(now),
		ParentFrameID: parent,
		ChildFrameID:  child,
		Rotation:      slam.IdentityQuaternion,
	}
}
