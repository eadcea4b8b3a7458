package foxglove

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/banshee-data/slamviz/internal/slam"
)

// Marshal encodes msg to protobuf bytes under its Foxglove schema.
func Marshal(msg Message) ([]byte, error) {
	var m *dynamicpb.Message
	switch v := msg.(type) {
	case PoseInFrame:
		m = encodePoseInFrame(v)
	case *PoseInFrame:
		m = encodePoseInFrame(*v)
	case PointCloud:
		m = encodePointCloud(v)
	case *PointCloud:
		m = encodePointCloud(*v)
	case FrameTransform:
		m = encodeFrameTransform(v)
	case *FrameTransform:
		m = encodeFrameTransform(*v)
	default:
		return nil, fmt.Errorf("unsupported message type %T", msg)
	}

	data, err := proto.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.SchemaName(), err)
	}
	return data, nil
}

// UnmarshalPoseInFrame decodes a foxglove.PoseInFrame payload.
func UnmarshalPoseInFrame(data []byte) (PoseInFrame, error) {
	m, err := decode(data, "PoseInFrame")
	if err != nil {
		return PoseInFrame{}, err
	}
	return PoseInFrame{
		Timestamp: getTimestamp(m, "timestamp"),
		FrameID:   getString(m, "frame_id"),
		Pose:      getPose(m, "pose"),
	}, nil
}

// UnmarshalPointCloud decodes a foxglove.PointCloud payload.
func UnmarshalPointCloud(data []byte) (PointCloud, error) {
	m, err := decode(data, "PointCloud")
	if err != nil {
		return PointCloud{}, err
	}

	pc := PointCloud{
		Timestamp:   getTimestamp(m, "timestamp"),
		FrameID:     getString(m, "frame_id"),
		Pose:        getPose(m, "pose"),
		PointStride: uint32(m.Get(field(m, "point_stride")).Uint()),
		Data:        m.Get(field(m, "data")).Bytes(),
	}
	fields := m.Get(field(m, "fields")).List()
	for i := 0; i < fields.Len(); i++ {
		f := fields.Get(i).Message()
		pc.Fields = append(pc.Fields, PackedElementField{
			Name:   getString(f, "name"),
			Offset: uint32(f.Get(field(f, "offset")).Uint()),
			Type:   NumericType(f.Get(field(f, "type")).Enum()),
		})
	}
	return pc, nil
}

// UnmarshalFrameTransform decodes a foxglove.FrameTransform payload.
func UnmarshalFrameTransform(data []byte) (FrameTransform, error) {
	m, err := decode(data, "FrameTransform")
	if err != nil {
		return FrameTransform{}, err
	}
	return FrameTransform{
		Timestamp:     getTimestamp(m, "timestamp"),
		ParentFrameID: getString(m, "parent_frame_id"),
		ChildFrameID:  getString(m, "child_frame_id"),
		Translation:   getVector3(m.Get(field(m, "translation")).Message()),
		Rotation:      getQuaternion(m.Get(field(m, "rotation")).Message()),
	}, nil
}

func decode(data []byte, name protoreflect.Name) (protoreflect.Message, error) {
	m := dynamicpb.NewMessage(messageDescriptor(name))
	if err := proto.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("unmarshal foxglove.%s: %w", name, err)
	}
	return m.ProtoReflect(), nil
}

func encodePoseInFrame(v PoseInFrame) *dynamicpb.Message {
	m := dynamicpb.NewMessage(messageDescriptor("PoseInFrame"))
	r := m.ProtoReflect()
	setTimestamp(r, v.Timestamp)
	r.Set(field(r, "frame_id"), protoreflect.ValueOfString(v.FrameID))
	setPose(r.Mutable(field(r, "pose")).Message(), v.Pose)
	return m
}

func encodePointCloud(v PointCloud) *dynamicpb.Message {
	m := dynamicpb.NewMessage(messageDescriptor("PointCloud"))
	r := m.ProtoReflect()
	setTimestamp(r, v.Timestamp)
	r.Set(field(r, "frame_id"), protoreflect.ValueOfString(v.FrameID))
	setPose(r.Mutable(field(r, "pose")).Message(), v.Pose)
	r.Set(field(r, "point_stride"), protoreflect.ValueOfUint32(v.PointStride))

	list := r.Mutable(field(r, "fields")).List()
	for _, f := range v.Fields {
		elem := list.NewElement()
		em := elem.Message()
		em.Set(field(em, "name"), protoreflect.ValueOfString(f.Name))
		em.Set(field(em, "offset"), protoreflect.ValueOfUint32(f.Offset))
		em.Set(field(em, "type"), protoreflect.ValueOfEnum(protoreflect.EnumNumber(f.Type)))
		list.Append(elem)
	}

	r.Set(field(r, "data"), protoreflect.ValueOfBytes(v.Data))
	return m
}

func encodeFrameTransform(v FrameTransform) *dynamicpb.Message {
	m := dynamicpb.NewMessage(messageDescriptor("FrameTransform"))
	r := m.ProtoReflect()
	setTimestamp(r, v.Timestamp)
	r.Set(field(r, "parent_frame_id"), protoreflect.ValueOfString(v.ParentFrameID))
	r.Set(field(r, "child_frame_id"), protoreflect.ValueOfString(v.ChildFrameID))
	setVector3(r.Mutable(field(r, "translation")).Message(), v.Translation)
	setQuaternion(r.Mutable(field(r, "rotation")).Message(), v.Rotation)
	return m
}

func field(m protoreflect.Message, name protoreflect.Name) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(name)
	if fd == nil {
		panic(fmt.Sprintf("foxglove: %s has no field %s", m.Descriptor().FullName(), name))
	}
	return fd
}

func setTimestamp(m protoreflect.Message, ts Timestamp) {
	t := m.Mutable(field(m, "timestamp")).Message()
	t.Set(field(t, "seconds"), protoreflect.ValueOfInt64(int64(ts.Sec)))
	t.Set(field(t, "nanos"), protoreflect.ValueOfInt32(int32(ts.Nsec)))
}

func getTimestamp(m protoreflect.Message, name protoreflect.Name) Timestamp {
	t := m.Get(field(m, name)).Message()
	return Timestamp{
		Sec:  uint32(t.Get(field(t, "seconds")).Int()),
		Nsec: uint32(t.Get(field(t, "nanos")).Int()),
	}
}

func setPose(m protoreflect.Message, p Pose) {
	setVector3(m.Mutable(field(m, "position")).Message(), p.Position)
	setQuaternion(m.Mutable(field(m, "orientation")).Message(), p.Orientation)
}

func getPose(m protoreflect.Message, name protoreflect.Name) Pose {
	p := m.Get(field(m, name)).Message()
	return Pose{
		Position:    getVector3(p.Get(field(p, "position")).Message()),
		Orientation: getQuaternion(p.Get(field(p, "orientation")).Message()),
	}
}

func setVector3(m protoreflect.Message, v slam.Vector3) {
	m.Set(field(m, "x"), protoreflect.ValueOfFloat64(v.X))
	m.Set(field(m, "y"), protoreflect.ValueOfFloat64(v.Y))
	m.Set(field(m, "z"), protoreflect.ValueOfFloat64(v.Z))
}

func getVector3(m protoreflect.Message) slam.Vector3 {
	return slam.Vector3{
		X: m.Get(field(m, "x")).Float(),
		Y: m.Get(field(m, "y")).Float(),
		Z: m.Get(field(m, "z")).Float(),
	}
}

func setQuaternion(m protoreflect.Message, q slam.Quaternion) {
	m.Set(field(m, "x"), protoreflect.ValueOfFloat64(q.X))
	m.Set(field(m, "y"), protoreflect.ValueOfFloat64(q.Y))
	m.Set(field(m, "z"), protoreflect.ValueOfFloat64(q.Z))
	m.Set(field(m, "w"), protoreflect.ValueOfFloat64(q.W))
}

func getQuaternion(m protoreflect.Message) slam.Quaternion {
	return slam.Quaternion{
		X: m.Get(field(m, "x")).Float(),
		Y: m.Get(field(m, "y")).Float(),
		Z: m.Get(field(m, "z")).Float(),
		W: m.Get(field(m, "w")).Float(),
	}
}

func getString(m protoreflect.Message, name protoreflect.Name) string {
	return m.Get(field(m, name)).String()
}
