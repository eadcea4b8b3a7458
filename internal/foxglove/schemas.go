package foxglove

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// EncodingProtobuf is the Foxglove message encoding for every channel.
const EncodingProtobuf = "protobuf"

// schemaFile is the synthetic .proto file holding the Foxglove messages.
const schemaFile = "foxglove/schemas.proto"

// Schema describes a channel's message type the way Foxglove advertises it:
// Data is a binary google.protobuf.FileDescriptorSet containing Name and all
// of its dependencies.
type Schema struct {
	Name     string
	Encoding string
	Data     []byte
}

type registry struct {
	file    protoreflect.FileDescriptor
	set     []byte
	schemas map[string]Schema
}

// reg is built once from static descriptors; a failure is a programming error.
var reg = mustBuildRegistry()

// SchemaFor returns the published schema for a message name such as
// "foxglove.PointCloud".
func SchemaFor(name string) (Schema, bool) {
	s, ok := reg.schemas[name]
	return s, ok
}

// Schemas returns every published schema keyed by name.
func Schemas() map[string]Schema {
	out := make(map[string]Schema, len(reg.schemas))
	for k, v := range reg.schemas {
		out[k] = v
	}
	return out
}

// PoseInFrameSchema, PointCloudSchema and FrameTransformSchema are the schemas
// of the three published channels.
func PoseInFrameSchema() Schema    { return reg.schemas[PoseInFrameSchemaName] }
func PointCloudSchema() Schema     { return reg.schemas[PointCloudSchemaName] }
func FrameTransformSchema() Schema { return reg.schemas[FrameTransformSchemaName] }

func messageDescriptor(name protoreflect.Name) protoreflect.MessageDescriptor {
	md := reg.file.Messages().ByName(name)
	if md == nil {
		panic(fmt.Sprintf("foxglove: missing message %s", name))
	}
	return md
}

func mustBuildRegistry() *registry {
	r, err := buildRegistry()
	if err != nil {
		panic(fmt.Sprintf("foxglove: building schemas: %v", err))
	}
	return r
}

func buildRegistry() (*registry, error) {
	fdp := schemaFileProto()

	file, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", schemaFile, err)
	}

	set := &descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{
			protodesc.ToFileDescriptorProto(timestamppb.File_google_protobuf_timestamp_proto),
			fdp,
		},
	}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("marshal descriptor set: %w", err)
	}

	r := &registry{file: file, set: data, schemas: make(map[string]Schema)}
	for _, name := range []string{PoseInFrameSchemaName, PointCloudSchemaName, FrameTransformSchemaName} {
		r.schemas[name] = Schema{Name: name, Encoding: EncodingProtobuf, Data: data}
	}
	return r, nil
}

func schemaFileProto() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(schemaFile),
		Package:    proto.String("foxglove"),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"google/protobuf/timestamp.proto"},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Vector3"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalarField("x", 1, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
					scalarField("y", 2, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
					scalarField("z", 3, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
				},
			},
			{
				Name: proto.String("Quaternion"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalarField("x", 1, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
					scalarField("y", 2, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
					scalarField("z", 3, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
					scalarField("w", 4, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
				},
			},
			{
				Name: proto.String("Pose"),
				Field: []*descriptorpb.FieldDescriptorProto{
					messageField("position", 1, ".foxglove.Vector3"),
					messageField("orientation", 2, ".foxglove.Quaternion"),
				},
			},
			{
				Name: proto.String("PoseInFrame"),
				Field: []*descriptorpb.FieldDescriptorProto{
					messageField("timestamp", 1, ".google.protobuf.Timestamp"),
					scalarField("frame_id", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					messageField("pose", 3, ".foxglove.Pose"),
				},
			},
			{
				Name: proto.String("PackedElementField"),
				Field: []*descriptorpb.FieldDescriptorProto{
					scalarField("name", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					scalarField("offset", 2, descriptorpb.FieldDescriptorProto_TYPE_FIXED32),
					enumField("type", 3, ".foxglove.PackedElementField.NumericType"),
				},
				EnumType: []*descriptorpb.EnumDescriptorProto{numericTypeEnum()},
			},
			{
				Name: proto.String("PointCloud"),
				Field: []*descriptorpb.FieldDescriptorProto{
					messageField("timestamp", 1, ".google.protobuf.Timestamp"),
					scalarField("frame_id", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					messageField("pose", 3, ".foxglove.Pose"),
					scalarField("point_stride", 4, descriptorpb.FieldDescriptorProto_TYPE_FIXED32),
					repeatedMessageField("fields", 5, ".foxglove.PackedElementField"),
					scalarField("data", 6, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
				},
			},
			{
				Name: proto.String("FrameTransform"),
				Field: []*descriptorpb.FieldDescriptorProto{
					messageField("timestamp", 1, ".google.protobuf.Timestamp"),
					scalarField("parent_frame_id", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					scalarField("child_frame_id", 3, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					messageField("translation", 4, ".foxglove.Vector3"),
					messageField("rotation", 5, ".foxglove.Quaternion"),
				},
			},
		},
	}
}

func numericTypeEnum() *descriptorpb.EnumDescriptorProto {
	names := []string{"UNKNOWN", "UINT8", "INT8", "UINT16", "INT16", "UINT32", "INT32", "FLOAT32", "FLOAT64"}
	values := make([]*descriptorpb.EnumValueDescriptorProto, len(names))
	for i, n := range names {
		values[i] = &descriptorpb.EnumValueDescriptorProto{Name: proto.String(n), Number: proto.Int32(int32(i))}
	}
	return &descriptorpb.EnumDescriptorProto{Name: proto.String("NumericType"), Value: values}
}

func scalarField(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		JsonName: proto.String(jsonName(name)),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     typ.Enum(),
	}
}

func messageField(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	f := scalarField(name, number, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	f.TypeName = proto.String(typeName)
	return f
}

func repeatedMessageField(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	f := messageField(name, number, typeName)
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func enumField(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	f := scalarField(name, number, descriptorpb.FieldDescriptorProto_TYPE_ENUM)
	f.TypeName = proto.String(typeName)
	return f
}

// jsonName is protoc's lowerCamelCase field name.
func jsonName(name string) string {
	out := make([]byte, 0, len(name))
	upper := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '_' {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		out = append(out, c)
	}
	return string(out)
}
