package foxglove

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/slamviz/internal/slam"
)

// PointStride is the size of one packed point: x, y, z as float32.
const PointStride = 12

// PointFields is the fixed field layout of every published point cloud.
var PointFields = []PackedElementField{
	{Name: "x", Offset: 0, Type: NumericTypeFloat32},
	{Name: "y", Offset: 4, Type: NumericTypeFloat32},
	{Name: "z", Offset: 8, Type: NumericTypeFloat32},
}

// PackPoints encodes points as consecutive little-endian float32 triples.
// Point i starts at byte i*PointStride.
func PackPoints(points []slam.Point3D) []byte {
	return AppendPoints(make([]byte, 0, len(points)*PointStride), points)
}

// AppendPoints appends the packed form of points to dst, reusing its capacity.
func AppendPoints(dst []byte, points []slam.Point3D) []byte {
	for _, p := range points {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(p.X)))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(p.Y)))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(p.Z)))
	}
	return dst
}

// UnpackPoints decodes a buffer produced by PackPoints. The values carry
// float32 precision.
func UnpackPoints(data []byte) ([]slam.Point3D, error) {
	if len(data)%PointStride != 0 {
		return nil, fmt.Errorf("point buffer length %d is not a multiple of stride %d", len(data), PointStride)
	}

	points := make([]slam.Point3D, len(data)/PointStride)
	for i := range points {
		b := data[i*PointStride:]
		points[i] = slam.Point3D{
			X: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[0:4]))),
			Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4:8]))),
			Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(b[8:12]))),
		}
	}
	return points, nil
}
