package slam

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuaternion_Normalized(t *testing.T) {
	tests := []struct {
		name string
		in   Quaternion
		want Quaternion
	}{
		{"identity unchanged", IdentityQuaternion, IdentityQuaternion},
		{"scaled w", Quaternion{W: 2}, IdentityQuaternion},
		{"yaw", Quaternion{Z: 3, W: 4}, Quaternion{Z: 0.6, W: 0.8}},
		{"zero becomes identity", Quaternion{}, IdentityQuaternion},
		{"nan becomes identity", Quaternion{X: math.NaN(), W: 1}, IdentityQuaternion},
		{"inf becomes identity", Quaternion{Y: math.Inf(1)}, IdentityQuaternion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalized()
			assert.InDelta(t, tt.want.X, got.X, 1e-12)
			assert.InDelta(t, tt.want.Y, got.Y, 1e-12)
			assert.InDelta(t, tt.want.Z, got.Z, 1e-12)
			assert.InDelta(t, tt.want.W, got.W, 1e-12)
			assert.InDelta(t, 1.0, got.Norm(), 1e-12)
		})
	}
}

func TestQuaternion_Norm(t *testing.T) {
	assert.InDelta(t, 5.0, Quaternion{Z: 3, W: 4}.Norm(), 1e-12)
	assert.Equal(t, 0.0, Quaternion{}.Norm())
}

func TestIdentityPose(t *testing.T) {
	p := IdentityPose(42)
	assert.Equal(t, Vector3{}, p.Position)
	assert.Equal(t, IdentityQuaternion, p.Orientation)
	assert.Equal(t, uint64(42), p.Timestamp)
}
