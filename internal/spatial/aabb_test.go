package spatial

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestAABB_SqrDistance(t *testing.T) {
	b := AABB{Min: mgl32.Vec3{0, 0, 0}, Max: mgl32.Vec3{10, 10, 10}}

	tests := []struct {
		name string
		p    mgl32.Vec3
		want float32
	}{
		{"inside", mgl32.Vec3{5, 5, 5}, 0},
		{"on face", mgl32.Vec3{10, 5, 5}, 0},
		{"off one face", mgl32.Vec3{13, 5, 5}, 9},
		{"off a corner", mgl32.Vec3{-1, -2, 12}, 1 + 4 + 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, b.SqrDistance(tt.p), 1e-5)
		})
	}
}

func TestAABB_Encapsulate(t *testing.T) {
	a := FromCenterSize(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{2, 2, 2})
	b := AABB{Min: mgl32.Vec3{0, -5, 0}, Max: mgl32.Vec3{3, 0, 0.5}}

	got := a.Encapsulate(b)
	assert.Equal(t, mgl32.Vec3{-1, -5, -1}, got.Min)
	assert.Equal(t, mgl32.Vec3{3, 1, 1}, got.Max)
	assert.True(t, got.ContainsBox(a))
	assert.True(t, got.ContainsBox(b))

	// original untouched
	assert.Equal(t, mgl32.Vec3{-1, -1, -1}, a.Min)
}

func TestAABB_CenterSize(t *testing.T) {
	b := FromCenterSize(mgl32.Vec3{50, 50, 50}, mgl32.Vec3{100, 100, 100})
	assert.Equal(t, mgl32.Vec3{0, 0, 0}, b.Min)
	assert.Equal(t, mgl32.Vec3{50, 50, 50}, b.Center())
	assert.Equal(t, mgl32.Vec3{100, 100, 100}, b.Size())
}

func TestAABB_Transform(t *testing.T) {
	local := AABB{Min: mgl32.Vec3{-1, 0, -1}, Max: mgl32.Vec3{1, 4, 1}}

	t.Run("identity", func(t *testing.T) {
		assert.Equal(t, local, local.Transform(mgl32.Ident4()))
	})

	t.Run("translate and scale", func(t *testing.T) {
		m := mgl32.Translate3D(10, 0, -5).Mul4(mgl32.Scale3D(2, 3, 2))
		got := local.Transform(m)
		assert.InDelta(t, 8, got.Min[0], 1e-5)
		assert.InDelta(t, 0, got.Min[1], 1e-5)
		assert.InDelta(t, -7, got.Min[2], 1e-5)
		assert.InDelta(t, 12, got.Max[0], 1e-5)
		assert.InDelta(t, 12, got.Max[1], 1e-5)
		assert.InDelta(t, -3, got.Max[2], 1e-5)
	})

	t.Run("rotation grows the box", func(t *testing.T) {
		m := mgl32.HomogRotate3DY(mgl32.DegToRad(45))
		got := local.Transform(m)
		// a 2x2 footprint rotated 45 degrees spans 2*sqrt(2)
		assert.InDelta(t, 2.828427, got.Size()[0], 1e-4)
		assert.InDelta(t, 4, got.Size()[1], 1e-5)
	})
}
