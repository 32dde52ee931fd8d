package foliage

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/udisondev/foliage/internal/spatial"
)

// Instance is one placed piece of foliage.
//
// Bounds and ID are meaningful for trees only. Grass keeps the fields zeroed
// on disk; once baked, grass is reduced to its matrix.
type Instance struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3

	// World-space box of the instance.
	Bounds spatial.AABB
	ID     uuid.UUID

	// Cached local-to-world matrix, filled by BuildMatrix.
	Matrix mgl32.Mat4
}

// NewInstance returns an instance with identity rotation when rot is the zero quaternion.
func NewInstance(pos mgl32.Vec3, rot mgl32.Quat, scale mgl32.Vec3) Instance {
	if rot.W == 0 && rot.V == (mgl32.Vec3{}) {
		rot = mgl32.QuatIdent()
	}
	return Instance{Position: pos, Rotation: rot, Scale: scale}
}

// WorldTransform returns T·R·S.
func (i *Instance) WorldTransform() mgl32.Mat4 {
	return mgl32.Translate3D(i.Position[0], i.Position[1], i.Position[2]).
		Mul4(i.Rotation.Mat4()).
		Mul4(mgl32.Scale3D(i.Scale[0], i.Scale[1], i.Scale[2]))
}

func (i *Instance) BuildMatrix() {
	i.Matrix = i.WorldTransform()
}

// SqrDistance returns the squared distance from the instance position to p.
func (i *Instance) SqrDistance(p mgl32.Vec3) float32 {
	x := i.Position[0] - p[0]
	y := i.Position[1] - p[1]
	z := i.Position[2] - p[2]
	return x*x + y*y + z*z
}
