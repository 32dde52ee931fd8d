package render

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/udisondev/foliage/internal/foliage"
	"github.com/udisondev/foliage/internal/spatial"
)

// ShadowMode controls how a draw participates in shadow passes.
type ShadowMode uint8

const (
	ShadowOff ShadowMode = iota
	ShadowOn
	ShadowOnly
)

func (m ShadowMode) String() string {
	switch m {
	case ShadowOn:
		return "on"
	case ShadowOnly:
		return "shadows_only"
	default:
		return "off"
	}
}

// Params are the per-draw shader values.
type Params struct {
	MaxDistance    float32
	MaxDistanceSqr float32

	// LOD end distance, trees only.
	LODDistance    float32
	LODDistanceSqr float32

	Hue   mgl32.Vec4
	Color mgl32.Vec4

	Bend         bool
	BendPosition mgl32.Vec3
	BendDistance float32
	BendPower    float32

	// Instances is the positions buffer of an indirect draw.
	Instances Buffer
}

// DrawCall identifies what is drawn and how.
type DrawCall struct {
	Type        foliage.TypeID
	Mesh        foliage.Mesh
	SubMesh     int
	Material    foliage.Material
	Shadow      ShadowMode
	Params      Params
	LightProbes bool
}

// Releaser frees an explicitly managed GPU resource. Release must be safe to
// call more than once.
type Releaser interface {
	Release()
}

// Buffer is a GPU buffer of instance matrices.
type Buffer interface {
	Releaser
	Len() int
}

// ArgsBuffer holds the five indirect draw arguments: index count, instance
// count, start index, base vertex, start instance.
type ArgsBuffer interface {
	Releaser
	SetArgs(args [5]uint32)
}

// Device is the GPU. Implementations must copy matrices they keep past the
// call; the renderer reuses its batch buffers.
type Device interface {
	DrawInstanced(call DrawCall, matrices []mgl32.Mat4)
	DrawMesh(call DrawCall, matrix mgl32.Mat4)
	DrawIndirect(call DrawCall, bounds spatial.AABB, args ArgsBuffer)

	NewInstanceBuffer(matrices []mgl32.Mat4) (Buffer, error)
	NewArgsBuffer() (ArgsBuffer, error)
}
