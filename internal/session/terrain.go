package session

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Terrain is a height field instances can be painted on and stuck to.
type Terrain interface {
	Name() string
	Height(x, z float32) float32
	// Normal returns the unit surface normal at x, z.
	Normal(x, z float32) mgl32.Vec3
}

// FlatTerrain is a horizontal plane at Y.
type FlatTerrain struct {
	Label string
	Y     float32
}

func (t FlatTerrain) Name() string                    { return t.Label }
func (t FlatTerrain) Height(float32, float32) float32 { return t.Y }
func (t FlatTerrain) Normal(float32, float32) mgl32.Vec3 {
	return mgl32.Vec3{0, 1, 0}
}

// HeightFunc adapts a height function to Terrain. Normals come from central
// differences one step apart.
type HeightFunc struct {
	Label string
	Fn    func(x, z float32) float32
	Step  float32
}

func (h HeightFunc) Name() string { return h.Label }

func (h HeightFunc) Height(x, z float32) float32 {
	return h.Fn(x, z)
}

func (h HeightFunc) Normal(x, z float32) mgl32.Vec3 {
	d := h.Step
	if d <= 0 {
		d = 0.5
	}
	dx := h.Fn(x+d, z) - h.Fn(x-d, z)
	dz := h.Fn(x, z+d) - h.Fn(x, z-d)
	return mgl32.Vec3{-dx, 2 * d, -dz}.Normalize()
}
