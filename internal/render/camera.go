package render

import "github.com/go-gl/mathgl/mgl32"

// Camera supplies the culling view for a frame.
type Camera interface {
	Position() mgl32.Vec3
	ViewProjection() mgl32.Mat4
}

// StaticCamera is a fixed camera.
type StaticCamera struct {
	Eye        mgl32.Vec3
	View       mgl32.Mat4
	Projection mgl32.Mat4
}

// NewLookAtCamera builds a perspective camera at eye looking at target.
// fovY is in degrees.
func NewLookAtCamera(eye, target mgl32.Vec3, fovY, aspect, near, far float32) StaticCamera {
	return StaticCamera{
		Eye:        eye,
		View:       mgl32.LookAtV(eye, target, mgl32.Vec3{0, 1, 0}),
		Projection: mgl32.Perspective(mgl32.DegToRad(fovY), aspect, near, far),
	}
}

func (c StaticCamera) Position() mgl32.Vec3 { return c.Eye }

func (c StaticCamera) ViewProjection() mgl32.Mat4 {
	return c.Projection.Mul4(c.View)
}
