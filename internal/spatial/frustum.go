package spatial

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Plane is n·p + d = 0 with a unit normal pointing into the frustum.
type Plane struct {
	Normal mgl32.Vec3
	D      float32
}

// Distance returns the signed distance from p to the plane.
func (p Plane) Distance(v mgl32.Vec3) float32 {
	return p.Normal.Dot(v) + p.D
}

// Frustum holds the six clip planes: left, right, bottom, top, near, far.
type Frustum [6]Plane

// FrustumFromMatrix extracts the clip planes of a view-projection matrix
// (Gribb/Hartmann). The matrix must use the OpenGL clip convention, as
// produced by mgl32.Perspective.
func FrustumFromMatrix(viewProj mgl32.Mat4) Frustum {
	r0 := viewProj.Row(0)
	r1 := viewProj.Row(1)
	r2 := viewProj.Row(2)
	r3 := viewProj.Row(3)

	var f Frustum
	f[0] = planeFrom(r3.Add(r0))
	f[1] = planeFrom(r3.Sub(r0))
	f[2] = planeFrom(r3.Add(r1))
	f[3] = planeFrom(r3.Sub(r1))
	f[4] = planeFrom(r3.Add(r2))
	f[5] = planeFrom(r3.Sub(r2))
	return f
}

func planeFrom(v mgl32.Vec4) Plane {
	n := mgl32.Vec3{v[0], v[1], v[2]}
	l := n.Len()
	if l == 0 {
		return Plane{Normal: n, D: v[3]}
	}
	return Plane{Normal: n.Mul(1 / l), D: v[3] / l}
}

// IntersectsAABB reports whether any part of b may be inside the frustum.
// Conservative: boxes straddling a corner outside the frustum pass.
func (f *Frustum) IntersectsAABB(b AABB) bool {
	for i := range f {
		p := &f[i]
		var v mgl32.Vec3
		for a := 0; a < 3; a++ {
			if p.Normal[a] >= 0 {
				v[a] = b.Max[a]
			} else {
				v[a] = b.Min[a]
			}
		}
		if p.Distance(v) < 0 {
			return false
		}
	}
	return true
}

// Contains reports whether the point is inside all six planes.
func (f *Frustum) Contains(v mgl32.Vec3) bool {
	for i := range f {
		if f[i].Distance(v) < 0 {
			return false
		}
	}
	return true
}
