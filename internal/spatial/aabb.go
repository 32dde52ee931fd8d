package spatial

import (
	"github.com/go-gl/mathgl/mgl32"
)

// AABB is an axis-aligned box in world space.
type AABB struct {
	Min, Max mgl32.Vec3
}

// FromCenterSize builds a box from its center and full extents.
func FromCenterSize(center, size mgl32.Vec3) AABB {
	half := size.Mul(0.5)
	return AABB{Min: center.Sub(half), Max: center.Add(half)}
}

func (b AABB) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

func (b AABB) Size() mgl32.Vec3 {
	return b.Max.Sub(b.Min)
}

// Encapsulate returns the smallest box containing both b and o.
func (b AABB) Encapsulate(o AABB) AABB {
	for i := 0; i < 3; i++ {
		b.Min[i] = min(b.Min[i], o.Min[i])
		b.Max[i] = max(b.Max[i], o.Max[i])
	}
	return b
}

// Contains reports whether p lies inside the box, faces included.
func (b AABB) Contains(p mgl32.Vec3) bool {
	return p[0] >= b.Min[0] && p[0] <= b.Max[0] &&
		p[1] >= b.Min[1] && p[1] <= b.Max[1] &&
		p[2] >= b.Min[2] && p[2] <= b.Max[2]
}

// ContainsBox reports whether o lies entirely inside b.
func (b AABB) ContainsBox(o AABB) bool {
	return b.Contains(o.Min) && b.Contains(o.Max)
}

// SqrDistance returns the squared distance from p to the closest point of the
// box. Zero when p is inside.
func (b AABB) SqrDistance(p mgl32.Vec3) float32 {
	var d float32
	for i := 0; i < 3; i++ {
		switch {
		case p[i] < b.Min[i]:
			v := b.Min[i] - p[i]
			d += v * v
		case p[i] > b.Max[i]:
			v := p[i] - b.Max[i]
			d += v * v
		}
	}
	return d
}

// Transform returns the world box of a local box under an affine matrix
// (Arvo's method: per axis, accumulate the min/max of each column term).
func (b AABB) Transform(m mgl32.Mat4) AABB {
	t := m.Col(3)
	out := AABB{
		Min: mgl32.Vec3{t[0], t[1], t[2]},
		Max: mgl32.Vec3{t[0], t[1], t[2]},
	}

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			e := m.At(i, j)
			lo := e * b.Min[j]
			hi := e * b.Max[j]
			if lo > hi {
				lo, hi = hi, lo
			}
			out.Min[i] += lo
			out.Max[i] += hi
		}
	}
	return out
}
