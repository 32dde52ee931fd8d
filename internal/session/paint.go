package session

import (
	"log/slog"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/udisondev/foliage/internal/foliage"
	"github.com/udisondev/foliage/internal/spatial"
)

// Per-stroke caps on painted instances.
const (
	maxTreesPerStroke = 10000
	maxGrassPerStroke = 100000
)

// Brush describes a paint stroke. Density is instances per 2000 m² for trees
// and per 50 m² for grass.
type Brush struct {
	Size    float32
	Density float32

	// SlopeFilter rejects samples whose slope in degrees is outside SlopeAngles.
	SlopeFilter bool
	SlopeAngles [2]float32

	// ScaleUniform uses Scale for all axes, otherwise ScaleX/Y/Z.
	ScaleUniform           bool
	Scale                  [2]float32
	ScaleX, ScaleY, ScaleZ [2]float32

	RotateYOnly    bool
	RandomRotation [2]float32 // degrees
}

// DefaultBrush returns a 2m brush at density 50 with uniform scale and
// random yaw.
func DefaultBrush() Brush {
	return Brush{
		Size:           2,
		Density:        50,
		SlopeAngles:    [2]float32{0, 180},
		ScaleUniform:   true,
		Scale:          [2]float32{1, 1},
		ScaleX:         [2]float32{1, 1},
		ScaleY:         [2]float32{1, 1},
		ScaleZ:         [2]float32{1, 1},
		RotateYOnly:    true,
		RandomRotation: [2]float32{0, 360},
	}
}

// Paint scatters the paint-enabled types around center on terrain, trees and
// grass separately, topping up to the brush density. Instances are labelled
// for the terrain, or as hand painted when terrain is nil. Returns the number
// of instances added.
func (s *Session) Paint(center mgl32.Vec3, brush Brush, terrain Terrain) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var trees, grass []*foliage.Type
	for _, t := range s.types.All() {
		if !t.Paint.Enabled {
			continue
		}
		if t.IsGrass() {
			grass = append(grass, t)
		} else {
			trees = append(trees, t)
		}
	}

	added := 0
	if len(trees) > 0 {
		added += s.paintTypes(trees, false, center, brush, terrain)
	}
	if len(grass) > 0 {
		added += s.paintTypes(grass, true, center, brush, terrain)
	}
	return added
}

func (s *Session) paintTypes(types []*foliage.Type, grass bool, center mgl32.Vec3, brush Brush, terrain Terrain) int {
	area := math.Pi * brush.Size * brush.Size

	var want, limit int
	if grass {
		want, limit = int(area/50*brush.Density), maxGrassPerStroke
	} else {
		want, limit = int(area/2000*brush.Density), maxTreesPerStroke
	}
	existing := s.store.CountNear(center, brush.Size, grass)
	required := min(max(want-existing, 1), limit)

	label := foliage.LabelPainted
	if terrain != nil {
		label = foliage.TerrainPaintedLabel(terrain.Name())
	}

	added := 0
	for range required {
		r := brush.Size * float32(math.Sqrt(s.rng.Float64()))
		theta := s.rng.Float64() * 2 * math.Pi
		x := center[0] + r*float32(math.Cos(theta))
		z := center[2] + r*float32(math.Sin(theta))

		y, normal := center[1], mgl32.Vec3{0, 1, 0}
		if terrain != nil {
			y, normal = terrain.Height(x, z), terrain.Normal(x, z)
		}

		if brush.SlopeFilter {
			slope := slopeDegrees(normal)
			if slope < brush.SlopeAngles[0] || slope > brush.SlopeAngles[1] {
				continue
			}
		}

		t := types[s.rng.IntN(len(types))]
		offset := s.between(t.Paint.YOffset)
		pos := mgl32.Vec3{x, y, z}.Add(normal.Mul(offset))

		inst := foliage.NewInstance(pos, s.paintRotation(t, brush, normal), s.paintScale(brush))
		t.Prepare(&inst)
		s.store.AddInstance(t.ID, inst, grass, label)
		s.pendingCells[s.opts.Grid.Key(pos, spatial.Coarse)] = struct{}{}
		s.touched(t.ID)
		added++
	}

	slog.Debug("painted foliage", "grass", grass, "required", required, "added", added, "label", label)
	return added
}

func (s *Session) paintRotation(t *foliage.Type, brush Brush, normal mgl32.Vec3) mgl32.Quat {
	yaw := func() mgl32.Quat {
		return mgl32.QuatRotate(mgl32.DegToRad(s.between(brush.RandomRotation)), mgl32.Vec3{0, 1, 0})
	}

	// Billboards only ever turn around Y and ignore the surface.
	if t.Category() == foliage.TreeSpeedTreeBillboard {
		return yaw()
	}

	rot := mgl32.QuatIdent()
	if t.Paint.SurfaceAlign {
		rot = s.alignTo(normal, t.Paint.SurfaceAlignInfluence)
	}

	if brush.RotateYOnly {
		return rot.Mul(yaw())
	}
	return rot.Mul(mgl32.AnglesToQuat(
		mgl32.DegToRad(s.between(brush.RandomRotation)),
		mgl32.DegToRad(s.between(brush.RandomRotation)),
		mgl32.DegToRad(s.between(brush.RandomRotation)),
		mgl32.XYZ,
	))
}

// alignTo tilts up towards normal by a random share of influence.
func (s *Session) alignTo(normal mgl32.Vec3, influence [2]float32) mgl32.Quat {
	slope := mgl32.QuatBetweenVectors(mgl32.Vec3{0, 1, 0}, normal)
	return mgl32.QuatSlerp(mgl32.QuatIdent(), slope, s.between(influence))
}

func (s *Session) paintScale(brush Brush) mgl32.Vec3 {
	if brush.ScaleUniform {
		v := s.between(brush.Scale)
		return mgl32.Vec3{v, v, v}
	}
	return mgl32.Vec3{s.between(brush.ScaleX), s.between(brush.ScaleY), s.between(brush.ScaleZ)}
}

// between returns a uniform value in [r[0], r[1]].
func (s *Session) between(r [2]float32) float32 {
	return r[0] + (r[1]-r[0])*s.rng.Float32()
}

func slopeDegrees(normal mgl32.Vec3) float32 {
	cos := mgl32.Clamp(normal.Normalize()[1], -1, 1)
	return mgl32.RadToDeg(float32(math.Acos(float64(cos))))
}

// StickLabelToTerrain re-seats every instance tagged with label onto terrain:
// height from the terrain plus the type's random Y offset, rotation rebuilt
// from the surface alignment settings and a random yaw. Returns the number
// of instances moved.
func (s *Session) StickLabelToTerrain(label string, terrain Terrain) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	collected := s.store.CollectByLabel(label)
	if len(collected) == 0 {
		return 0
	}

	moved := 0
	for id, insts := range collected {
		t, ok := s.types.Get(id)
		if !ok {
			slog.Warn("leaving instances of unknown type in place", "op", "stick to terrain", "id", id, "instances", len(insts))
			continue
		}
		s.store.RemoveLabelOfType(id, label)

		for i := range insts {
			inst := &insts[i]
			x, z := inst.Position[0], inst.Position[2]
			normal := terrain.Normal(x, z)

			rot := mgl32.QuatIdent()
			if t.Paint.SurfaceAlign {
				rot = s.alignTo(normal, t.Paint.SurfaceAlignInfluence)
			}
			inst.Rotation = rot.Mul(mgl32.QuatRotate(mgl32.DegToRad(360*s.rng.Float32()), mgl32.Vec3{0, 1, 0}))
			inst.Position[1] = terrain.Height(x, z) + s.between(t.Paint.YOffset)

			t.Prepare(inst)
		}
		s.store.AddInstances(id, insts, t.IsGrass(), label)
		moved += len(insts)
	}
	if moved == 0 {
		return 0
	}

	slog.Info("stuck label to terrain", "label", label, "terrain", terrain.Name(), "instances", moved)

	clear(s.counts)
	s.labels = nil
	s.pendingAll = true
	s.markDirty()
	return moved
}
