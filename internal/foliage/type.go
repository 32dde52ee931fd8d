package foliage

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/udisondev/foliage/internal/spatial"
)

// Distance caps per category.
const (
	MaxGrassDistance = 100
	MaxTreeDistance  = 1000

	// MaxLODCount caps the number of LOD levels a tree may use.
	MaxLODCount = 6
)

var (
	ErrNoLODs       = errors.New("foliage type has no usable LODs")
	ErrIndirectTree = errors.New("indirect rendering is only available for grass")
)

// RenderInfo holds the per-type values the renderer reads every frame.
type RenderInfo struct {
	MaxDistance float32
	CastShadow  bool
	Hue         mgl32.Vec4
	Color       mgl32.Vec4
}

// PaintInfo drives placement when painting. The renderer ignores it.
type PaintInfo struct {
	SurfaceAlign          bool
	SurfaceAlignInfluence [2]float32
	YOffset               [2]float32
	Enabled               bool
}

// DefaultPaintInfo returns full surface influence with no vertical offset.
func DefaultPaintInfo() PaintInfo {
	return PaintInfo{SurfaceAlignInfluence: [2]float32{1, 1}}
}

// Bend configures grass bending around a tracked point.
type Bend struct {
	Enabled  bool
	Distance float32
	Power    float32
}

func DefaultBend() Bend {
	return Bend{Distance: 1, Power: 2}
}

// LOD is one tree detail level. EndDistance is linear, not squared.
type LOD struct {
	EndDistance float32
	Mesh        Mesh
	Materials   []Material
}

// GrassLOD is the single detail level of a grass type.
type GrassLOD struct {
	Mesh     Mesh
	Material Material
}

// LODSource is what an asset provider returns for one LOD slot of a prefab.
type LODSource struct {
	Mesh                           Mesh
	Materials                      []Material
	ScreenRelativeTransitionHeight float32
	Billboard                      bool
}

// Type is one distinct asset added to the system. Everything else refers to
// it by ID.
type Type struct {
	ID     TypeID
	Name   string
	Prefab string

	category   Category
	renderMode RenderMode

	// Local-space bounds of the prefab.
	Bounds spatial.AABB

	Render          RenderInfo
	EnableCollision bool
	Bend            Bend
	Paint           PaintInfo

	LODs  []LOD
	Grass GrassLOD

	sources []LODSource
}

func (t *Type) Category() Category     { return t.category }
func (t *Type) RenderMode() RenderMode { return t.renderMode }
func (t *Type) IsGrass() bool          { return t.category.IsGrass() }
func (t *Type) IsSpeedTree() bool      { return t.category.IsSpeedTree() }

// RenderIndirect reports whether grass of this type goes through the
// indirect buffer cache.
func (t *Type) RenderIndirect() bool {
	return t.renderMode == InstancedIndirect
}

// SetCategory changes the category and reports whether the type moved between
// the grass and tree grids. A tree cannot render indirect, so the render mode
// falls back to Instanced. Render data is rebuilt from the LOD sources for the
// new category.
func (t *Type) SetCategory(c Category) (flipped bool) {
	wasGrass := t.category.IsGrass()
	t.category = c

	if t.renderMode == InstancedIndirect && !c.IsGrass() {
		slog.Warn("render mode reset to instanced after category change", "type", t.Name, "category", c)
		t.renderMode = Instanced
	}
	t.Render.MaxDistance = ClampDistance(c, t.Render.MaxDistance)

	if len(t.sources) > 0 {
		if err := t.BuildLODs(t.sources); err != nil {
			slog.Error("rebuilding LODs after category change", "type", t.Name, "category", c, "err", err)
		}
	}

	return wasGrass != c.IsGrass()
}

// SetRenderMode changes the render mode. Indirect is rejected for trees.
func (t *Type) SetRenderMode(m RenderMode) error {
	if m == InstancedIndirect && !t.category.IsGrass() {
		return fmt.Errorf("type %s: %w", t.Name, ErrIndirectTree)
	}
	t.renderMode = m
	return nil
}

// SetMaxDistance clamps d to the category cap and re-derives LOD distances.
func (t *Type) SetMaxDistance(d float32) {
	t.Render.MaxDistance = ClampDistance(t.category, d)
	if len(t.sources) > 0 && !t.IsGrass() {
		t.updateLODDistances()
	}
}

// BuildLODs installs the render data for the type. Trees keep up to
// MaxLODCount levels; billboard slots of SpeedTree types are skipped since
// billboards are drawn per cell, not per instance. Grass uses slot 0 only.
// Every source is kept so a later category change can rebuild either shape.
func (t *Type) BuildLODs(sources []LODSource) error {
	if len(sources) == 0 {
		return fmt.Errorf("type %s: %w", t.Name, ErrNoLODs)
	}
	all := slices.Clone(sources)

	if t.IsGrass() {
		src := sources[0]
		if src.Mesh == nil || len(src.Materials) == 0 {
			return fmt.Errorf("type %s: grass LOD needs a mesh and a material: %w", t.Name, ErrNoLODs)
		}
		t.Grass = GrassLOD{Mesh: src.Mesh, Material: src.Materials[0]}
		t.LODs = nil
		t.sources = all
		return nil
	}

	if len(sources) > MaxLODCount {
		slog.Warn("type has more LODs than supported, extra levels dropped",
			"type", t.Name, "lods", len(sources), "max", MaxLODCount)
		sources = sources[:MaxLODCount]
	}

	lods := make([]LOD, 0, len(sources))
	for _, src := range sources {
		if t.IsSpeedTree() && src.Billboard {
			continue
		}
		if src.Mesh == nil {
			return fmt.Errorf("type %s: LOD without mesh: %w", t.Name, ErrNoLODs)
		}
		lods = append(lods, LOD{Mesh: src.Mesh, Materials: src.Materials})
	}
	if len(lods) == 0 {
		return fmt.Errorf("type %s: only billboard LODs: %w", t.Name, ErrNoLODs)
	}

	t.LODs = lods
	t.Grass = GrassLOD{}
	t.sources = all
	t.updateLODDistances()
	return nil
}

func (t *Type) updateLODDistances() {
	if len(t.LODs) == 1 {
		t.LODs[0].EndDistance = t.Render.MaxDistance
		return
	}

	i := 0
	for _, src := range t.sources[:min(len(t.sources), MaxLODCount)] {
		if t.IsSpeedTree() && src.Billboard {
			continue
		}
		t.LODs[i].EndDistance = (1 - src.ScreenRelativeTransitionHeight) * t.Render.MaxDistance
		i++
	}
}

// Prepare stamps a fresh id, world bounds and matrix onto inst.
func (t *Type) Prepare(inst *Instance) {
	inst.ID = uuid.New()
	inst.BuildMatrix()
	inst.Bounds = t.Bounds.Transform(inst.Matrix)
}

// ClampDistance clamps a view distance to the category cap.
func ClampDistance(c Category, d float32) float32 {
	return min(max(d, 0), MaxDistanceFor(c))
}

// MaxDistanceFor returns the distance cap of the category.
func MaxDistanceFor(c Category) float32 {
	if c.IsGrass() {
		return MaxGrassDistance
	}
	return MaxTreeDistance
}
