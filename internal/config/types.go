package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"

	"github.com/udisondev/foliage/internal/foliage"
	"github.com/udisondev/foliage/internal/spatial"
)

var ErrNoName = errors.New("foliage type without name")

// TypesFile is the on-disk list of foliage types.
type TypesFile struct {
	Types []TypeSpec `yaml:"types"`
}

// TypeSpec describes one foliage type and its LOD assets. Unset optional
// fields keep the builder defaults for the category.
type TypeSpec struct {
	Name       string     `yaml:"name"`
	Prefab     string     `yaml:"prefab"`
	Category   string     `yaml:"category"`
	RenderMode string     `yaml:"render_mode"`
	Bounds     BoundsSpec `yaml:"bounds"`

	MaxDistance *float32    `yaml:"max_distance"`
	CastShadow  *bool       `yaml:"cast_shadow"`
	Hue         *[4]float32 `yaml:"hue"`
	Color       *[4]float32 `yaml:"color"`
	Collision   bool        `yaml:"collision"`

	Bend  *BendSpec  `yaml:"bend"`
	Paint *PaintSpec `yaml:"paint"`

	LODs []LODSpec `yaml:"lods"`
}

type BoundsSpec struct {
	Min [3]float32 `yaml:"min"`
	Max [3]float32 `yaml:"max"`
}

type BendSpec struct {
	Enabled  bool    `yaml:"enabled"`
	Distance float32 `yaml:"distance"`
	Power    float32 `yaml:"power"`
}

type PaintSpec struct {
	Enabled        bool        `yaml:"enabled"`
	SurfaceAlign   bool        `yaml:"surface_align"`
	AlignInfluence *[2]float32 `yaml:"align_influence"`
	YOffset        [2]float32  `yaml:"y_offset"`
}

// LODSpec names the mesh and materials of one LOD slot.
type LODSpec struct {
	Mesh        string   `yaml:"mesh"`
	SubMeshes   int      `yaml:"sub_meshes"`
	IndexCounts []uint32 `yaml:"index_counts"`
	Materials   []string `yaml:"materials"`
	Transition  float32  `yaml:"transition"` // screen relative transition height
	Billboard   bool     `yaml:"billboard"`
}

// LoadTypes loads the types file. A missing file yields no types.
func LoadTypes(path string) ([]TypeSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading types %s: %w", path, err)
	}

	var f TypesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing types %s: %w", path, err)
	}

	return f.Types, nil
}

// Builder converts the spec into a type builder.
func (s TypeSpec) Builder() (foliage.Builder, error) {
	if s.Name == "" {
		return foliage.Builder{}, ErrNoName
	}

	cat, err := foliage.ParseCategory(s.Category)
	if err != nil {
		return foliage.Builder{}, fmt.Errorf("type %s: %w", s.Name, err)
	}
	mode, err := foliage.ParseRenderMode(s.RenderMode)
	if err != nil {
		return foliage.Builder{}, fmt.Errorf("type %s: %w", s.Name, err)
	}

	b := foliage.NewBuilder(s.Name, cat)
	if s.Prefab != "" {
		b.Prefab = s.Prefab
	}
	b.RenderMode = mode
	b.Bounds = spatial.AABB{Min: mgl32.Vec3(s.Bounds.Min), Max: mgl32.Vec3(s.Bounds.Max)}
	b.EnableCollision = s.Collision

	if s.MaxDistance != nil {
		b.Render.MaxDistance = *s.MaxDistance
	}
	if s.CastShadow != nil {
		b.Render.CastShadow = *s.CastShadow
	}
	if s.Hue != nil {
		b.Render.Hue = mgl32.Vec4(*s.Hue)
	}
	if s.Color != nil {
		b.Render.Color = mgl32.Vec4(*s.Color)
	}

	if s.Bend != nil {
		b.Bend = foliage.Bend{Enabled: s.Bend.Enabled, Distance: s.Bend.Distance, Power: s.Bend.Power}
	}
	if s.Paint != nil {
		b.Paint.Enabled = s.Paint.Enabled
		b.Paint.SurfaceAlign = s.Paint.SurfaceAlign
		b.Paint.YOffset = s.Paint.YOffset
		if s.Paint.AlignInfluence != nil {
			b.Paint.SurfaceAlignInfluence = *s.Paint.AlignInfluence
		}
	}

	return b, nil
}

// LODSources returns the LOD slots as headless mesh descriptions.
func (s TypeSpec) LODSources() []foliage.LODSource {
	out := make([]foliage.LODSource, 0, len(s.LODs))
	for _, l := range s.LODs {
		mats := make([]foliage.Material, 0, len(l.Materials))
		for _, m := range l.Materials {
			mats = append(mats, foliage.StaticMaterial(m))
		}
		out = append(out, foliage.LODSource{
			Mesh:                           foliage.StaticMesh{MeshName: l.Mesh, SubMeshes: l.SubMeshes, IndexCounts: l.IndexCounts},
			Materials:                      mats,
			ScreenRelativeTransitionHeight: l.Transition,
			Billboard:                      l.Billboard,
		})
	}
	return out
}

// Build turns the spec into a type with its LODs installed.
func (s TypeSpec) Build() (*foliage.Type, error) {
	b, err := s.Builder()
	if err != nil {
		return nil, err
	}
	t := b.Build()
	if err := t.BuildLODs(s.LODSources()); err != nil {
		return nil, err
	}
	return t, nil
}

// BuildTypes builds every spec, stopping at the first failure.
func BuildTypes(specs []TypeSpec) ([]*foliage.Type, error) {
	types := make([]*foliage.Type, 0, len(specs))
	for i, s := range specs {
		t, err := s.Build()
		if err != nil {
			return nil, fmt.Errorf("types[%d]: %w", i, err)
		}
		types = append(types, t)
	}
	return types, nil
}
