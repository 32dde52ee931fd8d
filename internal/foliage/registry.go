package foliage

import (
	"log/slog"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/udisondev/foliage/internal/spatial"
)

// Builder carries everything needed to add a type. It is the only way types
// enter a Registry.
type Builder struct {
	Name            string
	Prefab          string
	Category        Category
	RenderMode      RenderMode
	Bounds          spatial.AABB
	Render          RenderInfo
	EnableCollision bool
	Bend            Bend
	Paint           PaintInfo
}

// NewBuilder returns a builder with the defaults a fresh type gets: full max
// distance for the category, shadows on, white tint.
func NewBuilder(name string, c Category) Builder {
	return Builder{
		Name:     name,
		Prefab:   name,
		Category: c,
		Render: RenderInfo{
			MaxDistance: MaxDistanceFor(c),
			CastShadow:  true,
			Hue:         mgl32.Vec4{1, 0.5, 0, 0.1},
			Color:       mgl32.Vec4{1, 1, 1, 1},
		},
		Bend:  DefaultBend(),
		Paint: DefaultPaintInfo(),
	}
}

// Build materializes the type. The render mode is downgraded for trees and
// the max distance clamped to the category cap.
func (b Builder) Build() *Type {
	t := &Type{
		ID:              IDFromName(b.Name),
		Name:            b.Name,
		Prefab:          b.Prefab,
		category:        b.Category,
		Bounds:          b.Bounds,
		Render:          b.Render,
		EnableCollision: b.EnableCollision,
		Bend:            b.Bend,
		Paint:           b.Paint,
	}
	if t.Prefab == "" {
		t.Prefab = t.Name
	}
	if err := t.SetRenderMode(b.RenderMode); err != nil {
		slog.Warn("ignoring render mode", "type", b.Name, "err", err)
	}
	t.Render.MaxDistance = ClampDistance(b.Category, b.Render.MaxDistance)
	return t
}

// Registry owns the foliage types, keyed by id. Not safe for concurrent use;
// owners serialize access.
type Registry struct {
	types map[TypeID]*Type
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[TypeID]*Type)}
}

// Add builds and registers a type. If a type with the same name is already
// present its id is returned with added == false.
func (r *Registry) Add(b Builder) (id TypeID, added bool) {
	id = IDFromName(b.Name)
	if existing, ok := r.types[id]; ok {
		slog.Warn("foliage type already registered", "type", existing.Name, "id", id)
		return id, false
	}
	r.types[id] = b.Build()
	return id, true
}

// Put registers an already built type, replacing any type with the same id.
func (r *Registry) Put(t *Type) {
	r.types[t.ID] = t
}

// Remove deletes the type. Returns false when unknown.
func (r *Registry) Remove(id TypeID) bool {
	if _, ok := r.types[id]; !ok {
		return false
	}
	delete(r.types, id)
	return true
}

// Get returns the type or nil, false.
func (r *Registry) Get(id TypeID) (*Type, bool) {
	t, ok := r.types[id]
	return t, ok
}

func (r *Registry) Has(id TypeID) bool {
	_, ok := r.types[id]
	return ok
}

func (r *Registry) Len() int {
	return len(r.types)
}

// All returns the types sorted by name.
func (r *Registry) All() []*Type {
	out := make([]*Type, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the types keyed by id. The map is shared with the registry
// and must not be modified.
func (r *Registry) Lookup() map[TypeID]*Type {
	return r.types
}
