package testutil

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/udisondev/foliage/internal/edit"
	"github.com/udisondev/foliage/internal/foliage"
	"github.com/udisondev/foliage/internal/spatial"
)

// TreeType returns a single-LOD generic tree 2x10x2 units large.
func TreeType(tb testing.TB, name string) *foliage.Type {
	tb.Helper()

	b := foliage.NewBuilder(name, foliage.TreeGeneric)
	b.Bounds = spatial.AABB{Min: mgl32.Vec3{-1, 0, -1}, Max: mgl32.Vec3{1, 10, 1}}
	b.EnableCollision = true
	t := b.Build()
	if err := t.BuildLODs([]foliage.LODSource{{
		Mesh:      foliage.StaticMesh{MeshName: name + "_lod0", IndexCounts: []uint32{36}},
		Materials: []foliage.Material{foliage.StaticMaterial(name)},
	}}); err != nil {
		tb.Fatalf("building LODs of %s: %v", name, err)
	}
	return t
}

// GrassType returns a grass type drawn in the given mode.
func GrassType(tb testing.TB, name string, mode foliage.RenderMode) *foliage.Type {
	tb.Helper()

	b := foliage.NewBuilder(name, foliage.GrassGeneric)
	b.RenderMode = mode
	t := b.Build()
	if err := t.BuildLODs([]foliage.LODSource{{
		Mesh:      foliage.StaticMesh{MeshName: name + "_blade", IndexCounts: []uint32{6}},
		Materials: []foliage.Material{foliage.StaticMaterial(name)},
	}}); err != nil {
		tb.Fatalf("building LODs of %s: %v", name, err)
	}
	return t
}

// Instance returns an upright, unit scale instance at x, y, z.
func Instance(x, y, z float32) foliage.Instance {
	return foliage.NewInstance(mgl32.Vec3{x, y, z}, mgl32.QuatIdent(), mgl32.Vec3{1, 1, 1})
}

// Forest fills a store with a rows x rows square of trees spaced 5 units
// apart and n blades of grass per tree, all under label.
func Forest(tree, grass *foliage.Type, rows, n int, label string) *edit.Store {
	s := edit.New(spatial.DefaultGrid())
	for i := range rows * rows {
		x, z := float32(i%rows)*5, float32(i/rows)*5

		inst := Instance(x, 0, z)
		tree.Prepare(&inst)
		s.AddInstance(tree.ID, inst, false, label)

		for j := range n {
			blade := Instance(x+float32(j%10)*0.3, 0, z+float32(j/10)*0.3)
			s.AddInstance(grass.ID, blade, true, label)
		}
	}
	return s
}
