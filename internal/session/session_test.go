package session

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/foliage/internal/baked"
	"github.com/udisondev/foliage/internal/edit"
	"github.com/udisondev/foliage/internal/foliage"
	"github.com/udisondev/foliage/internal/spatial"
)

type billboardCall struct {
	cells   []int32
	emptied []int32
}

type fakeBillboards struct {
	calls []billboardCall
}

func (f *fakeBillboards) Regenerate(cells map[int32]*edit.Cell, _ map[foliage.TypeID]*foliage.Type) {
	var call billboardCall
	for hash, c := range cells {
		if c == nil {
			call.emptied = append(call.emptied, hash)
			continue
		}
		call.cells = append(call.cells, hash)
	}
	slices.Sort(call.cells)
	slices.Sort(call.emptied)
	f.calls = append(f.calls, call)
}

type fixture struct {
	s          *Session
	billboards *fakeBillboards
	oak        foliage.TypeID
	clover     foliage.TypeID
}

func newFixture(t *testing.T, file string) *fixture {
	t.Helper()

	bb := &fakeBillboards{}
	opts := DefaultOptions(file)
	opts.Billboards = bb
	opts.Rand = rand.New(rand.NewPCG(3, 4))
	opts.AutosaveDelay = time.Second

	s := New(opts)

	oak := foliage.NewBuilder("Oak", foliage.TreeGeneric)
	oak.Bounds = spatial.AABB{Min: mgl32.Vec3{-1, 0, -1}, Max: mgl32.Vec3{1, 10, 1}}
	oakID, err := s.AddType(oak, nil)
	require.NoError(t, err)

	clover := foliage.NewBuilder("Clover", foliage.GrassGeneric)
	clover.Bounds = spatial.AABB{Min: mgl32.Vec3{-0.1, 0, -0.1}, Max: mgl32.Vec3{0.1, 0.3, 0.1}}
	cloverID, err := s.AddType(clover, nil)
	require.NoError(t, err)

	return &fixture{s: s, billboards: bb, oak: oakID, clover: cloverID}
}

func at(x, y, z float32) foliage.Instance {
	return foliage.NewInstance(mgl32.Vec3{x, y, z}, mgl32.Quat{}, mgl32.Vec3{1, 1, 1})
}

func TestSession_AddType(t *testing.T) {
	f := newFixture(t, "")

	id, err := f.s.AddType(foliage.NewBuilder("Oak", foliage.TreeSpeedTree), nil)
	require.NoError(t, err)
	assert.Equal(t, f.oak, id, "existing type is returned")

	typ, ok := f.s.Type(f.oak)
	require.True(t, ok)
	assert.Equal(t, foliage.TreeGeneric, typ.Category(), "existing type untouched")

	_, err = f.s.AddType(foliage.NewBuilder("Birch", foliage.TreeGeneric), []foliage.LODSource{})
	assert.ErrorIs(t, err, foliage.ErrNoLODs)
	assert.Len(t, f.s.Types(), 2)
}

func TestSession_AddInstance(t *testing.T) {
	f := newFixture(t, "")

	err := f.s.AddInstance(foliage.IDFromName("Nope"), at(1, 0, 1), foliage.LabelPainted)
	assert.ErrorIs(t, err, ErrUnknownType)

	require.NoError(t, f.s.AddInstance(f.oak, at(10, 0, 10), foliage.LabelPainted))
	require.NoError(t, f.s.AddInstances(f.clover, []foliage.Instance{at(1, 0, 1), at(2, 0, 2)}, "meadow"))

	assert.Equal(t, 1, f.s.CachedCount(f.oak))
	assert.Equal(t, 2, f.s.CachedCount(f.clover))
	assert.Equal(t, -1, f.s.CachedCount(foliage.IDFromName("Nope")))
	assert.Equal(t, []string{foliage.LabelPainted, "meadow"}, f.s.CachedLabels())

	b := f.s.Bake(baked.Options{})
	require.Equal(t, 1, b.Len())
	for _, c := range b.Cells {
		require.Len(t, c.Trees, 1)
		inst := c.Trees[0].Instances[0]
		assert.NotEqual(t, uuid.Nil, inst.ID, "instances are prepared")
		assert.InDelta(t, 10, inst.Bounds.Max[1], 1e-4)
	}
}

func TestSession_PaintBracket(t *testing.T) {
	f := newFixture(t, "")

	assert.Zero(t, f.s.CachedCount(f.oak))

	f.s.BeginPaint()
	require.NoError(t, f.s.AddInstance(f.oak, at(10, 0, 10), foliage.LabelPainted))
	require.NoError(t, f.s.AddInstance(f.oak, at(150, 0, 10), foliage.LabelPainted))
	assert.Zero(t, f.s.CachedCount(f.oak), "counts stay cached inside the bracket")
	assert.Empty(t, f.billboards.calls)

	f.s.EndPaint()
	assert.Equal(t, 2, f.s.CachedCount(f.oak))

	require.Len(t, f.billboards.calls, 1, "one regeneration per bracket")
	want := []int32{
		spatial.Cell{}.Hash(),
		spatial.Cell{X: 1}.Hash(),
	}
	slices.Sort(want)
	assert.Equal(t, want, f.billboards.calls[0].cells)

	f.s.EndPaint()
	assert.Len(t, f.billboards.calls, 1, "nothing pending")
}

func TestSession_InvalidationOutsideBracket(t *testing.T) {
	f := newFixture(t, "")

	assert.Zero(t, f.s.CachedCount(f.oak))
	assert.Empty(t, f.s.CachedLabels())

	require.NoError(t, f.s.AddInstance(f.oak, at(10, 0, 10), "a"))
	assert.Equal(t, 1, f.s.CachedCount(f.oak))
	assert.Equal(t, []string{"a"}, f.s.CachedLabels())
	assert.Empty(t, f.billboards.calls, "billboards wait for Refresh")

	f.s.Refresh()
	require.Len(t, f.billboards.calls, 1)
	assert.Equal(t, []int32{spatial.Cell{}.Hash()}, f.billboards.calls[0].cells)
}

func TestSession_Erase(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.s.AddInstance(f.oak, at(10, 0, 10), foliage.LabelPainted))
	require.NoError(t, f.s.AddInstance(f.clover, at(10.5, 0, 10), foliage.LabelPainted))

	t.Run("paint enabled only", func(t *testing.T) {
		assert.False(t, f.s.Erase(mgl32.Vec3{10, 0, 10}, 2, false, nil))
	})

	t.Run("selected", func(t *testing.T) {
		assert.True(t, f.s.Erase(mgl32.Vec3{10, 0, 10}, 2, false, []foliage.TypeID{f.clover}))
		assert.Zero(t, f.s.CachedCount(f.clover))
		assert.Equal(t, 1, f.s.CachedCount(f.oak))
	})

	t.Run("all types", func(t *testing.T) {
		assert.True(t, f.s.Erase(mgl32.Vec3{10, 0, 10}, 2, true, nil))
		assert.Zero(t, f.s.InstanceCount())
	})

	t.Run("emptied cell is reported", func(t *testing.T) {
		f.s.Refresh()
		last := f.billboards.calls[len(f.billboards.calls)-1]
		assert.Contains(t, last.emptied, spatial.Cell{}.Hash())
	})
}

func TestSession_EraseDefaultRadius(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.s.AddInstance(f.oak, at(10, 0, 10), foliage.LabelPainted))
	require.NoError(t, f.s.EnablePainting(f.oak, true))

	assert.False(t, f.s.Erase(mgl32.Vec3{10.4, 0, 10}, 0, false, nil))
	assert.True(t, f.s.Erase(mgl32.Vec3{10.2, 0, 10}, 0, false, nil))
}

func TestSession_SetCategoryRelocates(t *testing.T) {
	f := newFixture(t, "")
	for i := range 5 {
		require.NoError(t, f.s.AddInstance(f.oak, at(float32(i)*3, 0, 5), "row"))
	}
	assert.Equal(t, 5, f.s.CachedCount(f.oak))

	require.NoError(t, f.s.SetCategory(f.oak, foliage.GrassGeneric))
	assert.Equal(t, 5, f.s.CachedCount(f.oak))
	assert.Equal(t, 5, f.s.CountNear(mgl32.Vec3{6, 0, 5}, 10, true))
	assert.Zero(t, f.s.CountNear(mgl32.Vec3{6, 0, 5}, 10, false))

	typ, _ := f.s.Type(f.oak)
	assert.LessOrEqual(t, typ.Render.MaxDistance, float32(foliage.MaxGrassDistance))
}

func TestSession_Setters(t *testing.T) {
	f := newFixture(t, "")
	missing := foliage.IDFromName("Missing")

	tests := []struct {
		name string
		call func(id foliage.TypeID) error
	}{
		{"hue", func(id foliage.TypeID) error { return f.s.SetHue(id, mgl32.Vec4{1, 0, 0, 1}) }},
		{"color", func(id foliage.TypeID) error { return f.s.SetColor(id, mgl32.Vec4{0, 1, 0, 1}) }},
		{"shadow", func(id foliage.TypeID) error { return f.s.SetCastShadow(id, false) }},
		{"distance", func(id foliage.TypeID) error { return f.s.SetMaxDistance(id, 5000) }},
		{"collision", func(id foliage.TypeID) error { return f.s.SetCollision(id, true) }},
		{"bending", func(id foliage.TypeID) error { return f.s.SetBending(id, true) }},
		{"painting", func(id foliage.TypeID) error { return f.s.EnablePainting(id, true) }},
		{"category", func(id foliage.TypeID) error { return f.s.SetCategory(id, foliage.TreeSpeedTree) }},
		{"render mode", func(id foliage.TypeID) error { return f.s.SetRenderMode(id, foliage.Instanced) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(missing), ErrUnknownType)
			assert.NoError(t, tt.call(f.oak))
		})
	}

	typ, _ := f.s.Type(f.oak)
	assert.Equal(t, mgl32.Vec4{1, 0, 0, 1}, typ.Render.Hue)
	assert.Equal(t, mgl32.Vec4{0, 1, 0, 1}, typ.Render.Color)
	assert.False(t, typ.Render.CastShadow)
	assert.Equal(t, float32(foliage.MaxTreeDistance), typ.Render.MaxDistance)
	assert.True(t, typ.EnableCollision)
	assert.True(t, typ.Bend.Enabled)
	assert.True(t, typ.Paint.Enabled)

	assert.ErrorIs(t, f.s.SetRenderMode(f.oak, foliage.InstancedIndirect), foliage.ErrIndirectTree)
	assert.NoError(t, f.s.SetRenderMode(f.clover, foliage.InstancedIndirect))
}

func TestSession_RemoveTypeAndLabel(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.s.AddInstance(f.oak, at(10, 0, 10), "keep"))
	require.NoError(t, f.s.AddInstance(f.oak, at(20, 0, 10), "drop"))
	require.NoError(t, f.s.AddInstance(f.clover, at(30, 0, 10), "drop"))

	assert.True(t, f.s.RemoveLabel("drop"))
	assert.False(t, f.s.RemoveLabel("drop"))
	assert.Equal(t, []string{"keep"}, f.s.CachedLabels())
	assert.Equal(t, 1, f.s.CachedCount(f.oak))

	f.s.RemoveType(f.oak, false)
	assert.Zero(t, f.s.CachedCount(f.oak))
	_, ok := f.s.Type(f.oak)
	assert.True(t, ok, "type kept")

	f.s.RemoveType(f.oak, true)
	_, ok = f.s.Type(f.oak)
	assert.False(t, ok)
}

func TestSession_RemoveInstanceByGUID(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.s.AddInstance(f.oak, at(10, 0, 10), foliage.LabelPainted))

	b := f.s.Bake(baked.Options{})
	var id uuid.UUID
	for _, c := range b.Cells {
		id = c.Trees[0].Instances[0].ID
	}

	ok, err := f.s.RemoveInstanceByGUID(f.oak, mgl32.Vec3{10, 0, 10}, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.s.RemoveInstanceByGUID(f.oak, mgl32.Vec3{10, 0, 10}, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, f.s.CachedCount(f.oak))

	_, err = f.s.RemoveInstanceByGUID(foliage.IDFromName("Nope"), mgl32.Vec3{}, id)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestSession_SaveLoadAndDangling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foliage.bin.zst")

	a := newFixture(t, path)
	require.NoError(t, a.s.AddInstance(a.oak, at(10, 0, 10), foliage.LabelPainted))
	require.NoError(t, a.s.AddInstance(a.clover, at(11, 0, 10), foliage.LabelPainted))
	require.NoError(t, a.s.Save())
	assert.False(t, a.s.Dirty())

	b, err := Open(DefaultOptions(path))
	require.NoError(t, err)
	_, err = b.AddType(foliage.NewBuilder("Oak", foliage.TreeGeneric), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, b.InstanceCount())

	assert.Equal(t, []foliage.TypeID{a.clover}, b.CleanDanglingTypes())
	assert.Equal(t, 1, b.InstanceCount())
	assert.Empty(t, b.CleanDanglingTypes())
}

func TestSession_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foliage.bin")
	require.NoError(t, os.WriteFile(path, []byte("garbage garbage garbage"), 0o644))

	s, err := Open(DefaultOptions(path))
	require.Error(t, err)
	require.NotNil(t, s)
	assert.Zero(t, s.InstanceCount())

	assert.ErrorIs(t, New(DefaultOptions("")).Load(), ErrNoFile)
}

func TestSession_TickUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foliage.bin")
	a := newFixture(t, path)
	require.NoError(t, a.s.AddInstance(a.clover, at(1, 0, 1), foliage.LabelPainted))
	require.NoError(t, a.s.Save())

	b, err := Open(DefaultOptions(path))
	require.NoError(t, err)
	require.Equal(t, 1, b.InstanceCount())

	b.RequestUpdate()
	b.Tick(200 * time.Millisecond)
	assert.Equal(t, 1, b.InstanceCount(), "not yet")

	b.RequestUpdate() // restarts the countdown
	b.Tick(400 * time.Millisecond)
	assert.Equal(t, 1, b.InstanceCount())

	b.Tick(100 * time.Millisecond)
	assert.Zero(t, b.InstanceCount(), "dangling data cleaned")
}

func TestSession_Autosave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foliage.bin")
	f := newFixture(t, path)

	require.NoError(t, f.s.AddInstance(f.oak, at(10, 0, 10), foliage.LabelPainted))
	assert.True(t, f.s.Dirty())

	f.s.Tick(500 * time.Millisecond)
	assert.NoFileExists(t, path)

	f.s.Tick(600 * time.Millisecond)
	assert.FileExists(t, path)
	assert.False(t, f.s.Dirty())
}

func TestSession_NoAutosaveWithoutFile(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.s.AddInstance(f.oak, at(10, 0, 10), foliage.LabelPainted))
	assert.False(t, f.s.Dirty())
	assert.ErrorIs(t, f.s.Save(), ErrNoFile)
}

func TestSession_StickLabelToTerrain(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.s.AddInstances(f.oak, []foliage.Instance{at(10, 3, 10), at(40, -2, 60)}, "imported"))
	require.NoError(t, f.s.AddInstance(f.clover, at(12, 7, 12), "imported"))
	require.NoError(t, f.s.AddInstance(f.oak, at(90, 5, 90), "other"))

	moved := f.s.StickLabelToTerrain("imported", FlatTerrain{Label: "ground", Y: 10})
	assert.Equal(t, 3, moved)
	assert.Equal(t, 4, f.s.InstanceCount())
	assert.Equal(t, []string{"imported", "other"}, f.s.CachedLabels())

	b := f.s.Bake(baked.Options{})
	for _, c := range b.Cells {
		for _, batch := range c.Trees {
			for _, inst := range batch.Instances {
				if inst.Position[0] == 90 {
					assert.Equal(t, float32(5), inst.Position[1], "other labels untouched")
					continue
				}
				assert.Equal(t, float32(10), inst.Position[1])
			}
		}
	}

	assert.Zero(t, f.s.StickLabelToTerrain("missing", FlatTerrain{}))
}

func TestSession_StickLabelKeepsUnknownTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foliage.bin")

	a := newFixture(t, path)
	require.NoError(t, a.s.AddInstance(a.oak, at(10, 3, 10), "imported"))
	require.NoError(t, a.s.AddInstances(a.clover, []foliage.Instance{at(12, 7, 12), at(14, 8, 14)}, "imported"))
	require.NoError(t, a.s.Save())

	b, err := Open(DefaultOptions(path))
	require.NoError(t, err)
	_, err = b.AddType(foliage.NewBuilder("Oak", foliage.TreeGeneric), nil)
	require.NoError(t, err)

	moved := b.StickLabelToTerrain("imported", FlatTerrain{Label: "ground", Y: 10})
	assert.Equal(t, 1, moved)
	assert.Equal(t, 3, b.InstanceCount())

	kept := b.store.CollectByLabel("imported")
	require.Len(t, kept[a.clover], 2)
	for _, inst := range kept[a.clover] {
		assert.NotEqual(t, float32(10), inst.Position[1], "unregistered type not re-seated")
	}
	require.Len(t, kept[a.oak], 1)
	assert.Equal(t, float32(10), kept[a.oak][0].Position[1])

	// Only unknown types under the label: nothing moves, nothing is lost.
	b.RemoveType(a.oak, false)
	assert.Zero(t, b.StickLabelToTerrain("imported", FlatTerrain{Y: 1}))
	assert.Equal(t, 2, b.InstanceCount())
}

func TestSession_Paint(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.s.EnablePainting(f.oak, true))
	require.NoError(t, f.s.EnablePainting(f.clover, true))

	ground := FlatTerrain{Label: "ground", Y: 4}
	center := mgl32.Vec3{50, 4, 50}

	f.s.BeginPaint()
	added := f.s.Paint(center, DefaultBrush(), ground)
	f.s.EndPaint()

	// area 4π: grass int(4π/50·50) = 12, trees int(4π/2000·50) = 0 → at least 1
	assert.Equal(t, 13, added)
	assert.Equal(t, 1, f.s.CachedCount(f.oak))
	assert.Equal(t, 12, f.s.CachedCount(f.clover))
	assert.Equal(t, []string{foliage.TerrainPaintedLabel("ground")}, f.s.CachedLabels())
	assert.Equal(t, 12, f.s.CountNear(center, 2, true))

	added = f.s.Paint(center, DefaultBrush(), ground)
	assert.Equal(t, 2, added, "density reached, one of each per stroke")
}

func TestSession_PaintSlopeFilter(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.s.EnablePainting(f.clover, true))

	steep := HeightFunc{Label: "cliff", Fn: func(x, _ float32) float32 { return 3 * x }}
	brush := DefaultBrush()
	brush.SlopeFilter = true
	brush.SlopeAngles = [2]float32{0, 30}

	assert.Zero(t, f.s.Paint(mgl32.Vec3{0, 0, 0}, brush, steep))
	assert.Zero(t, f.s.InstanceCount())
}

func TestHeightFunc_Normal(t *testing.T) {
	flat := HeightFunc{Fn: func(float32, float32) float32 { return 2 }}
	n := flat.Normal(3, 4)
	assert.InDelta(t, 0, n[0], 1e-6)
	assert.InDelta(t, 1, n[1], 1e-6)
	assert.InDelta(t, 0, n[2], 1e-6)

	ramp := HeightFunc{Fn: func(x, _ float32) float32 { return x }}
	n = ramp.Normal(0, 0)
	assert.InDelta(t, 45, slopeDegrees(n), 1e-3)
}

func TestDebouncer(t *testing.T) {
	d := newDebouncer(time.Second)
	assert.False(t, d.tick(time.Hour), "idle")

	d.arm()
	assert.False(t, d.tick(999*time.Millisecond))
	assert.True(t, d.tick(time.Millisecond))
	assert.False(t, d.tick(time.Second), "fires once")
}
