package storage

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/foliage/internal/baked"
	"github.com/udisondev/foliage/internal/edit"
	"github.com/udisondev/foliage/internal/foliage"
	"github.com/udisondev/foliage/internal/spatial"
)

const (
	fir    foliage.TypeID = 101
	meadow foliage.TypeID = 202
)

func tree(x, z float32) foliage.Instance {
	inst := foliage.NewInstance(mgl32.Vec3{x, 0, z}, mgl32.QuatRotate(0.5, mgl32.Vec3{0, 1, 0}), mgl32.Vec3{1, 1.5, 1})
	inst.ID = uuid.New()
	inst.Bounds = spatial.AABB{Min: mgl32.Vec3{x - 1, 0, z - 1}, Max: mgl32.Vec3{x + 1, 12, z + 1}}
	return inst
}

func blade(x, z float32) foliage.Instance {
	return foliage.NewInstance(mgl32.Vec3{x, 0.25, z}, mgl32.QuatIdent(), mgl32.Vec3{0.5, 0.5, 0.5})
}

// sample builds two coarse cells with trees under two labels and grass in
// several fine cells.
func sample() *edit.Store {
	s := edit.New(spatial.DefaultGrid())
	s.AddInstances(fir, []foliage.Instance{tree(10, 10), tree(20.5, 30), tree(99, 99)}, false, foliage.LabelPainted)
	s.AddInstances(fir, []foliage.Instance{tree(-50, 150)}, false, foliage.TerrainLabel("Hills"))
	for i := range 40 {
		f := float32(i)
		s.AddInstance(meadow, blade(f*2.5, 7+f), true, foliage.LabelPainted)
	}
	return s
}

type flat struct {
	typeID foliage.TypeID
	label  string
	inst   foliage.Instance
}

// flatten lists every instance in a stable order for comparison.
func flatten(s *edit.Store) []flat {
	var out []flat
	add := func(types map[foliage.TypeID]edit.Labeled) {
		for typeID, l := range types {
			for label, list := range l {
				for _, inst := range list {
					inst.Matrix = mgl32.Mat4{}
					out = append(out, flat{typeID, label, inst})
				}
			}
		}
	}
	for _, c := range s.Cells() {
		add(c.Types)
		for _, sub := range c.Sub {
			add(sub.Types)
		}
	}

	slices.SortFunc(out, func(a, b flat) int {
		return cmp.Or(
			cmp.Compare(a.typeID, b.typeID),
			cmp.Compare(a.label, b.label),
			cmp.Compare(a.inst.Position[0], b.inst.Position[0]),
			cmp.Compare(a.inst.Position[2], b.inst.Position[2]),
		)
	})
	return out
}

func TestEncode_EmptyStoreHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, edit.New(spatial.DefaultGrid()), nil))

	want := []byte{
		0x49, 0x4C, 0x4F, 0x46, 0x54, 0x49, 0x52, 0x43, // magic
		0x02, 0x00, 0x00, 0x00, // version
		0x00, 0x00, 0x00, 0x00, // cells
	}
	assert.Equal(t, want, buf.Bytes())
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		file string
	}{
		{"plain", "foliage.bin"},
		{"zstd", "foliage.bin.zst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := sample()
			want := flatten(src)
			wantCells := make(map[int32]*edit.Cell, src.CellCount())
			for hash, c := range src.Cells() {
				wantCells[hash] = c
			}

			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, Save(path, src, Options{Rand: rand.New(rand.NewPCG(1, 2))}))

			got, err := Load(path)
			require.NoError(t, err)

			assert.Equal(t, want, flatten(got))
			assert.Equal(t, src.InstanceCount(), got.InstanceCount())
			require.Equal(t, len(wantCells), got.CellCount())

			for hash, c := range got.Cells() {
				orig, ok := wantCells[hash]
				require.True(t, ok, "cell %d", hash)
				assert.Equal(t, orig.Bounds, c.Bounds)
				assert.Equal(t, orig.Extended, c.Extended)
				assert.Equal(t, orig.Position, c.Position)
				require.Len(t, c.Sub, len(orig.Sub))
				for subHash, sub := range c.Sub {
					assert.Equal(t, orig.Sub[subHash].Bounds, sub.Bounds)
					assert.Equal(t, orig.Sub[subHash].Position, sub.Position)
				}
			}
		})
	}
}

func TestRoundTrip_FractionalBounds(t *testing.T) {
	local := spatial.AABB{Min: mgl32.Vec3{-0.7, 0.1, -0.7}, Max: mgl32.Vec3{0.7, 11.3, 0.7}}

	src := edit.New(spatial.DefaultGrid())
	want := make(map[uuid.UUID]spatial.AABB)
	for i := range 200 {
		f := float32(i)
		inst := foliage.NewInstance(
			mgl32.Vec3{f*0.37 - 20.3, 0.13 * f, f*0.91 - 40.1},
			mgl32.QuatRotate(f*0.1, mgl32.Vec3{0, 1, 0}),
			mgl32.Vec3{1.1, 0.9 + f*0.001, 1.1},
		)
		inst.ID = uuid.New()
		inst.Bounds = local.Transform(inst.WorldTransform())
		want[inst.ID] = inst.Bounds
		src.AddInstance(fir, inst, false, foliage.LabelPainted)
	}
	wantExtended := make(map[int32]spatial.AABB)
	for hash, c := range src.Cells() {
		wantExtended[hash] = c.Extended
	}

	path := filepath.Join(t.TempDir(), "fractional.bin")
	require.NoError(t, Save(path, src, Options{}))
	got, err := Load(path)
	require.NoError(t, err)

	seen := 0
	for hash, c := range got.Cells() {
		assert.Equal(t, wantExtended[hash], c.Extended, "cell %d", hash)
		for _, list := range c.Types[fir] {
			for _, inst := range list {
				assert.Equal(t, want[inst.ID], inst.Bounds)
				assert.True(t, c.Extended.ContainsBox(inst.Bounds), "cell %d holds %v", hash, inst.Bounds)
				seen++
			}
		}
	}
	assert.Equal(t, 200, seen)
}

// versionOne writes a single tree the version 1 way: bounds as center and
// size, with an extended box too small for the tree.
func versionOne(id uuid.UUID) []byte {
	w := newWriter(256)
	w.writeUint64(Magic)
	w.writeInt32(1)
	w.writeInt32(1)

	cell := spatial.Cell{}
	w.writeInt32(cell.Hash())
	w.writeVec3(mgl32.Vec3{50, 50, 50})
	w.writeVec3(mgl32.Vec3{100, 100, 100})
	w.writeVec3(mgl32.Vec3{50, 50, 50})
	w.writeVec3(mgl32.Vec3{100, 100, 100})
	w.writeCell(cell)

	w.writeInt32(1)
	w.writeInt32(int32(fir))
	w.writeInt32(1)
	w.writeString(foliage.LabelPainted)
	w.writeInt32(1)
	w.writeVec3(mgl32.Vec3{10, 60, 10})
	w.writeVec3(mgl32.Vec3{2, 120, 2})
	w.writeVec3(mgl32.Vec3{10, 0, 10})
	w.writeQuat(mgl32.QuatIdent())
	w.writeVec3(mgl32.Vec3{1, 1, 1})
	w.writeGUID(id)
	w.writeInt32(0)

	return w.buf.Bytes()
}

func TestDecode_VersionOne(t *testing.T) {
	id := uuid.New()
	got, err := Decode(bytes.NewReader(versionOne(id)))
	require.NoError(t, err)
	require.Equal(t, 1, got.InstanceCount())

	c := got.Cells()[spatial.Cell{}.Hash()]
	require.NotNil(t, c)
	assert.Equal(t, spatial.AABB{Max: mgl32.Vec3{100, 100, 100}}, c.Bounds)

	inst := c.Types[fir][foliage.LabelPainted][0]
	assert.Equal(t, id, inst.ID)
	assert.Equal(t, spatial.AABB{Min: mgl32.Vec3{9, 0, 9}, Max: mgl32.Vec3{11, 120, 11}}, inst.Bounds)

	assert.Equal(t, float32(120), c.Extended.Max[1], "extended regrown from the trees")
	assert.True(t, c.Extended.ContainsBox(inst.Bounds))
}

func TestSave_CompressedIsSmaller(t *testing.T) {
	dir := t.TempDir()
	s := edit.New(spatial.DefaultGrid())
	for i := range 2000 {
		s.AddInstance(meadow, blade(float32(i%50), float32(i/50)), true, foliage.LabelPainted)
	}

	plain := filepath.Join(dir, "a.bin")
	packed := filepath.Join(dir, "a.bin.zst")
	require.NoError(t, Save(plain, s, Options{}))
	require.NoError(t, Save(packed, s, Options{}))

	ps, err := os.Stat(plain)
	require.NoError(t, err)
	zs, err := os.Stat(packed)
	require.NoError(t, err)
	assert.Less(t, zs.Size(), ps.Size())
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "foliage.bin")

	require.NoError(t, Save(path, sample(), Options{}))
	require.NoError(t, Save(path, sample(), Options{}))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "foliage.bin", entries[0].Name())
}

func TestEncode_DeterministicWithSeed(t *testing.T) {
	a, b := sample(), sample()
	// Same layout but fresh ids: copy ids over so bytes can match.
	for hash, c := range a.Cells() {
		for typeID, l := range c.Types {
			for label, list := range l {
				copy(b.Cells()[hash].Types[typeID][label], list)
			}
		}
	}

	var bufA, bufB bytes.Buffer
	require.NoError(t, Encode(&bufA, a, rand.New(rand.NewPCG(9, 9))))
	require.NoError(t, Encode(&bufB, b, rand.New(rand.NewPCG(9, 9))))
	assert.Equal(t, bufA.Bytes(), bufB.Bytes())
}

func TestEncode_CompactsFirst(t *testing.T) {
	s := sample()
	s.PutCell(spatial.Cell{X: 9, Y: 9, Z: 9}.Hash(), &edit.Cell{Position: spatial.Cell{X: 9, Y: 9, Z: 9}})
	before := s.CellCount()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, s, nil))
	assert.Equal(t, before-1, s.CellCount())

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, before-1, got.CellCount())
}

func TestDecode_LongLabel(t *testing.T) {
	label := strings.Repeat("terrain-", 40) // 320 bytes, two byte length prefix
	s := edit.New(spatial.DefaultGrid())
	s.AddInstance(fir, tree(1, 1), false, label)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, s, nil))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Contains(t, got.Labels(), label)
}

func TestDecode_BadMagic(t *testing.T) {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data, 0xDEADBEEF)

	_, err := Decode(bytes.NewReader(data))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestDecode_UnsupportedVersion(t *testing.T) {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data, Magic)
	binary.LittleEndian.PutUint32(data[8:], 7)

	_, err := Decode(bytes.NewReader(data))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecode_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sample(), nil))
	full := buf.Bytes()

	for cut := 0; cut < len(full); cut += 7 {
		_, err := Decode(bytes.NewReader(full[:cut]))
		require.Error(t, err, "cut at %d", cut)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF, "cut at %d", cut)
	}
}

func TestDecode_NegativeCount(t *testing.T) {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data, Magic)
	binary.LittleEndian.PutUint32(data[8:], uint32(Version))
	binary.LittleEndian.PutUint32(data[12:], 0xFFFFFFFF)

	_, err := Decode(bytes.NewReader(data))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.bin"))
	require.NoError(t, err)
	assert.Zero(t, s.CellCount())
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.bin")
	require.NoError(t, os.WriteFile(path, []byte("definitely not foliage"), 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestLoadBaked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foliage.bin")
	src := sample()
	require.NoError(t, Save(path, src, Options{}))

	b, err := LoadBaked(path, spatial.DefaultGrid(), baked.Options{BatchSize: 16})
	require.NoError(t, err)
	assert.Equal(t, src.InstanceCount(), b.InstanceCount())
	assert.Equal(t, 4, b.TypeInstanceCount(fir))
	assert.Equal(t, 40, b.TypeInstanceCount(meadow))
}

func TestCompressed(t *testing.T) {
	assert.True(t, Compressed("a/b/foliage.bin.zst"))
	assert.True(t, Compressed("FOLIAGE.ZST"))
	assert.False(t, Compressed("foliage.bin"))
	assert.False(t, Compressed("zst"))
}
