package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"

	"github.com/udisondev/foliage/internal/edit"
	"github.com/udisondev/foliage/internal/foliage"
	"github.com/udisondev/foliage/internal/spatial"
)

// File header. Version 1 stored bounds as center and size; it is still read.
const (
	Magic   uint64 = 0x43524954464F4C49
	Version int32  = 2

	versionCenterSize int32 = 1
)

var (
	ErrBadMagic           = errors.New("not a foliage file")
	ErrUnsupportedVersion = errors.New("unsupported foliage file version")
)

// Minimum encoded sizes, used to reject counts larger than the data.
const (
	treeSize    = 24 + 12 + 16 + 12 + 1 + 16
	grassSize   = 12 + 16 + 12
	cellMinSize = 4 + 24 + 24 + 12 + 4 + 4
	subMinSize  = 4 + 24 + 12 + 4
	typeMinSize = 4 + 4
	labelMin    = 1 + 4
)

// Encode writes s to w. The store is compacted and every instance list is
// shuffled in place first so that density scaling at runtime thins evenly.
// A nil rng uses the global source.
func Encode(w io.Writer, s *edit.Store, rng *rand.Rand) error {
	s.Compact()

	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}

	out := newWriter(64 * 1024)
	out.writeUint64(Magic)
	out.writeInt32(Version)

	cells := s.Cells()
	out.writeInt32(int32(len(cells)))
	for _, hash := range slices.Sorted(maps.Keys(cells)) {
		c := cells[hash]

		out.writeInt32(hash)
		out.writeBounds(c.Bounds)
		out.writeBounds(c.Extended)
		out.writeCell(c.Position)
		writeTypes(out, c.Types, true, shuffle)

		out.writeInt32(int32(len(c.Sub)))
		for _, subHash := range slices.Sorted(maps.Keys(c.Sub)) {
			sub := c.Sub[subHash]

			out.writeInt32(subHash)
			out.writeBounds(sub.Bounds)
			out.writeCell(sub.Position)
			writeTypes(out, sub.Types, false, shuffle)
		}
	}

	if _, err := out.WriteTo(w); err != nil {
		return fmt.Errorf("writing foliage data: %w", err)
	}
	return nil
}

func writeTypes(out *writer, types map[foliage.TypeID]edit.Labeled, tree bool, shuffle func(int, func(int, int))) {
	out.writeInt32(int32(len(types)))
	for _, typeID := range slices.Sorted(maps.Keys(types)) {
		l := types[typeID]

		out.writeInt32(int32(typeID))
		out.writeInt32(int32(len(l)))
		for _, label := range slices.Sorted(maps.Keys(l)) {
			list := l[label]
			shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })

			out.writeString(label)
			out.writeInt32(int32(len(list)))
			for i := range list {
				writeInstance(out, &list[i], tree)
			}
		}
	}
}

func writeInstance(out *writer, inst *foliage.Instance, tree bool) {
	if tree {
		out.writeBounds(inst.Bounds)
	}
	out.writeVec3(inst.Position)
	out.writeQuat(inst.Rotation)
	out.writeVec3(inst.Scale)
	if tree {
		out.writeGUID(inst.ID)
	}
}

// Decode reads a foliage file into an edit store on the default grid.
func Decode(r io.Reader) (*edit.Store, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading foliage data: %w", err)
	}
	return decode(data, spatial.DefaultGrid())
}

func decode(data []byte, grid spatial.Grid) (*edit.Store, error) {
	in := newReader(data)

	magic, err := in.readUint64()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("magic %#x: %w", magic, ErrBadMagic)
	}

	version, err := in.readInt32()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	switch version {
	case Version:
	case versionCenterSize:
		in.centerSize = true
	default:
		return nil, fmt.Errorf("version %d: %w", version, ErrUnsupportedVersion)
	}
	slog.Debug("reading foliage data", "magic", fmt.Sprintf("%#x", magic), "version", version)

	store := edit.New(grid)

	n, err := in.readCount("cell", cellMinSize)
	if err != nil {
		return nil, err
	}
	for range n {
		hash, c, err := readCell(in)
		if err != nil {
			return nil, fmt.Errorf("reading cell: %w", err)
		}
		store.PutCell(hash, c)
	}

	// Stored extended bounds are not trusted to hold every tree.
	store.RecomputeExtended()

	return store, nil
}

func readCell(in *reader) (int32, *edit.Cell, error) {
	hash, err := in.readInt32()
	if err != nil {
		return 0, nil, err
	}

	c := &edit.Cell{}
	if c.Bounds, err = in.readBounds(); err != nil {
		return 0, nil, err
	}
	if c.Extended, err = in.readBounds(); err != nil {
		return 0, nil, err
	}
	if c.Position, err = in.readCell(); err != nil {
		return 0, nil, err
	}
	if c.Types, err = readTypes(in, true); err != nil {
		return 0, nil, err
	}

	subs, err := in.readCount("sub-cell", subMinSize)
	if err != nil {
		return 0, nil, err
	}
	c.Sub = make(map[int32]*edit.SubCell, subs)
	for range subs {
		subHash, err := in.readInt32()
		if err != nil {
			return 0, nil, err
		}

		sub := &edit.SubCell{}
		if sub.Bounds, err = in.readBounds(); err != nil {
			return 0, nil, err
		}
		if sub.Position, err = in.readCell(); err != nil {
			return 0, nil, err
		}
		if sub.Types, err = readTypes(in, false); err != nil {
			return 0, nil, err
		}
		c.Sub[subHash] = sub
	}

	return hash, c, nil
}

func readTypes(in *reader, tree bool) (map[foliage.TypeID]edit.Labeled, error) {
	n, err := in.readCount("type", typeMinSize)
	if err != nil {
		return nil, err
	}

	size := grassSize
	if tree {
		size = treeSize
	}

	types := make(map[foliage.TypeID]edit.Labeled, n)
	for range n {
		typeID, err := in.readInt32()
		if err != nil {
			return nil, err
		}

		labels, err := in.readCount("label", labelMin)
		if err != nil {
			return nil, err
		}

		l := make(edit.Labeled, labels)
		for range labels {
			label, err := in.readString()
			if err != nil {
				return nil, err
			}

			count, err := in.readCount("instance", size)
			if err != nil {
				return nil, err
			}

			list := make([]foliage.Instance, count)
			for i := range list {
				if err := readInstance(in, &list[i], tree); err != nil {
					return nil, err
				}
			}
			l[label] = list
		}
		types[foliage.TypeID(typeID)] = l
	}
	return types, nil
}

func readInstance(in *reader, inst *foliage.Instance, tree bool) error {
	var err error
	if tree {
		if inst.Bounds, err = in.readBounds(); err != nil {
			return err
		}
	}
	if inst.Position, err = in.readVec3(); err != nil {
		return err
	}
	if inst.Rotation, err = in.readQuat(); err != nil {
		return err
	}
	if inst.Scale, err = in.readVec3(); err != nil {
		return err
	}
	if tree {
		if inst.ID, err = in.readGUID(); err != nil {
			return err
		}
	}
	return nil
}
