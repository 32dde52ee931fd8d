package baked

import (
	"slices"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/udisondev/foliage/internal/foliage"
	"github.com/udisondev/foliage/internal/spatial"
)

// TreeBatch holds every tree of one type in a cell, matrices prebuilt.
type TreeBatch struct {
	Type      foliage.TypeID
	Instances []foliage.Instance
}

// GrassBatch holds the grass matrices of one type in a sub-cell, split into
// chunks no larger than the batch size.
type GrassBatch struct {
	Type   foliage.TypeID
	Chunks [][]mgl32.Mat4
}

// Count returns the number of matrices across all chunks.
func (g *GrassBatch) Count() int {
	n := 0
	for _, c := range g.Chunks {
		n += len(c)
	}
	return n
}

// SubCell is a baked fine cell. Bounds are world space.
type SubCell struct {
	Hash     int32
	Bounds   spatial.AABB
	Position spatial.Cell
	Grass    []GrassBatch
}

// Cell is a baked coarse cell. Bounds are the extended bounds of the edit
// cell, so culling accounts for trees hanging over the cell border.
type Cell struct {
	Hash     int32
	Bounds   spatial.AABB
	Position spatial.Cell
	Trees    []TreeBatch
	Sub      []*SubCell
}

// Store is the render-ready snapshot. Mutations after baking are limited to
// adding and removing trees.
type Store struct {
	grid  spatial.Grid
	Cells map[int32]*Cell
}

func New(grid spatial.Grid) *Store {
	return &Store{grid: grid, Cells: make(map[int32]*Cell)}
}

func (s *Store) Grid() spatial.Grid { return s.grid }

func (s *Store) Len() int { return len(s.Cells) }

// Cell returns the cell with the hash or nil.
func (s *Store) Cell(hash int32) *Cell {
	return s.Cells[hash]
}

// InstanceCount returns trees plus grass matrices.
func (s *Store) InstanceCount() int {
	n := 0
	for _, c := range s.Cells {
		for i := range c.Trees {
			n += len(c.Trees[i].Instances)
		}
		for _, sub := range c.Sub {
			for i := range sub.Grass {
				n += sub.Grass[i].Count()
			}
		}
	}
	return n
}

// TypeInstanceCount returns the instance count of one type.
func (s *Store) TypeInstanceCount(typeID foliage.TypeID) int {
	n := 0
	for _, c := range s.Cells {
		for i := range c.Trees {
			if c.Trees[i].Type == typeID {
				n += len(c.Trees[i].Instances)
			}
		}
		for _, sub := range c.Sub {
			for i := range sub.Grass {
				if sub.Grass[i].Type == typeID {
					n += sub.Grass[i].Count()
				}
			}
		}
	}
	return n
}

// AddTreeInstance appends a prepared tree. The instance must carry its world
// bounds and matrix (see foliage.Type.Prepare). A cell created here starts
// with its nominal bounds; every added tree grows them.
func (s *Store) AddTreeInstance(typeID foliage.TypeID, inst foliage.Instance) {
	pc := s.grid.FromWorld(inst.Position, spatial.Coarse)
	hash := pc.Hash()

	c, ok := s.Cells[hash]
	if !ok {
		c = &Cell{
			Hash:     hash,
			Bounds:   s.grid.Bounds(pc, spatial.Coarse),
			Position: pc,
			Trees:    []TreeBatch{},
			Sub:      []*SubCell{},
		}
		s.Cells[hash] = c
	}

	idx := slices.IndexFunc(c.Trees, func(b TreeBatch) bool { return b.Type == typeID })
	if idx < 0 {
		c.Trees = append(c.Trees, TreeBatch{Type: typeID})
		idx = len(c.Trees) - 1
	}

	c.Trees[idx].Instances = append(c.Trees[idx].Instances, inst)
	c.Bounds = c.Bounds.Encapsulate(inst.Bounds)
}

// RemoveByGUID removes the tree with the id from every cell regardless of type.
// Slowest variant.
func (s *Store) RemoveByGUID(id uuid.UUID) bool {
	removed := false
	for _, c := range s.Cells {
		if c.removeTree(id, func(foliage.TypeID) bool { return true }) {
			removed = true
		}
	}
	return removed
}

// RemoveByTypeGUID removes the tree from every cell, looking only at the
// batches of typeID.
func (s *Store) RemoveByTypeGUID(typeID foliage.TypeID, id uuid.UUID) bool {
	removed := false
	for _, c := range s.Cells {
		if c.removeTree(id, func(t foliage.TypeID) bool { return t == typeID }) {
			removed = true
		}
	}
	return removed
}

// RemoveByTypeGUIDAt removes the tree from the single cell containing pos.
// Fastest variant.
func (s *Store) RemoveByTypeGUIDAt(typeID foliage.TypeID, id uuid.UUID, pos mgl32.Vec3) bool {
	c, ok := s.Cells[s.grid.Key(pos, spatial.Coarse)]
	if !ok {
		return false
	}
	return c.removeTree(id, func(t foliage.TypeID) bool { return t == typeID })
}

// removeTree rebuilds each matching batch without the id. The old slice is
// left untouched so a frame still holding it sees consistent data.
func (c *Cell) removeTree(id uuid.UUID, match func(foliage.TypeID) bool) bool {
	removed := false
	for i := range c.Trees {
		b := &c.Trees[i]
		if !match(b.Type) || !slices.ContainsFunc(b.Instances, func(inst foliage.Instance) bool { return inst.ID == id }) {
			continue
		}

		kept := make([]foliage.Instance, 0, len(b.Instances)-1)
		for _, inst := range b.Instances {
			if inst.ID != id {
				kept = append(kept, inst)
			}
		}
		b.Instances = kept
		removed = true
	}
	return removed
}
