package edit

import (
	"log/slog"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/udisondev/foliage/internal/foliage"
	"github.com/udisondev/foliage/internal/spatial"
)

// DefaultEraseRadius is the radius used when removing instances at a point
// without an explicit brush size (30cm position delta).
const DefaultEraseRadius = 0.3

// Labeled groups instances of one type by provenance label.
type Labeled map[string][]foliage.Instance

// count returns the number of instances across all labels.
func (l Labeled) count() int {
	n := 0
	for _, list := range l {
		n += len(list)
	}
	return n
}

// SubCell is a fine grid cell holding grass. Bounds are in world space.
type SubCell struct {
	Bounds   spatial.AABB
	Position spatial.Cell // local to the owning coarse cell
	Types    map[foliage.TypeID]Labeled
}

// Cell is a coarse grid cell. Trees live directly in Types, grass lives in
// the fine sub-cells.
type Cell struct {
	Bounds   spatial.AABB
	Extended spatial.AABB // Bounds grown by every tree's world bounds
	Position spatial.Cell
	Types    map[foliage.TypeID]Labeled
	Sub      map[int32]*SubCell
}

// Store is the authoring-side hierarchy: coarse cell → type → label → instances,
// plus coarse cell → fine cell → type → label → instances for grass.
// Not safe for concurrent use.
type Store struct {
	grid  spatial.Grid
	cells map[int32]*Cell
}

// New creates an empty store on the given grid.
func New(grid spatial.Grid) *Store {
	return &Store{
		grid:  grid,
		cells: make(map[int32]*Cell),
	}
}

func (s *Store) Grid() spatial.Grid {
	return s.grid
}

// Cells exposes the coarse cells keyed by hash. Callers must not add or
// remove entries.
func (s *Store) Cells() map[int32]*Cell {
	return s.cells
}

func (s *Store) CellCount() int {
	return len(s.cells)
}

// PutCell installs a fully formed cell. Used by decoders.
func (s *Store) PutCell(hash int32, c *Cell) {
	if c.Types == nil {
		c.Types = make(map[foliage.TypeID]Labeled)
	}
	if c.Sub == nil {
		c.Sub = make(map[int32]*SubCell)
	}
	s.cells[hash] = c
}

func (s *Store) cellAt(pos mgl32.Vec3) (int32, *Cell) {
	pc := s.grid.FromWorld(pos, spatial.Coarse)
	hash := pc.Hash()

	c, ok := s.cells[hash]
	if !ok {
		bounds := s.grid.Bounds(pc, spatial.Coarse)
		c = &Cell{
			Bounds:   bounds,
			Extended: bounds,
			Position: pc,
			Types:    make(map[foliage.TypeID]Labeled),
			Sub:      make(map[int32]*SubCell),
		}
		s.cells[hash] = c
	}
	return hash, c
}

// AddInstance places inst into the hierarchy. Grass goes to the fine cell
// computed from the cell-local position; trees go to the coarse cell and grow
// its extended bounds.
func (s *Store) AddInstance(typeID foliage.TypeID, inst foliage.Instance, grass bool, label string) {
	_, c := s.cellAt(inst.Position)

	if !grass {
		appendLabeled(c.Types, typeID, label, inst)
		c.Extended = c.Extended.Encapsulate(inst.Bounds)
		return
	}

	local := s.grid.Local(inst.Position, c.Position)
	fc := s.grid.FromWorld(local, spatial.Fine)
	subHash := fc.Hash()

	sub, ok := c.Sub[subHash]
	if !ok {
		lb := s.grid.Bounds(fc, spatial.Fine)
		sub = &SubCell{
			Bounds: spatial.AABB{
				Min: lb.Min.Add(c.Bounds.Min),
				Max: lb.Max.Add(c.Bounds.Min),
			},
			Position: fc,
			Types:    make(map[foliage.TypeID]Labeled),
		}
		c.Sub[subHash] = sub
	}
	appendLabeled(sub.Types, typeID, label, inst)
}

// AddInstances adds every instance under the same label.
func (s *Store) AddInstances(typeID foliage.TypeID, insts []foliage.Instance, grass bool, label string) {
	for i := range insts {
		s.AddInstance(typeID, insts[i], grass, label)
	}
}

func appendLabeled(types map[foliage.TypeID]Labeled, typeID foliage.TypeID, label string, inst foliage.Instance) {
	l, ok := types[typeID]
	if !ok {
		l = make(Labeled)
		types[typeID] = l
	}
	l[label] = append(l[label], inst)
}

// RemoveInstancesNear removes every instance of the type whose position lies
// strictly within radius of pos, trees and grass alike. Reports whether
// anything was removed.
func (s *Store) RemoveInstancesNear(typeID foliage.TypeID, pos mgl32.Vec3, radius float32) bool {
	ext := mgl32.Vec3{radius, radius, radius}
	lo, hi := pos.Sub(ext), pos.Add(ext)
	limit := radius * radius

	removed := false

	s.grid.IterateBox(lo, hi, spatial.Coarse, func(hash int32) {
		c, ok := s.cells[hash]
		if !ok {
			return
		}

		if l, ok := c.Types[typeID]; ok {
			if removeWithin(l, pos, limit) {
				removed = true
			}
		}

		s.grid.IterateBox(s.grid.Local(lo, c.Position), s.grid.Local(hi, c.Position), spatial.Fine, func(subHash int32) {
			sub, ok := c.Sub[subHash]
			if !ok {
				return
			}
			if l, ok := sub.Types[typeID]; ok {
				if removeWithin(l, pos, limit) {
					removed = true
				}
			}
			pruneTypes(sub.Types)
			if len(sub.Types) == 0 {
				delete(c.Sub, subHash)
			}
		})

		pruneTypes(c.Types)
		if c.empty() {
			delete(s.cells, hash)
		}
	})

	if removed {
		s.RecomputeExtended()
	}
	return removed
}

// removeWithin drops the instances strictly closer than sqrt(limit) to pos,
// preserving the order of the rest.
func removeWithin(l Labeled, pos mgl32.Vec3, limit float32) bool {
	removed := false
	for label, list := range l {
		kept := list[:0]
		for i := range list {
			if list[i].SqrDistance(pos) < limit {
				removed = true
				continue
			}
			kept = append(kept, list[i])
		}
		clear(list[len(kept):])
		l[label] = kept
	}
	return removed
}

// RemoveInstanceByGUID removes the first tree of the type with the id from
// the coarse cell containing pos. Grass carries no ids and is never matched.
func (s *Store) RemoveInstanceByGUID(typeID foliage.TypeID, pos mgl32.Vec3, id uuid.UUID) bool {
	hash := s.grid.Key(pos, spatial.Coarse)
	c, ok := s.cells[hash]
	if !ok {
		return false
	}

	removed := false
	if l, ok := c.Types[typeID]; ok {
	search:
		for label, list := range l {
			for i := range list {
				if list[i].ID == id {
					l[label] = append(list[:i], list[i+1:]...)
					removed = true
					break search
				}
			}
		}
	}

	pruneTypes(c.Types)
	if c.empty() {
		delete(s.cells, hash)
	}

	if removed {
		s.RecomputeExtended()
	}
	return removed
}

// RemoveAllOfType drops the type from every cell and sub-cell.
func (s *Store) RemoveAllOfType(typeID foliage.TypeID) bool {
	purged := 0
	for _, c := range s.cells {
		if _, ok := c.Types[typeID]; ok {
			delete(c.Types, typeID)
			purged++
		}
		for _, sub := range c.Sub {
			if _, ok := sub.Types[typeID]; ok {
				delete(sub.Types, typeID)
				purged++
			}
		}
	}

	if purged == 0 {
		return false
	}

	slog.Debug("removed foliage type", "type", typeID, "cells", purged)
	s.Compact()
	s.RecomputeExtended()
	return true
}

// RebuildHierarchyForType moves every instance of the type into the grid
// matching grass, keeping labels. Used when a type switches between tree and
// grass. Returns the number of instances relocated.
func (s *Store) RebuildHierarchyForType(typeID foliage.TypeID, grass bool) int {
	collected := make(Labeled)
	for _, c := range s.cells {
		for label, list := range c.Types[typeID] {
			collected[label] = append(collected[label], list...)
		}
		for _, sub := range c.Sub {
			for label, list := range sub.Types[typeID] {
				collected[label] = append(collected[label], list...)
			}
		}
	}

	if len(collected) == 0 {
		return 0
	}

	s.RemoveAllOfType(typeID)

	n := 0
	for label, list := range collected {
		n += len(list)
		s.AddInstances(typeID, list, grass, label)
	}

	slog.Debug("relocated foliage type", "type", typeID, "grass", grass, "instances", n)
	return n
}

// CollectByLabel gathers the instances tagged with label, grouped by type.
// The returned slices are copies.
func (s *Store) CollectByLabel(label string) map[foliage.TypeID][]foliage.Instance {
	out := make(map[foliage.TypeID][]foliage.Instance)
	collect := func(types map[foliage.TypeID]Labeled) {
		for typeID, l := range types {
			if list := l[label]; len(list) > 0 {
				out[typeID] = append(out[typeID], list...)
			}
		}
	}

	for _, c := range s.cells {
		collect(c.Types)
		for _, sub := range c.Sub {
			collect(sub.Types)
		}
	}
	return out
}

// RemoveAllWithLabel drops every instance tagged with label.
func (s *Store) RemoveAllWithLabel(label string) bool {
	return s.removeLabel(label, func(foliage.TypeID) bool { return true })
}

// RemoveLabelOfType drops the instances of one type tagged with label.
// Other types keep theirs.
func (s *Store) RemoveLabelOfType(typeID foliage.TypeID, label string) bool {
	return s.removeLabel(label, func(id foliage.TypeID) bool { return id == typeID })
}

func (s *Store) removeLabel(label string, match func(foliage.TypeID) bool) bool {
	removed := false
	drop := func(types map[foliage.TypeID]Labeled) {
		for typeID, l := range types {
			if !match(typeID) {
				continue
			}
			if _, ok := l[label]; ok {
				delete(l, label)
				removed = true
			}
		}
	}

	for _, c := range s.cells {
		drop(c.Types)
		for _, sub := range c.Sub {
			drop(sub.Types)
		}
	}

	if removed {
		s.Compact()
		s.RecomputeExtended()
	}
	return removed
}

// Compact removes empty labels, types, sub-cells and cells. Returns how many
// cells and sub-cells were dropped. Idempotent.
func (s *Store) Compact() (cells, subCells int) {
	for hash, c := range s.cells {
		pruneTypes(c.Types)
		for subHash, sub := range c.Sub {
			pruneTypes(sub.Types)
			if len(sub.Types) == 0 {
				delete(c.Sub, subHash)
				subCells++
			}
		}
		if c.empty() {
			delete(s.cells, hash)
			cells++
		}
	}

	if cells > 0 || subCells > 0 {
		slog.Debug("compacted foliage store", "cells", cells, "subcells", subCells)
	}
	return cells, subCells
}

// pruneTypes drops empty label lists and then types with no labels left.
func pruneTypes(types map[foliage.TypeID]Labeled) {
	for typeID, l := range types {
		for label, list := range l {
			if len(list) == 0 {
				delete(l, label)
			}
		}
		if len(l) == 0 {
			delete(types, typeID)
		}
	}
}

func (c *Cell) empty() bool {
	for _, sub := range c.Sub {
		for _, l := range sub.Types {
			if l.count() > 0 {
				return false
			}
		}
	}
	for _, l := range c.Types {
		if l.count() > 0 {
			return false
		}
	}
	return true
}

// RecomputeExtended resets every cell's extended bounds to its nominal bounds
// and regrows them from the remaining trees.
func (s *Store) RecomputeExtended() {
	for _, c := range s.cells {
		c.Extended = c.Bounds
		for _, l := range c.Types {
			for _, list := range l {
				for i := range list {
					c.Extended = c.Extended.Encapsulate(list[i].Bounds)
				}
			}
		}
	}
}

// InstanceCount returns the number of instances in the store.
func (s *Store) InstanceCount() int {
	n := 0
	for _, c := range s.cells {
		for _, l := range c.Types {
			n += l.count()
		}
		for _, sub := range c.Sub {
			for _, l := range sub.Types {
				n += l.count()
			}
		}
	}
	return n
}

// TypeInstanceCount returns the number of instances of one type.
func (s *Store) TypeInstanceCount(typeID foliage.TypeID) int {
	n := 0
	for _, c := range s.cells {
		n += c.Types[typeID].count()
		for _, sub := range c.Sub {
			n += sub.Types[typeID].count()
		}
	}
	return n
}

// CountNear counts instances of every type strictly within radius of pos.
// grass selects the fine grid, otherwise trees are counted.
func (s *Store) CountNear(pos mgl32.Vec3, radius float32, grass bool) int {
	ext := mgl32.Vec3{radius, radius, radius}
	lo, hi := pos.Sub(ext), pos.Add(ext)
	limit := radius * radius

	count := func(types map[foliage.TypeID]Labeled) int {
		n := 0
		for _, l := range types {
			for _, list := range l {
				for i := range list {
					if list[i].SqrDistance(pos) < limit {
						n++
					}
				}
			}
		}
		return n
	}

	n := 0
	s.grid.IterateBox(lo, hi, spatial.Coarse, func(hash int32) {
		c, ok := s.cells[hash]
		if !ok {
			return
		}
		if !grass {
			n += count(c.Types)
			return
		}
		s.grid.IterateBox(s.grid.Local(lo, c.Position), s.grid.Local(hi, c.Position), spatial.Fine, func(subHash int32) {
			if sub, ok := c.Sub[subHash]; ok {
				n += count(sub.Types)
			}
		})
	})
	return n
}

// TypeIDs returns the set of types that have data in the store.
func (s *Store) TypeIDs() map[foliage.TypeID]struct{} {
	out := make(map[foliage.TypeID]struct{})
	for _, c := range s.cells {
		for typeID := range c.Types {
			out[typeID] = struct{}{}
		}
		for _, sub := range c.Sub {
			for typeID := range sub.Types {
				out[typeID] = struct{}{}
			}
		}
	}
	return out
}

// Labels returns the set of labels in use.
func (s *Store) Labels() map[string]struct{} {
	out := make(map[string]struct{})
	add := func(types map[foliage.TypeID]Labeled) {
		for _, l := range types {
			for label := range l {
				out[label] = struct{}{}
			}
		}
	}
	for _, c := range s.cells {
		add(c.Types)
		for _, sub := range c.Sub {
			add(sub.Types)
		}
	}
	return out
}
