package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Grid defaults.
const (
	// DefaultCellSize is the edge of a coarse (tree) cell in world units.
	DefaultCellSize = 100.0

	// DefaultSubdivisions splits a coarse cell into N×N×N fine (grass) cells.
	// 100 / 5 = 20 units per fine cell.
	DefaultSubdivisions = 5
)

// Hash multipliers. Large odd primes, collisions are possible and not detected.
const (
	hashX = 0xAB1D261
	hashY = 0x16447CD5
	hashZ = 0x4BBF17D
)

// Resolution selects the coarse or the fine grid.
type Resolution uint8

const (
	Coarse Resolution = iota
	Fine
)

func (r Resolution) String() string {
	if r == Fine {
		return "fine"
	}
	return "coarse"
}

// Cell is an integer grid coordinate.
type Cell struct {
	X, Y, Z int32
}

// Hash returns the map key of the cell. Arithmetic wraps at 32 bits.
func (c Cell) Hash() int32 {
	return hashX*c.X + hashY*c.Y + hashZ*c.Z
}

// Grid converts world positions into cells. The zero value is not usable,
// use DefaultGrid or NewGrid.
type Grid struct {
	CellSize     float32
	Subdivisions int
}

// DefaultGrid returns the 100/5 grid.
func DefaultGrid() Grid {
	return Grid{CellSize: DefaultCellSize, Subdivisions: DefaultSubdivisions}
}

// NewGrid builds a grid, falling back to defaults for non-positive values.
func NewGrid(cellSize float32, subdivisions int) Grid {
	g := DefaultGrid()
	if cellSize > 0 {
		g.CellSize = cellSize
	}
	if subdivisions > 0 {
		g.Subdivisions = subdivisions
	}
	return g
}

// FineSize returns the edge of a fine cell.
func (g Grid) FineSize() float32 {
	return g.CellSize / float32(g.Subdivisions)
}

// Size returns the cell edge for the resolution.
func (g Grid) Size(res Resolution) float32 {
	if res == Fine {
		return g.FineSize()
	}
	return g.CellSize
}

// FromWorld returns the cell containing pos. For the fine resolution pos must
// already be local to its coarse cell (see Local).
func (g Grid) FromWorld(pos mgl32.Vec3, res Resolution) Cell {
	size := g.Size(res)
	return Cell{
		X: floorDiv(pos[0], size),
		Y: floorDiv(pos[1], size),
		Z: floorDiv(pos[2], size),
	}
}

// Key is FromWorld(pos, res).Hash().
func (g Grid) Key(pos mgl32.Vec3, res Resolution) int32 {
	return g.FromWorld(pos, res).Hash()
}

// Bounds returns the box covered by the cell. Fine bounds are local to the
// owning coarse cell; add the coarse minimum to get world space.
func (g Grid) Bounds(c Cell, res Resolution) AABB {
	size := g.Size(res)
	min := mgl32.Vec3{float32(c.X) * size, float32(c.Y) * size, float32(c.Z) * size}
	return AABB{Min: min, Max: min.Add(mgl32.Vec3{size, size, size})}
}

// Local converts a world position into the local space of a coarse cell.
func (g Grid) Local(pos mgl32.Vec3, coarse Cell) mgl32.Vec3 {
	return pos.Sub(g.Bounds(coarse, Coarse).Min)
}

// IterateBox visits the hash of every cell overlapping [min, max], both ends
// inclusive.
func (g Grid) IterateBox(min, max mgl32.Vec3, res Resolution, visit func(hash int32)) {
	lo := g.FromWorld(min, res)
	hi := g.FromWorld(max, res)

	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				visit(Cell{X: x, Y: y, Z: z}.Hash())
			}
		}
	}
}

// IterateNeighborhood visits every cell within radius cells (Chebyshev
// distance) of center, center included.
func IterateNeighborhood(center Cell, radius int, visit func(hash int32)) {
	r := int32(radius)
	for x := center.X - r; x <= center.X+r; x++ {
		for y := center.Y - r; y <= center.Y+r; y++ {
			for z := center.Z - r; z <= center.Z+r; z++ {
				visit(Cell{X: x, Y: y, Z: z}.Hash())
			}
		}
	}
}

func floorDiv(v, size float32) int32 {
	return int32(math.Floor(float64(v / size)))
}
