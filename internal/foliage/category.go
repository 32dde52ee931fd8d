package foliage

import (
	"fmt"
	"strings"
)

// Category classifies a foliage type. Grass vs tree and SpeedTree vs generic
// are derived from the tag, never stored next to it.
type Category uint8

const (
	TreeGeneric Category = iota
	TreeSpeedTree
	TreeSpeedTreeBillboard
	GrassGeneric
	GrassSpeedTree
)

var categoryNames = [...]string{
	TreeGeneric:            "tree",
	TreeSpeedTree:          "speedtree_tree",
	TreeSpeedTreeBillboard: "speedtree_billboard",
	GrassGeneric:           "grass",
	GrassSpeedTree:         "speedtree_grass",
}

// IsGrass reports whether instances live in the fine (sub-cell) grid.
func (c Category) IsGrass() bool {
	return c == GrassGeneric || c == GrassSpeedTree
}

// IsTree reports whether instances live in the coarse grid.
func (c Category) IsTree() bool {
	return c.Valid() && !c.IsGrass()
}

func (c Category) IsSpeedTree() bool {
	return c == TreeSpeedTree || c == TreeSpeedTreeBillboard || c == GrassSpeedTree
}

// HasBillboard reports whether the type draws a per-cell billboard mesh.
func (c Category) HasBillboard() bool {
	return c == TreeSpeedTreeBillboard
}

func (c Category) Valid() bool {
	return int(c) < len(categoryNames)
}

func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("category(%d)", uint8(c))
	}
	return categoryNames[c]
}

// ParseCategory parses the String form of a category.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range categoryNames {
		if name == s {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown foliage category %q", s)
}

// RenderMode selects how a type is submitted to the GPU.
type RenderMode uint8

const (
	// Instanced issues one instanced draw per batch.
	Instanced RenderMode = iota
	// InstancedIndirect keeps the instance data in a cached GPU buffer and
	// issues one indirect draw per sub-cell. Grass only.
	InstancedIndirect
)

func (m RenderMode) String() string {
	switch m {
	case Instanced:
		return "instanced"
	case InstancedIndirect:
		return "indirect"
	default:
		return fmt.Sprintf("render_mode(%d)", uint8(m))
	}
}

// ParseRenderMode parses the String form of a render mode. Empty means Instanced.
func ParseRenderMode(s string) (RenderMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "instanced":
		return Instanced, nil
	case "indirect", "instanced_indirect":
		return InstancedIndirect, nil
	default:
		return 0, fmt.Errorf("unknown render mode %q", s)
	}
}
