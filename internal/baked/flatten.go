package baked

import (
	"log/slog"
	"math/rand/v2"
	"slices"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/udisondev/foliage/internal/edit"
	"github.com/udisondev/foliage/internal/foliage"
)

// DefaultBatchSize is the largest instanced draw the renderer issues.
const DefaultBatchSize = 1000

// Options tune Flatten.
type Options struct {
	// BatchSize splits grass into chunks. Zero means DefaultBatchSize.
	BatchSize int

	// Rand shuffles merged lists so density scaling drops instances evenly
	// instead of whatever was painted last. Nil uses the global source.
	Rand *rand.Rand
}

func (o Options) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

func (o Options) shuffle(n int, swap func(i, j int)) {
	if o.Rand != nil {
		o.Rand.Shuffle(n, swap)
		return
	}
	rand.Shuffle(n, swap)
}

// Flatten builds the runtime store from an edit store. Labels are merged,
// trees get their matrices built, grass is reduced to matrices and chunked.
// The edit store is not modified.
func Flatten(src *edit.Store, opts Options) *Store {
	batch := opts.batchSize()
	out := New(src.Grid())

	for hash, ec := range src.Cells() {
		c := &Cell{
			Hash:     hash,
			Bounds:   ec.Extended,
			Position: ec.Position,
			Trees:    make([]TreeBatch, 0, len(ec.Types)),
			Sub:      make([]*SubCell, 0, len(ec.Sub)),
		}

		for _, typeID := range sortedTypes(ec.Types) {
			insts := merge(ec.Types[typeID])
			if len(insts) == 0 {
				continue
			}
			opts.shuffle(len(insts), func(i, j int) { insts[i], insts[j] = insts[j], insts[i] })
			for i := range insts {
				insts[i].BuildMatrix()
			}
			c.Trees = append(c.Trees, TreeBatch{Type: typeID, Instances: insts})
		}

		for subHash, es := range ec.Sub {
			sub := &SubCell{
				Hash:     subHash,
				Bounds:   es.Bounds,
				Position: es.Position,
				Grass:    make([]GrassBatch, 0, len(es.Types)),
			}

			for _, typeID := range sortedTypes(es.Types) {
				insts := merge(es.Types[typeID])
				if len(insts) == 0 {
					continue
				}
				opts.shuffle(len(insts), func(i, j int) { insts[i], insts[j] = insts[j], insts[i] })
				sub.Grass = append(sub.Grass, GrassBatch{Type: typeID, Chunks: chunk(insts, batch)})
			}

			if len(sub.Grass) > 0 {
				c.Sub = append(c.Sub, sub)
			}
		}

		out.Cells[hash] = c
	}

	slog.Debug("flattened foliage", "cells", out.Len(), "instances", out.InstanceCount())
	return out
}

// merge concatenates every label list into a fresh slice.
func merge(l edit.Labeled) []foliage.Instance {
	n := 0
	for _, list := range l {
		n += len(list)
	}
	out := make([]foliage.Instance, 0, n)
	for _, list := range l {
		out = append(out, list...)
	}
	return out
}

// chunk returns ceil(len/size) matrix slices.
func chunk(insts []foliage.Instance, size int) [][]mgl32.Mat4 {
	chunks := make([][]mgl32.Mat4, 0, (len(insts)+size-1)/size)
	for start := 0; start < len(insts); start += size {
		end := min(start+size, len(insts))
		m := make([]mgl32.Mat4, end-start)
		for i := start; i < end; i++ {
			m[i-start] = insts[i].WorldTransform()
		}
		chunks = append(chunks, m)
	}
	return chunks
}

func sortedTypes(types map[foliage.TypeID]edit.Labeled) []foliage.TypeID {
	ids := make([]foliage.TypeID, 0, len(types))
	for id := range types {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
