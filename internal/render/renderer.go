package render

import (
	"log/slog"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/udisondev/foliage/internal/baked"
	"github.com/udisondev/foliage/internal/foliage"
	"github.com/udisondev/foliage/internal/spatial"
)

// Settings tune the renderer.
type Settings struct {
	// DrawInstanced enables instanced draws. Without it trees are drawn one
	// mesh at a time and grass is not drawn at all.
	DrawInstanced bool

	// LightProbes applies to non-instanced tree draws.
	LightProbes bool

	// AllowIndirect globally enables indirect grass for types that ask for it.
	AllowIndirect bool

	// GrassDensity scales grass instance counts, 0.1..1.
	GrassDensity float32

	// Trees within ShadowCorrectionDistance of the camera keep casting
	// shadows after being culled, hiding shadow pop-in.
	ShadowCorrection         bool
	ShadowCorrectionDistance float32

	BatchSize   int
	MaxLODCount int

	CacheMax   int
	CacheEvict int
}

// DefaultSettings returns the stock renderer settings.
func DefaultSettings() Settings {
	return Settings{
		DrawInstanced:            true,
		LightProbes:              true,
		AllowIndirect:            true,
		GrassDensity:             1,
		ShadowCorrection:         true,
		ShadowCorrectionDistance: 40,
		BatchSize:                baked.DefaultBatchSize,
		MaxLODCount:              foliage.MaxLODCount,
		CacheMax:                 1250,
		CacheEvict:               125,
	}
}

func (s Settings) normalized() Settings {
	d := DefaultSettings()
	if s.BatchSize <= 0 {
		s.BatchSize = d.BatchSize
	}
	if s.MaxLODCount <= 0 {
		s.MaxLODCount = d.MaxLODCount
	}
	if s.CacheMax <= 0 {
		s.CacheMax = d.CacheMax
	}
	if s.CacheEvict <= 0 {
		s.CacheEvict = d.CacheEvict
	}
	s.GrassDensity = min(max(s.GrassDensity, 0.1), 1)
	return s
}

// Stats counts the work of one frame.
type Stats struct {
	Visited   int // populated cells found in the neighborhood
	Cells     int // cells within distance and in the frustum
	SubCells  int
	Scanned   int // tree instances distance tested
	Instances int // instances submitted
	DrawCalls int
}

func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("visited", s.Visited),
		slog.Int("cells", s.Cells),
		slog.Int("subcells", s.SubCells),
		slog.Int("scanned", s.Scanned),
		slog.Int("instances", s.Instances),
		slog.Int("drawcalls", s.DrawCalls),
	)
}

type indirectEntry struct {
	positions     Buffer
	args          ArgsBuffer
	indexCount    uint32
	instanceCount uint32
}

func (e *indirectEntry) Release() {
	if e.positions != nil {
		e.positions.Release()
		e.positions = nil
	}
	if e.args != nil {
		e.args.Release()
		e.args = nil
	}
}

// Renderer culls and batches a baked store every frame. Not safe for
// concurrent use; one goroutine renders.
type Renderer struct {
	settings Settings
	device   Device
	store    *baked.Store
	grid     spatial.Grid

	types map[foliage.TypeID]*foliage.Type

	maxGrass, maxGrassSqr float32
	maxTree, maxTreeSqr   float32
	maxAll, maxAllSqr     float32
	neighbors             int

	cache *Cache[int64, *indirectEntry]

	// Per-LOD batch buffers, reused across types and frames.
	lod    [][]mgl32.Mat4
	shadow [][]mgl32.Mat4

	// frame state
	frustum spatial.Frustum
	camPos  mgl32.Vec3
	bendPos mgl32.Vec3
	stats   Stats
}

// New creates a renderer drawing store through device. Call UpdateTypes
// before the first frame.
func New(device Device, store *baked.Store, settings Settings) *Renderer {
	settings = settings.normalized()

	r := &Renderer{
		settings: settings,
		device:   device,
		types:    make(map[foliage.TypeID]*foliage.Type),
		cache:    NewCache[int64, *indirectEntry](settings.CacheMax, settings.CacheEvict),
		lod:      make([][]mgl32.Mat4, settings.MaxLODCount),
		shadow:   make([][]mgl32.Mat4, settings.MaxLODCount),
	}
	for i := range r.lod {
		r.lod[i] = make([]mgl32.Mat4, 0, settings.BatchSize)
		r.shadow[i] = make([]mgl32.Mat4, 0, settings.BatchSize)
	}
	r.SetStore(store)
	return r
}

// SetStore swaps the rendered store. Cached indirect buffers belong to the
// old store and are released.
func (r *Renderer) SetStore(store *baked.Store) {
	r.cache.Dispose()
	r.store = store
	r.grid = spatial.DefaultGrid()
	if store != nil {
		r.grid = store.Grid()
	}
}

func (r *Renderer) Settings() Settings { return r.settings }

// SetGrassDensity changes the global density, clamped to 0.1..1.
func (r *Renderer) SetGrassDensity(d float32) {
	r.settings.GrassDensity = min(max(d, 0.1), 1)
}

// UpdateTypes refreshes the type lookup and the distance limits derived from
// it. Must be called whenever a type's category or max distance changes.
func (r *Renderer) UpdateTypes(types []*foliage.Type) {
	var grass, tree float32

	clear(r.types)
	for _, t := range types {
		if t.IsGrass() {
			grass = max(grass, t.Render.MaxDistance)
		} else {
			tree = max(tree, t.Render.MaxDistance)
		}
		r.types[t.ID] = t
	}

	r.maxGrass = min(max(grass, 0), foliage.MaxGrassDistance)
	r.maxGrassSqr = r.maxGrass * r.maxGrass
	r.maxTree = min(max(tree, 0), foliage.MaxTreeDistance)
	r.maxTreeSqr = r.maxTree * r.maxTree
	r.maxAll = max(r.maxGrass, r.maxTree)
	r.maxAllSqr = r.maxAll * r.maxAll

	r.neighbors = int(math.Ceil(float64(r.maxAll / r.grid.CellSize)))

	slog.Debug("renderer types updated",
		"types", len(types),
		"max_grass", r.maxGrass,
		"max_tree", r.maxTree,
		"neighbors", r.neighbors)
}

// NeighborRadius is the Chebyshev radius, in coarse cells, visited per frame.
func (r *Renderer) NeighborRadius() int { return r.neighbors }

// Render draws one frame. bend is the point grass bends away from; nil uses
// the camera position.
func (r *Renderer) Render(cam Camera, bend *mgl32.Vec3) Stats {
	r.stats = Stats{}
	if r.store == nil || r.store.Len() == 0 {
		return r.stats
	}

	r.frustum = spatial.FrustumFromMatrix(cam.ViewProjection())
	r.camPos = cam.Position()
	r.bendPos = r.camPos
	if bend != nil {
		r.bendPos = *bend
	}

	corrSqr := r.settings.ShadowCorrectionDistance * r.settings.ShadowCorrectionDistance
	center := r.grid.FromWorld(r.camPos, spatial.Coarse)

	spatial.IterateNeighborhood(center, r.neighbors, func(hash int32) {
		c, ok := r.store.Cells[hash]
		if !ok {
			return
		}
		r.stats.Visited++

		distSqr := c.Bounds.SqrDistance(r.camPos)

		if distSqr <= r.maxAllSqr && r.frustum.IntersectsAABB(c.Bounds) {
			if distSqr <= r.maxTreeSqr {
				r.processTrees(c, corrSqr, false)
			}
			if distSqr <= r.maxGrassSqr && r.settings.DrawInstanced {
				r.processGrass(c)
			}
			r.stats.Cells++
		} else if r.settings.ShadowCorrection && distSqr <= corrSqr {
			r.processTrees(c, corrSqr, true)
		}
	})

	return r.stats
}

// processTrees buckets the trees of a cell by LOD and flushes full batches as
// they fill. shadowOnly cells only feed the shadow correction buffers.
func (r *Renderer) processTrees(c *baked.Cell, corrSqr float32, shadowOnly bool) {
	for i := range c.Trees {
		batch := &c.Trees[i]

		t, ok := r.types[batch.Type]
		if !ok || len(t.LODs) == 0 {
			continue
		}
		lods := t.LODs[:min(len(t.LODs), len(r.lod))]

		maxDist := t.Render.MaxDistance
		maxDistSqr := maxDist * maxDist
		params := Params{
			MaxDistance:    maxDist,
			MaxDistanceSqr: maxDistSqr,
			Hue:            t.Render.Hue,
			Color:          t.Render.Color,
		}

		castShadow := t.Render.CastShadow
		shadow := ShadowOff
		if castShadow {
			shadow = ShadowOn
		}

		for l := range lods {
			r.lod[l] = r.lod[l][:0]
			r.shadow[l] = r.shadow[l][:0]
		}

		for j := range batch.Instances {
			inst := &batch.Instances[j]
			dist := inst.SqrDistance(r.camPos)

			if dist <= maxDistSqr && !shadowOnly && r.frustum.IntersectsAABB(inst.Bounds) {
				l := currentLOD(lods, float32(math.Sqrt(float64(dist))))
				r.lod[l] = append(r.lod[l], inst.Matrix)
				if len(r.lod[l]) >= r.settings.BatchSize {
					r.issueLOD(t, r.lod[l], lods[l], params, shadow)
					r.lod[l] = r.lod[l][:0]
				}
			} else if castShadow && r.settings.ShadowCorrection && dist <= corrSqr {
				l := currentLOD(lods, float32(math.Sqrt(float64(dist))))
				r.shadow[l] = append(r.shadow[l], inst.Matrix)
				if len(r.shadow[l]) >= r.settings.BatchSize {
					r.issueLOD(t, r.shadow[l], lods[l], params, ShadowOnly)
					r.shadow[l] = r.shadow[l][:0]
				}
			}
		}

		for l := range lods {
			if len(r.lod[l]) > 0 {
				r.issueLOD(t, r.lod[l], lods[l], params, shadow)
				r.lod[l] = r.lod[l][:0]
			}
			if len(r.shadow[l]) > 0 {
				r.issueLOD(t, r.shadow[l], lods[l], params, ShadowOnly)
				r.shadow[l] = r.shadow[l][:0]
			}
		}

		r.stats.Scanned += len(batch.Instances)
	}
}

// currentLOD returns the first LOD whose end distance exceeds dist, the last
// LOD otherwise.
func currentLOD(lods []foliage.LOD, dist float32) int {
	for i := range lods {
		if dist < lods[i].EndDistance {
			return i
		}
	}
	return len(lods) - 1
}

func (r *Renderer) issueLOD(t *foliage.Type, matrices []mgl32.Mat4, lod foliage.LOD, params Params, shadow ShadowMode) {
	params.LODDistance = lod.EndDistance
	params.LODDistanceSqr = lod.EndDistance * lod.EndDistance

	subs := lod.Mesh.SubMeshCount()
	call := DrawCall{
		Type:   t.ID,
		Mesh:   lod.Mesh,
		Shadow: shadow,
		Params: params,
	}

	if r.settings.DrawInstanced {
		for sub := range subs {
			call.SubMesh = sub
			call.Material = materialAt(lod.Materials, sub)
			r.device.DrawInstanced(call, matrices)
			r.stats.DrawCalls++
		}
	} else {
		call.LightProbes = r.settings.LightProbes
		for sub := range subs {
			call.SubMesh = sub
			call.Material = materialAt(lod.Materials, sub)
			for i := range matrices {
				r.device.DrawMesh(call, matrices[i])
				r.stats.DrawCalls++
			}
		}
	}

	r.stats.Instances += len(matrices)
}

func materialAt(mats []foliage.Material, sub int) foliage.Material {
	if sub < len(mats) {
		return mats[sub]
	}
	if len(mats) > 0 {
		return mats[len(mats)-1]
	}
	return nil
}

func (r *Renderer) processGrass(c *baked.Cell) {
	for _, sub := range c.Sub {
		dist := sub.Bounds.SqrDistance(r.camPos)
		if dist <= r.maxGrassSqr && r.frustum.IntersectsAABB(sub.Bounds) {
			r.processSubCell(c, sub, dist)
			r.stats.SubCells++
		}
	}
}

// IndirectKey is the cache key of the buffers of one grass type in one
// sub-cell.
func IndirectKey(cellHash, subHash int32, typeID foliage.TypeID) int64 {
	return (int64(cellHash)<<32 | int64(subHash)) + int64(typeID)
}

func (r *Renderer) processSubCell(c *baked.Cell, sub *baked.SubCell, dist float32) {
	for i := range sub.Grass {
		batch := &sub.Grass[i]

		t, ok := r.types[batch.Type]
		if !ok || t.Grass.Mesh == nil || len(batch.Chunks) == 0 {
			continue
		}

		maxDistSqr := t.Render.MaxDistance * t.Render.MaxDistance
		if dist > maxDistSqr {
			continue
		}

		params := Params{
			MaxDistance:    t.Render.MaxDistance,
			MaxDistanceSqr: maxDistSqr,
			Hue:            t.Render.Hue,
			Color:          t.Render.Color,
		}
		if t.Bend.Enabled {
			params.Bend = true
			params.BendDistance = t.Bend.Distance
			params.BendPower = t.Bend.Power
			params.BendPosition = r.bendPos
		}

		call := DrawCall{
			Type:     t.ID,
			Mesh:     t.Grass.Mesh,
			Material: t.Grass.Material,
			Params:   params,
		}

		if t.RenderIndirect() && r.settings.AllowIndirect {
			if r.drawIndirect(c, sub, batch, call) {
				continue
			}
		}

		call.Shadow = ShadowOff
		if t.Render.CastShadow {
			call.Shadow = ShadowOn
		}
		for _, chunk := range batch.Chunks {
			n := int(float32(len(chunk)) * r.settings.GrassDensity)
			if n == 0 {
				continue
			}
			r.device.DrawInstanced(call, chunk[:n])
			r.stats.DrawCalls++
			r.stats.Instances += n
		}
	}
}

// drawIndirect draws a grass batch from cached GPU buffers, building them on
// a miss. Returns false when the buffers could not be created so the caller
// falls back to instanced draws.
func (r *Renderer) drawIndirect(c *baked.Cell, sub *baked.SubCell, batch *baked.GrassBatch, call DrawCall) bool {
	key := IndirectKey(c.Hash, sub.Hash, batch.Type)

	entry, ok := r.cache.Get(key)
	if !ok {
		var err error
		entry, err = r.buildIndirect(batch, call.Mesh)
		if err != nil {
			slog.Warn("indirect buffers unavailable, drawing instanced", "type", batch.Type, "err", err)
			return false
		}
		r.cache.Add(key, entry)
	}

	count := uint32(float32(entry.instanceCount) * r.settings.GrassDensity)
	entry.args.SetArgs([5]uint32{entry.indexCount, count, 0, 0, 0})

	call.Params.Instances = entry.positions
	call.Shadow = ShadowOff
	r.device.DrawIndirect(call, sub.Bounds, entry.args)
	r.stats.DrawCalls++
	r.stats.Instances += int(count)
	return true
}

func (r *Renderer) buildIndirect(batch *baked.GrassBatch, mesh foliage.Mesh) (*indirectEntry, error) {
	all := batch.Chunks[0]
	if len(batch.Chunks) > 1 {
		all = make([]mgl32.Mat4, 0, batch.Count())
		for _, chunk := range batch.Chunks {
			all = append(all, chunk...)
		}
	}

	positions, err := r.device.NewInstanceBuffer(all)
	if err != nil {
		return nil, err
	}
	args, err := r.device.NewArgsBuffer()
	if err != nil {
		positions.Release()
		return nil, err
	}

	return &indirectEntry{
		positions:     positions,
		args:          args,
		indexCount:    mesh.IndexCount(0),
		instanceCount: uint32(len(all)),
	}, nil
}

// CachedBuffers returns the number of indirect entries held.
func (r *Renderer) CachedBuffers() int { return r.cache.Len() }

// Close releases every cached GPU buffer. Idempotent.
func (r *Renderer) Close() {
	r.cache.Dispose()
}
