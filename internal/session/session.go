// Package session is the authoring side of the foliage system: it owns the
// edit store and the type registry, keeps the UI caches, and decides when
// billboards are regenerated and the data is written back to disk.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/udisondev/foliage/internal/baked"
	"github.com/udisondev/foliage/internal/edit"
	"github.com/udisondev/foliage/internal/foliage"
	"github.com/udisondev/foliage/internal/spatial"
	"github.com/udisondev/foliage/internal/storage"
)

// Scheduler defaults.
const (
	DefaultUpdateDelay   = 500 * time.Millisecond
	DefaultAutosaveDelay = 5 * time.Second
)

var (
	ErrUnknownType = errors.New("unknown foliage type")
	ErrNoFile      = errors.New("session has no foliage file")
)

// BillboardBuilder regenerates per-cell tree billboards.
type BillboardBuilder interface {
	// Regenerate rebuilds the billboards of the given coarse cells. A nil
	// cell was emptied and its billboards must be dropped.
	Regenerate(cells map[int32]*edit.Cell, types map[foliage.TypeID]*foliage.Type)
}

type nopBillboards struct{}

func (nopBillboards) Regenerate(map[int32]*edit.Cell, map[foliage.TypeID]*foliage.Type) {}

// Options configure a Session.
type Options struct {
	Grid spatial.Grid

	// File is where Save, Load and autosave read and write. Empty disables
	// autosave.
	File    string
	Storage storage.Options

	UpdateDelay   time.Duration
	AutosaveDelay time.Duration

	Billboards BillboardBuilder
	Rand       *rand.Rand
}

// DefaultOptions returns the default grid and scheduler delays for file.
func DefaultOptions(file string) Options {
	return Options{
		Grid:          spatial.DefaultGrid(),
		File:          file,
		UpdateDelay:   DefaultUpdateDelay,
		AutosaveDelay: DefaultAutosaveDelay,
	}
}

// Session serializes every edit behind one mutex.
type Session struct {
	mu sync.Mutex

	opts       Options
	store      *edit.Store
	types      *foliage.Registry
	billboards BillboardBuilder
	rng        *rand.Rand

	painting     bool
	paintedTypes map[foliage.TypeID]struct{}

	// Cells whose billboards are stale; nil values are never stored here.
	pendingCells map[int32]struct{}
	pendingAll   bool

	counts map[foliage.TypeID]int
	labels []string // nil when stale

	update   debouncer
	autosave debouncer
}

// New creates a session with an empty store.
func New(opts Options) *Session {
	if opts.Grid.CellSize <= 0 {
		opts.Grid = spatial.DefaultGrid()
	}

	s := &Session{
		opts:         opts,
		store:        edit.New(opts.Grid),
		types:        foliage.NewRegistry(),
		billboards:   opts.Billboards,
		rng:          opts.Rand,
		paintedTypes: make(map[foliage.TypeID]struct{}),
		pendingCells: make(map[int32]struct{}),
		counts:       make(map[foliage.TypeID]int),
		update:       newDebouncer(opts.UpdateDelay),
		autosave:     newDebouncer(opts.AutosaveDelay),
	}
	if s.billboards == nil {
		s.billboards = nopBillboards{}
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s
}

// Open creates a session and loads its file. Load errors are returned with
// the session still usable on an empty store.
func Open(opts Options) (*Session, error) {
	s := New(opts)
	if opts.File == "" {
		return s, nil
	}
	return s, s.Load()
}

// Types returns the registered types sorted by name.
func (s *Session) Types() []*foliage.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.types.All()
}

func (s *Session) Type(id foliage.TypeID) (*foliage.Type, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.types.Get(id)
}

// AddType registers a type. When a type with the same name exists its id is
// returned unchanged. lods may be nil for types that are never rendered by
// this process.
func (s *Session) AddType(b foliage.Builder, lods []foliage.LODSource) (foliage.TypeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := foliage.IDFromName(b.Name)
	if existing, ok := s.types.Get(id); ok {
		slog.Warn("foliage type already registered", "type", existing.Name, "id", id)
		return id, nil
	}

	t := b.Build()
	if lods != nil {
		if err := t.BuildLODs(lods); err != nil {
			return 0, fmt.Errorf("adding type %s: %w", b.Name, err)
		}
	}
	s.types.Put(t)

	slog.Info("foliage type added", "type", t.Name, "id", id, "category", t.Category())
	return id, nil
}

// PutType registers an already built type, replacing one with the same id.
func (s *Session) PutType(t *foliage.Type) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types.Put(t)
	delete(s.counts, t.ID)
}

// RemoveType drops every instance of the type and, if deleteType is set, the
// type itself.
func (s *Session) RemoveType(id foliage.TypeID, deleteType bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.store.RemoveAllOfType(id)
	if deleteType && s.types.Remove(id) {
		slog.Info("foliage type removed", "id", id)
	}

	delete(s.counts, id)
	s.labels = nil
	s.pendingAll = true
	if removed {
		s.markDirty()
	}
}

// lookup returns the type or logs and wraps ErrUnknownType.
func (s *Session) lookup(id foliage.TypeID, op string) (*foliage.Type, error) {
	t, ok := s.types.Get(id)
	if !ok {
		slog.Error("foliage type not found", "op", op, "id", id)
		return nil, fmt.Errorf("%s %d: %w", op, id, ErrUnknownType)
	}
	return t, nil
}

// SetCategory changes the type's category. Moving between tree and grass
// relocates its instances into the other grid.
func (s *Session) SetCategory(id foliage.TypeID, c foliage.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(id, "set category")
	if err != nil {
		return err
	}
	if t.Category() == c {
		return nil
	}

	billboard := t.Category().HasBillboard()
	if t.SetCategory(c) {
		n := s.store.RebuildHierarchyForType(id, c.IsGrass())
		slog.Info("foliage type changed grid", "type", t.Name, "grass", c.IsGrass(), "instances", n)
		delete(s.counts, id)
		s.markDirty()
	}
	if billboard != c.HasBillboard() {
		s.pendingAll = true
	}
	return nil
}

func (s *Session) SetRenderMode(id foliage.TypeID, m foliage.RenderMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(id, "set render mode")
	if err != nil {
		return err
	}
	if err := t.SetRenderMode(m); err != nil {
		slog.Error("cannot set render mode", "type", t.Name, "mode", m, "err", err)
		return err
	}
	return nil
}

// modify applies fn to the type under the lock.
func (s *Session) modify(id foliage.TypeID, op string, fn func(t *foliage.Type)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(id, op)
	if err != nil {
		return err
	}
	fn(t)
	return nil
}

func (s *Session) SetHue(id foliage.TypeID, hue mgl32.Vec4) error {
	return s.modify(id, "set hue", func(t *foliage.Type) { t.Render.Hue = hue })
}

func (s *Session) SetColor(id foliage.TypeID, color mgl32.Vec4) error {
	return s.modify(id, "set color", func(t *foliage.Type) { t.Render.Color = color })
}

func (s *Session) SetCastShadow(id foliage.TypeID, cast bool) error {
	return s.modify(id, "set shadow", func(t *foliage.Type) { t.Render.CastShadow = cast })
}

// SetMaxDistance clamps d to the category cap.
func (s *Session) SetMaxDistance(id foliage.TypeID, d float32) error {
	return s.modify(id, "set max distance", func(t *foliage.Type) { t.SetMaxDistance(d) })
}

func (s *Session) SetCollision(id foliage.TypeID, enabled bool) error {
	return s.modify(id, "set collision", func(t *foliage.Type) { t.EnableCollision = enabled })
}

func (s *Session) SetBending(id foliage.TypeID, enabled bool) error {
	return s.modify(id, "set bending", func(t *foliage.Type) { t.Bend.Enabled = enabled })
}

// EnablePainting toggles whether Paint and Erase pick the type.
func (s *Session) EnablePainting(id foliage.TypeID, enabled bool) error {
	return s.modify(id, "enable painting", func(t *foliage.Type) { t.Paint.Enabled = enabled })
}

// AddInstance prepares inst and files it under label.
func (s *Session) AddInstance(id foliage.TypeID, inst foliage.Instance, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addInstances(id, []foliage.Instance{inst}, label)
}

// AddInstances prepares every instance and files them under label.
func (s *Session) AddInstances(id foliage.TypeID, insts []foliage.Instance, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addInstances(id, insts, label)
}

func (s *Session) addInstances(id foliage.TypeID, insts []foliage.Instance, label string) error {
	t, err := s.lookup(id, "add instance")
	if err != nil {
		return err
	}

	grass := t.IsGrass()
	for i := range insts {
		t.Prepare(&insts[i])
		s.store.AddInstance(id, insts[i], grass, label)
		s.pendingCells[s.opts.Grid.Key(insts[i].Position, spatial.Coarse)] = struct{}{}
	}
	if len(insts) > 0 {
		s.touched(id)
	}
	return nil
}

// Erase removes instances within radius of pos. allTypes erases every
// registered type; otherwise selected is used, or the paint-enabled types
// when selected is nil. A non-positive radius uses edit.DefaultEraseRadius.
func (s *Session) Erase(pos mgl32.Vec3, radius float32, allTypes bool, selected []foliage.TypeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if radius <= 0 {
		radius = edit.DefaultEraseRadius
	}

	var ids []foliage.TypeID
	switch {
	case allTypes:
		for _, t := range s.types.All() {
			ids = append(ids, t.ID)
		}
	case selected != nil:
		ids = selected
	default:
		for _, t := range s.types.All() {
			if t.Paint.Enabled {
				ids = append(ids, t.ID)
			}
		}
	}

	ext := mgl32.Vec3{radius, radius, radius}
	s.opts.Grid.IterateBox(pos.Sub(ext), pos.Add(ext), spatial.Coarse, func(hash int32) {
		s.pendingCells[hash] = struct{}{}
	})

	removed := false
	for _, id := range ids {
		if !s.types.Has(id) {
			slog.Error("foliage type not found", "op", "erase", "id", id)
			continue
		}
		if s.store.RemoveInstancesNear(id, pos, radius) {
			removed = true
			s.touched(id)
		}
	}
	return removed
}

// RemoveInstanceByGUID removes one tree of the type from the cell at pos.
func (s *Session) RemoveInstanceByGUID(id foliage.TypeID, pos mgl32.Vec3, guid uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(id, "remove instance"); err != nil {
		return false, err
	}
	if !s.store.RemoveInstanceByGUID(id, pos, guid) {
		return false, nil
	}
	s.pendingCells[s.opts.Grid.Key(pos, spatial.Coarse)] = struct{}{}
	s.touched(id)
	return true, nil
}

// RemoveLabel drops every instance tagged with label.
func (s *Session) RemoveLabel(label string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.RemoveAllWithLabel(label) {
		return false
	}
	slog.Info("foliage label removed", "label", label)

	clear(s.counts)
	s.labels = nil
	s.pendingAll = true
	s.markDirty()
	return true
}

// CleanDanglingTypes removes store data of types that are no longer
// registered and returns their ids.
func (s *Session) CleanDanglingTypes() []foliage.TypeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanDangling()
}

func (s *Session) cleanDangling() []foliage.TypeID {
	var dangling []foliage.TypeID
	for _, id := range slices.Sorted(maps.Keys(s.store.TypeIDs())) {
		if s.types.Has(id) {
			continue
		}
		slog.Warn("removing dangling foliage data", "id", id)
		s.store.RemoveAllOfType(id)
		dangling = append(dangling, id)
	}

	if len(dangling) > 0 {
		clear(s.counts)
		s.labels = nil
		s.pendingAll = true
		s.markDirty()
	}
	return dangling
}

// BeginPaint opens a paint bracket. Invalidation is deferred to EndPaint.
func (s *Session) BeginPaint() {
	s.mu.Lock()
	defer s.mu.Unlock()

	slog.Debug("paint begun")
	s.painting = true
	clear(s.paintedTypes)
}

// EndPaint closes the bracket, invalidates the caches of every touched type
// and regenerates billboards for the touched cells.
func (s *Session) EndPaint() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.painting = false
	for id := range s.paintedTypes {
		delete(s.counts, id)
	}
	clear(s.paintedTypes)
	s.labels = nil

	s.flushBillboards()
	slog.Debug("paint ended")
}

// touched records a change to the type's instances.
func (s *Session) touched(id foliage.TypeID) {
	s.markDirty()
	if s.painting {
		s.paintedTypes[id] = struct{}{}
		return
	}
	delete(s.counts, id)
	s.labels = nil
}

func (s *Session) flushBillboards() {
	if !s.pendingAll && len(s.pendingCells) == 0 {
		return
	}

	cells := s.store.Cells()
	batch := make(map[int32]*edit.Cell)
	if s.pendingAll {
		maps.Copy(batch, cells)
	}
	for hash := range s.pendingCells {
		batch[hash] = cells[hash]
	}

	slog.Debug("regenerating billboards", "cells", len(batch), "all", s.pendingAll)
	s.billboards.Regenerate(batch, s.types.Lookup())

	clear(s.pendingCells)
	s.pendingAll = false
}

// CachedCount returns the type's instance count, computing it on first use
// after an invalidation. Unknown types return -1.
func (s *Session) CachedCount(id foliage.TypeID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.types.Has(id) {
		slog.Error("foliage type not found", "op", "count", "id", id)
		return -1
	}
	if n, ok := s.counts[id]; ok {
		return n
	}
	n := s.store.TypeInstanceCount(id)
	s.counts[id] = n
	return n
}

// CachedLabels returns the labels in use, sorted.
func (s *Session) CachedLabels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.labels == nil {
		s.labels = slices.Sorted(maps.Keys(s.store.Labels()))
	}
	return slices.Clone(s.labels)
}

// Invalidate marks every cache stale.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.counts)
	s.labels = nil
}

// Refresh recomputes every cache and regenerates pending billboards.
func (s *Session) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()
}

func (s *Session) refresh() {
	clear(s.counts)
	for _, t := range s.types.All() {
		s.counts[t.ID] = s.store.TypeInstanceCount(t.ID)
	}
	s.labels = slices.Sorted(maps.Keys(s.store.Labels()))
	s.flushBillboards()
}

// RequestUpdate schedules a dangling-data cleanup and cache refresh once
// UpdateDelay has passed without another request.
func (s *Session) RequestUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.update.arm()
}

// Dirty reports whether there are edits not yet saved.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autosave.armed
}

func (s *Session) markDirty() {
	if s.opts.File != "" {
		s.autosave.arm()
	}
}

// Tick advances the scheduler. Hosts call it once per frame or timer tick.
func (s *Session) Tick(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.update.tick(elapsed) {
		s.cleanDangling()
		s.refresh()
	}
	if s.autosave.tick(elapsed) {
		if err := s.save(); err != nil {
			slog.Error("autosave failed", "path", s.opts.File, "err", err)
		}
	}
}

// Save writes the store to the session file.
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

func (s *Session) save() error {
	if s.opts.File == "" {
		return ErrNoFile
	}
	if err := storage.Save(s.opts.File, s.store, s.opts.Storage); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	s.autosave.disarm()
	return nil
}

// Load replaces the store with the session file. On error the session starts
// over with an empty store.
func (s *Session) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.File == "" {
		return ErrNoFile
	}

	store, err := storage.LoadGrid(s.opts.File, s.opts.Grid)
	if err != nil {
		s.store = edit.New(s.opts.Grid)
		err = fmt.Errorf("loading session: %w", err)
	} else {
		s.store = store
	}

	clear(s.counts)
	s.labels = nil
	s.pendingAll = true
	s.autosave.disarm()
	return err
}

// Bake flattens the current store for rendering.
func (s *Session) Bake(opts baked.Options) *baked.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return baked.Flatten(s.store, opts)
}

// InstanceCount returns the live instance count, bypassing the cache.
func (s *Session) InstanceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.InstanceCount()
}

// CountNear counts trees or grass strictly within radius of pos.
func (s *Session) CountNear(pos mgl32.Vec3, radius float32, grass bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.CountNear(pos, radius, grass)
}
