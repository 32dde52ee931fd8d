// Package scene is the runtime face of the foliage system: a baked store, its
// types, the renderer and the collision agent behind one lock, safe to use
// from several goroutines.
package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/udisondev/foliage/internal/baked"
	"github.com/udisondev/foliage/internal/collision"
	"github.com/udisondev/foliage/internal/foliage"
	"github.com/udisondev/foliage/internal/render"
	"github.com/udisondev/foliage/internal/spatial"
)

var (
	ErrUnknownType  = errors.New("unknown foliage type")
	ErrGrassRuntime = errors.New("grass instances cannot be added at runtime")
)

// Black is returned by the color getters for unknown types.
var Black = mgl32.Vec4{0, 0, 0, 1}

// TypeInfo describes a type to runtime callers.
type TypeInfo struct {
	ID        foliage.TypeID
	Name      string
	Category  foliage.Category
	Grass     bool
	SpeedTree bool
}

// Scene owns the runtime foliage data.
//
// Render and UpdateCollision share the read lock with each other and with
// getters; runtime edits and setters take the write lock. The renderer and
// the agent keep per-call scratch state, so each has its own mutex as well.
type Scene struct {
	mu sync.RWMutex

	store    *baked.Store
	types    []*foliage.Type
	byID     map[foliage.TypeID]*foliage.Type
	renderer *render.Renderer

	renderMu sync.Mutex

	collideMu sync.Mutex
	agent     *collision.Agent
}

// New creates a scene rendering store through device. A nil store starts the
// scene empty on the default grid.
func New(device render.Device, store *baked.Store, types []*foliage.Type, settings render.Settings) *Scene {
	store = orEmpty(store)
	s := &Scene{
		store:    store,
		types:    types,
		byID:     make(map[foliage.TypeID]*foliage.Type, len(types)),
		renderer: render.New(device, store, settings),
	}
	for _, t := range types {
		s.byID[t.ID] = t
	}
	s.renderer.UpdateTypes(types)

	slog.Info("foliage scene ready",
		"types", len(types),
		"cells", store.Len(),
		"instances", store.InstanceCount(),
		"neighbors", s.renderer.NeighborRadius())
	return s
}

// EnableCollision attaches a collision agent watching from start.
func (s *Scene) EnableCollision(spawner collision.Spawner, settings collision.Settings, start mgl32.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent := collision.NewAgent(settings, spawner, start)
	agent.Init(s.store, s.types)

	s.collideMu.Lock()
	s.agent = agent
	s.collideMu.Unlock()
}

// Reload swaps in a freshly baked store. Nil empties the scene.
func (s *Scene) Reload(store *baked.Store) {
	store = orEmpty(store)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.renderMu.Lock()
	s.store = store
	s.renderer.SetStore(store)
	s.renderMu.Unlock()

	s.collideMu.Lock()
	if s.agent != nil {
		s.agent.Init(store, s.types)
	}
	s.collideMu.Unlock()

	slog.Info("foliage scene reloaded", "cells", store.Len(), "instances", store.InstanceCount())
}

func orEmpty(store *baked.Store) *baked.Store {
	if store == nil {
		return baked.New(spatial.DefaultGrid())
	}
	return store
}

// Types returns a snapshot of the registered types.
func (s *Scene) Types() []TypeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TypeInfo, 0, len(s.types))
	for _, t := range s.types {
		out = append(out, TypeInfo{
			ID:        t.ID,
			Name:      t.Name,
			Category:  t.Category(),
			Grass:     t.IsGrass(),
			SpeedTree: t.IsSpeedTree(),
		})
	}
	return out
}

// Render draws one frame. bend is the grass bend point, nil for the camera.
func (s *Scene) Render(cam render.Camera, bend *mgl32.Vec3) render.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	return s.renderer.Render(cam, bend)
}

// SetGrassDensity scales every grass draw, clamped to 0.1..1.
func (s *Scene) SetGrassDensity(d float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.renderMu.Lock()
	s.renderer.SetGrassDensity(d)
	s.renderMu.Unlock()
}

// UpdateCollision moves the collision watch point. Without an agent it does
// nothing.
func (s *Scene) UpdateCollision(pos mgl32.Vec3) (refreshed bool, active int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.collideMu.Lock()
	defer s.collideMu.Unlock()

	if s.agent == nil {
		return false, 0
	}
	return s.agent.Update(pos)
}

// RunCollision polls watch every interval and updates the colliders until
// ctx is cancelled.
func (s *Scene) RunCollision(ctx context.Context, interval time.Duration, watch func() mgl32.Vec3) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("collision loop started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("collision loop stopping")
			return ctx.Err()

		case <-ticker.C:
			if refreshed, active := s.UpdateCollision(watch()); refreshed {
				slog.Debug("colliders updated", "active", active)
			}
		}
	}
}

// lookup returns the type or logs and wraps ErrUnknownType. Callers hold a lock.
func (s *Scene) lookup(id foliage.TypeID, op string) (*foliage.Type, error) {
	t, ok := s.byID[id]
	if !ok {
		slog.Error("foliage type not found", "op", op, "id", id)
		return nil, fmt.Errorf("%s %d: %w", op, id, ErrUnknownType)
	}
	return t, nil
}

// AddInstance prepares a tree, adds it to the runtime data and returns the
// id it was given.
func (s *Scene) AddInstance(id foliage.TypeID, inst foliage.Instance) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(id, "add instance")
	if err != nil {
		return uuid.Nil, err
	}
	if t.IsGrass() {
		slog.Error("cannot add grass at runtime", "type", t.Name)
		return uuid.Nil, fmt.Errorf("type %s: %w", t.Name, ErrGrassRuntime)
	}

	t.Prepare(&inst)
	s.store.AddTreeInstance(id, inst)
	return inst.ID, nil
}

// RemoveInstance removes a tree by id from any cell and type. Slowest variant.
func (s *Scene) RemoveInstance(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.RemoveByGUID(id)
}

// RemoveTypeInstance removes a tree of the type by id from any cell.
func (s *Scene) RemoveTypeInstance(typeID foliage.TypeID, id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.RemoveByTypeGUID(typeID, id)
}

// RemoveTypeInstanceAt removes a tree of the type by id from the cell at pos.
func (s *Scene) RemoveTypeInstanceAt(typeID foliage.TypeID, id uuid.UUID, pos mgl32.Vec3) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.RemoveByTypeGUIDAt(typeID, id, pos)
}

// InstanceCount returns the number of instances in the runtime data.
func (s *Scene) InstanceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.InstanceCount()
}

// set applies fn to the type and refreshes the renderer's view of the types.
func (s *Scene) set(id foliage.TypeID, op string, fn func(t *foliage.Type)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(id, op)
	if err != nil {
		return err
	}
	fn(t)

	s.renderMu.Lock()
	s.renderer.UpdateTypes(s.types)
	s.renderMu.Unlock()
	return nil
}

func (s *Scene) SetCastShadow(id foliage.TypeID, cast bool) error {
	return s.set(id, "set shadow", func(t *foliage.Type) { t.Render.CastShadow = cast })
}

// SetMaxDistance clamps d to the category cap and re-derives LOD distances.
func (s *Scene) SetMaxDistance(id foliage.TypeID, d float32) error {
	return s.set(id, "set max distance", func(t *foliage.Type) { t.SetMaxDistance(d) })
}

func (s *Scene) SetHue(id foliage.TypeID, hue mgl32.Vec4) error {
	return s.set(id, "set hue", func(t *foliage.Type) { t.Render.Hue = hue })
}

func (s *Scene) SetColor(id foliage.TypeID, color mgl32.Vec4) error {
	return s.set(id, "set color", func(t *foliage.Type) { t.Render.Color = color })
}

// get reads from the type under the read lock; unknown ids yield ok == false.
func (s *Scene) get(id foliage.TypeID, op string) (*foliage.Type, bool) {
	t, err := s.lookup(id, op)
	return t, err == nil
}

// CastShadow returns false for unknown types.
func (s *Scene) CastShadow(id foliage.TypeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.get(id, "get shadow"); ok {
		return t.Render.CastShadow
	}
	return false
}

// MaxDistance returns 0 for unknown types.
func (s *Scene) MaxDistance(id foliage.TypeID) float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.get(id, "get max distance"); ok {
		return t.Render.MaxDistance
	}
	return 0
}

// Hue returns Black for unknown types.
func (s *Scene) Hue(id foliage.TypeID) mgl32.Vec4 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.get(id, "get hue"); ok {
		return t.Render.Hue
	}
	return Black
}

// Color returns Black for unknown types.
func (s *Scene) Color(id foliage.TypeID) mgl32.Vec4 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.get(id, "get color"); ok {
		return t.Render.Color
	}
	return Black
}

// Close releases the renderer's GPU buffers and the colliders.
func (s *Scene) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.renderMu.Lock()
	s.renderer.Close()
	s.renderMu.Unlock()

	s.collideMu.Lock()
	if s.agent != nil {
		s.agent.Reset()
	}
	s.collideMu.Unlock()
}
