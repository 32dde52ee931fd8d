// Package collision places pooled collider proxies on the trees around a
// watched position. Renderers never see colliders; hosts implement Spawner
// and Proxy on top of their physics engine.
package collision

import (
	"log/slog"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/udisondev/foliage/internal/baked"
	"github.com/udisondev/foliage/internal/foliage"
	"github.com/udisondev/foliage/internal/spatial"
)

// Defaults.
const (
	DefaultDistance        = 7
	DefaultRefreshDistance = 5
	DefaultPoolExpansion   = 3
)

// Settings control when and how far colliders are placed.
type Settings struct {
	// Distance is the radius around the watched position that gets colliders.
	Distance float32

	// RefreshDistance is how far the watched position must move before
	// colliders are re-placed.
	RefreshDistance float32

	// PoolExpansion is how many proxies a pool spawns when it runs dry.
	PoolExpansion int
}

func DefaultSettings() Settings {
	return Settings{
		Distance:        DefaultDistance,
		RefreshDistance: DefaultRefreshDistance,
		PoolExpansion:   DefaultPoolExpansion,
	}
}

// Proxy is one collider in the host's physics world.
type Proxy interface {
	// Place moves the collider onto inst and records what it stands for.
	Place(typeID foliage.TypeID, inst *foliage.Instance)
	SetActive(active bool)
}

// Spawner creates collider proxies for a type.
type Spawner interface {
	// Spawn returns a new inactive proxy, or false when the type's prefab
	// carries no collider. A false answer is remembered for the type.
	Spawn(t *foliage.Type) (Proxy, bool)
}

// Agent keeps colliders on the trees near a watched position. Not safe for
// concurrent use.
type Agent struct {
	settings Settings
	spawner  Spawner

	store *baked.Store
	types map[foliage.TypeID]*foliage.Type

	// nil entry: the type has no collider.
	pools map[foliage.TypeID]*Pool

	last   mgl32.Vec3
	active int
}

// NewAgent creates an agent watching from start. Nothing is placed until the
// watched position moves past the refresh distance or Refresh is called.
func NewAgent(settings Settings, spawner Spawner, start mgl32.Vec3) *Agent {
	return &Agent{
		settings: settings,
		spawner:  spawner,
		pools:    make(map[foliage.TypeID]*Pool),
		last:     start,
	}
}

// Init points the agent at the runtime data and its types.
func (a *Agent) Init(store *baked.Store, types []*foliage.Type) {
	a.store = store
	a.types = make(map[foliage.TypeID]*foliage.Type, len(types))
	for _, t := range types {
		a.types[t.ID] = t
	}
}

func (a *Agent) Settings() Settings { return a.settings }

// Active returns how many colliders the last refresh issued.
func (a *Agent) Active() int { return a.active }

// Update refreshes the colliders when pos moved farther than the refresh
// distance from the last refresh point.
func (a *Agent) Update(pos mgl32.Vec3) (refreshed bool, active int) {
	moved := pos.Sub(a.last)
	limit := a.settings.RefreshDistance * a.settings.RefreshDistance
	if moved.Dot(moved) <= limit {
		return false, a.active
	}
	return true, a.Refresh(pos)
}

// Refresh recycles every collider and places new ones around pos.
func (a *Agent) Refresh(pos mgl32.Vec3) int {
	a.last = pos
	a.active = 0

	for _, p := range a.pools {
		if p != nil {
			p.Reset()
		}
	}

	if a.store == nil {
		return 0
	}

	limit := a.settings.Distance * a.settings.Distance
	center := a.store.Grid().FromWorld(pos, spatial.Coarse)

	spatial.IterateNeighborhood(center, 1, func(hash int32) {
		c, ok := a.store.Cells[hash]
		if !ok {
			return
		}
		if c.Bounds.SqrDistance(pos) <= limit {
			a.processCell(c, pos, limit)
		}
	})

	slog.Debug("colliders refreshed", "pos", pos, "active", a.active)
	return a.active
}

func (a *Agent) processCell(c *baked.Cell, pos mgl32.Vec3, limit float32) {
	for i := range c.Trees {
		batch := &c.Trees[i]

		t, ok := a.types[batch.Type]
		if !ok || !t.EnableCollision {
			continue
		}

		for j := range batch.Instances {
			inst := &batch.Instances[j]
			if inst.SqrDistance(pos) > limit {
				continue
			}

			pool := a.pool(t)
			if pool == nil {
				break
			}

			proxy, ok := pool.Retrieve()
			if !ok {
				slog.Warn("collider spawn failed", "type", t.Name)
				break
			}
			proxy.Place(batch.Type, inst)
			a.active++
		}
	}
}

// pool returns the type's pool, probing the spawner the first time.
func (a *Agent) pool(t *foliage.Type) *Pool {
	if p, ok := a.pools[t.ID]; ok {
		return p
	}

	first, ok := a.spawner.Spawn(t)
	if !ok {
		slog.Debug("foliage type has no collider", "type", t.Name)
		a.pools[t.ID] = nil
		return nil
	}

	p := NewPool(func() (Proxy, bool) {
		if first != nil {
			proxy := first
			first = nil
			return proxy, true
		}
		return a.spawner.Spawn(t)
	}, a.settings.PoolExpansion)

	a.pools[t.ID] = p
	return p
}

// PoolSize returns how many proxies were spawned for the type, or -1 when
// the type has no collider or was never needed.
func (a *Agent) PoolSize(id foliage.TypeID) int {
	p, ok := a.pools[id]
	if !ok || p == nil {
		return -1
	}
	return p.Size()
}

// Reset forgets every pool, for when the type set changes.
func (a *Agent) Reset() {
	for _, p := range a.pools {
		if p != nil {
			p.Reset()
		}
	}
	clear(a.pools)
	a.active = 0
}
