package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/udisondev/foliage/internal/collision"
	"github.com/udisondev/foliage/internal/config"
	"github.com/udisondev/foliage/internal/db"
	"github.com/udisondev/foliage/internal/foliage"
	"github.com/udisondev/foliage/internal/render"
	"github.com/udisondev/foliage/internal/scene"
)

// loadTypes reads the types from PostgreSQL when the database is enabled,
// from the types file otherwise.
func loadTypes(ctx context.Context, cfg config.Foliage) ([]*foliage.Type, error) {
	if !cfg.Database.Enabled {
		specs, err := config.LoadTypes(cfg.Storage.TypesFile)
		if err != nil {
			return nil, err
		}
		types, err := config.BuildTypes(specs)
		if err != nil {
			return nil, err
		}
		slog.Info("types loaded", "source", cfg.Storage.TypesFile, "types", len(types))
		return types, nil
	}

	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, err
	}
	defer database.Close()

	if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	types, err := database.Types().LoadTypes(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("types loaded", "source", "database", "types", len(types))
	return types, nil
}

// orbit is a camera circling center at radius and height, one turn per period.
type orbit struct {
	center mgl32.Vec3
	radius float32
	height float32
	period time.Duration
}

func (o orbit) at(elapsed time.Duration) render.StaticCamera {
	angle := 2 * math.Pi * elapsed.Seconds() / o.period.Seconds()
	eye := o.center.Add(mgl32.Vec3{
		o.radius * float32(math.Cos(angle)),
		o.height,
		o.radius * float32(math.Sin(angle)),
	})
	return render.NewLookAtCamera(eye, o.center, 60, 16.0/9.0, 0.3, foliage.MaxTreeDistance)
}

// viewer drives the frame loop.
type viewer struct {
	scene    *scene.Scene
	dev      *render.Recorder
	orbit    orbit
	interval time.Duration
	every    int

	mu     sync.Mutex
	pos    mgl32.Vec3
	frames int
	total  render.Stats
}

func newViewer(sc *scene.Scene, dev *render.Recorder, cfg config.Foliage) *viewer {
	v := &viewer{
		scene:    sc,
		dev:      dev,
		orbit:    orbit{center: mgl32.Vec3{50, 0, 50}, radius: 60, height: 2, period: time.Minute},
		interval: cfg.FrameInterval,
		every:    cfg.StatsInterval,
	}
	if v.interval <= 0 {
		v.interval = 16 * time.Millisecond
	}
	v.pos = v.orbit.at(0).Eye
	return v
}

// Position returns the camera position of the last frame.
func (v *viewer) Position() mgl32.Vec3 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pos
}

func (v *viewer) Frames() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frames
}

// Frame renders the camera at elapsed and returns the frame stats.
func (v *viewer) Frame(elapsed time.Duration) render.Stats {
	cam := v.orbit.at(elapsed)
	stats := v.scene.Render(cam, nil)
	v.dev.Reset()

	v.mu.Lock()
	defer v.mu.Unlock()

	v.pos = cam.Eye
	v.frames++
	v.total.Instances += stats.Instances
	v.total.DrawCalls += stats.DrawCalls

	if v.every > 0 && v.frames%v.every == 0 {
		slog.Debug("frame stats", "frame", v.frames, "stats", stats)
		slog.Info("render totals",
			"frames", v.frames,
			"instances", v.total.Instances,
			"drawcalls", v.total.DrawCalls)
	}
	return stats
}

// Run renders a frame every interval until ctx is cancelled.
func (v *viewer) Run(ctx context.Context) error {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	start := time.Now()
	slog.Info("frame loop started", "interval", v.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("frame loop stopping")
			return ctx.Err()

		case <-ticker.C:
			v.Frame(time.Since(start))
		}
	}
}

// headlessSpawner gives every collidable type a proxy that only logs.
type headlessSpawner struct{}

func (headlessSpawner) Spawn(t *foliage.Type) (collision.Proxy, bool) {
	return &headlessProxy{typ: t.Name}, true
}

type headlessProxy struct {
	typ    string
	pos    mgl32.Vec3
	active bool
}

func (p *headlessProxy) Place(_ foliage.TypeID, inst *foliage.Instance) {
	p.pos = inst.Position
	slog.Debug("collider placed", "type", p.typ, "pos", p.pos)
}

func (p *headlessProxy) SetActive(active bool) { p.active = active }
