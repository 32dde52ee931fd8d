// Headless foliage viewer: loads the foliage file, bakes it and renders an
// orbiting camera through the recording device, logging frame statistics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/foliage/internal/baked"
	"github.com/udisondev/foliage/internal/config"
	"github.com/udisondev/foliage/internal/render"
	"github.com/udisondev/foliage/internal/scene"
	"github.com/udisondev/foliage/internal/storage"
)

const ConfigPath = "config/foliage.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := ConfigPath
	if p := os.Getenv("FOLIAGE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadFoliage(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	slog.Info("foliage viewer starting", "log_level", cfg.LogLevel, "file", cfg.Storage.File)

	types, err := loadTypes(ctx, cfg)
	if err != nil {
		return fmt.Errorf("loading types: %w", err)
	}

	store, err := storage.LoadBaked(cfg.Storage.File, cfg.GridValue(), baked.Options{
		BatchSize: cfg.Render.BatchSize,
		Rand:      cfg.Rand(),
	})
	if err != nil {
		return fmt.Errorf("loading foliage: %w", err)
	}

	dev := render.NewRecorder()
	sc := scene.New(dev, store, types, cfg.RenderSettings())
	defer sc.Close()

	v := newViewer(sc, dev, cfg)
	if cfg.Collision.Enabled {
		sc.EnableCollision(headlessSpawner{}, cfg.CollisionSettings(), v.Position())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := v.Run(gctx); err != nil {
			return fmt.Errorf("frame loop: %w", err)
		}
		return nil
	})

	if cfg.Collision.Enabled {
		g.Go(func() error {
			if err := sc.RunCollision(gctx, cfg.Collision.Interval, v.Position); err != nil {
				return fmt.Errorf("collision loop: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("viewer error: %w", err)
	}

	slog.Info("foliage viewer stopped", "frames", v.Frames())
	return nil
}
