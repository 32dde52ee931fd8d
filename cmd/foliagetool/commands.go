package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strconv"
	"text/tabwriter"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/udisondev/foliage/internal/config"
	"github.com/udisondev/foliage/internal/db"
	"github.com/udisondev/foliage/internal/foliage"
	"github.com/udisondev/foliage/internal/session"
	"github.com/udisondev/foliage/internal/storage"
)

func wantArgs(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("want %d, got %d: %w", n, len(args), errUsage)
	}
	return nil
}

// typeNames maps ids from the types file to names. A broken types file only
// costs the names.
func typeNames(cfg config.Foliage) map[foliage.TypeID]string {
	names := make(map[foliage.TypeID]string)
	specs, err := config.LoadTypes(cfg.Storage.TypesFile)
	if err != nil {
		slog.Warn("type names unavailable", "err", err)
		return names
	}
	for _, s := range specs {
		names[foliage.IDFromName(s.Name)] = s.Name
	}
	return names
}

// openSession opens file with the types file registered.
func openSession(cfg config.Foliage, file string) (*session.Session, error) {
	s, err := session.Open(session.Options{
		Grid:    cfg.GridValue(),
		File:    file,
		Storage: cfg.StorageOptions(),
		Rand:    cfg.Rand(),
	})
	if err != nil {
		return nil, err
	}

	specs, err := config.LoadTypes(cfg.Storage.TypesFile)
	if err != nil {
		return nil, fmt.Errorf("loading types: %w", err)
	}
	for _, spec := range specs {
		b, err := spec.Builder()
		if err != nil {
			return nil, err
		}
		var lods []foliage.LODSource
		if len(spec.LODs) > 0 {
			lods = spec.LODSources()
		}
		if _, err := s.AddType(b, lods); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func runInfo(_ context.Context, cfg config.Foliage, args []string, out io.Writer) error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}

	store, err := storage.LoadGrid(args[0], cfg.GridValue())
	if err != nil {
		return err
	}
	names := typeNames(cfg)

	fmt.Fprintf(out, "file:      %s\n", args[0])
	fmt.Fprintf(out, "cells:     %d\n", store.CellCount())
	fmt.Fprintf(out, "instances: %d\n", store.InstanceCount())

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nTYPE\tID\tINSTANCES")
	for _, id := range slices.Sorted(maps.Keys(store.TypeIDs())) {
		name, ok := names[id]
		if !ok {
			name = "?"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\n", name, id, store.TypeInstanceCount(id))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nlabels:")
	for _, l := range slices.Sorted(maps.Keys(store.Labels())) {
		fmt.Fprintf(out, "  %s\n", l)
	}
	return nil
}

func runCompact(_ context.Context, cfg config.Foliage, args []string, out io.Writer) error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}

	store, err := storage.LoadGrid(args[0], cfg.GridValue())
	if err != nil {
		return err
	}
	cells, subCells := store.Compact()
	if err := storage.Save(args[0], store, cfg.StorageOptions()); err != nil {
		return err
	}

	fmt.Fprintf(out, "removed %d empty cells and %d empty sub-cells\n", cells, subCells)
	return nil
}

func runStripLabel(_ context.Context, cfg config.Foliage, args []string, out io.Writer) error {
	if err := wantArgs(args, 2); err != nil {
		return err
	}

	s, err := openSession(cfg, args[0])
	if err != nil {
		return err
	}
	before := s.InstanceCount()
	if !s.RemoveLabel(args[1]) {
		fmt.Fprintf(out, "label %q not found\n", args[1])
		return nil
	}
	if err := s.Save(); err != nil {
		return err
	}

	fmt.Fprintf(out, "removed %d instances\n", before-s.InstanceCount())
	return nil
}

func runRemoveType(_ context.Context, cfg config.Foliage, args []string, out io.Writer) error {
	if err := wantArgs(args, 2); err != nil {
		return err
	}

	s, err := openSession(cfg, args[0])
	if err != nil {
		return err
	}
	before := s.InstanceCount()
	s.RemoveType(foliage.IDFromName(args[1]), false)
	if err := s.Save(); err != nil {
		return err
	}

	fmt.Fprintf(out, "removed %d instances\n", before-s.InstanceCount())
	return nil
}

func runClean(_ context.Context, cfg config.Foliage, args []string, out io.Writer) error {
	if err := wantArgs(args, 1); err != nil {
		return err
	}

	s, err := openSession(cfg, args[0])
	if err != nil {
		return err
	}
	dangling := s.CleanDanglingTypes()
	if len(dangling) == 0 {
		fmt.Fprintln(out, "no dangling types")
		return nil
	}
	if err := s.Save(); err != nil {
		return err
	}

	fmt.Fprintf(out, "removed data of %d types: %v\n", len(dangling), dangling)
	return nil
}

// hills is the demo terrain for paint.
var hills = session.HeightFunc{
	Label: "Hills",
	Fn: func(x, z float32) float32 {
		return 4 * float32(math.Sin(float64(x)/25)*math.Cos(float64(z)/30))
	},
}

// runPaint paints a square of strokes five units apart around the origin.
func runPaint(_ context.Context, cfg config.Foliage, args []string, out io.Writer) error {
	if err := wantArgs(args, 2); err != nil {
		return err
	}
	strokes, err := strconv.Atoi(args[1])
	if err != nil || strokes <= 0 {
		return fmt.Errorf("strokes %q: %w", args[1], errUsage)
	}

	s, err := openSession(cfg, args[0])
	if err != nil {
		return err
	}

	brush := session.DefaultBrush()
	brush.Size = 4
	brush.Density = 20

	side := int(math.Ceil(math.Sqrt(float64(strokes))))
	added := 0

	s.BeginPaint()
	for i := range strokes {
		x, z := float32(i%side)*5, float32(i/side)*5
		added += s.Paint(mgl32.Vec3{x, 0, z}, brush, hills)
	}
	s.EndPaint()

	if err := s.Save(); err != nil {
		return err
	}
	fmt.Fprintf(out, "painted %d instances in %d strokes\n", added, strokes)
	return nil
}

func runStick(_ context.Context, cfg config.Foliage, args []string, out io.Writer) error {
	if err := wantArgs(args, 3); err != nil {
		return err
	}
	y, err := strconv.ParseFloat(args[2], 32)
	if err != nil {
		return fmt.Errorf("height %q: %w", args[2], errUsage)
	}

	s, err := openSession(cfg, args[0])
	if err != nil {
		return err
	}
	moved := s.StickLabelToTerrain(args[1], session.FlatTerrain{Label: "Flat", Y: float32(y)})
	if moved == 0 {
		fmt.Fprintf(out, "label %q not found\n", args[1])
		return nil
	}
	if err := s.Save(); err != nil {
		return err
	}

	fmt.Fprintf(out, "moved %d instances\n", moved)
	return nil
}

func connect(ctx context.Context, cfg config.Foliage) (*db.DB, error) {
	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		database.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return database, nil
}

// record converts a types file entry into a repository record.
func record(spec config.TypeSpec) (db.TypeRecord, error) {
	b, err := spec.Builder()
	if err != nil {
		return db.TypeRecord{}, err
	}

	rec := db.TypeRecord{Builder: b}
	for _, l := range spec.LODs {
		counts := make([]int32, len(l.IndexCounts))
		for i, c := range l.IndexCounts {
			counts[i] = int32(c)
		}
		rec.LODs = append(rec.LODs, db.LODRow{
			Mesh:        l.Mesh,
			SubMeshes:   int32(max(l.SubMeshes, 1)),
			IndexCounts: counts,
			Materials:   l.Materials,
			Transition:  l.Transition,
			Billboard:   l.Billboard,
		})
	}
	return rec, nil
}

func runTypesPush(ctx context.Context, cfg config.Foliage, args []string, out io.Writer) error {
	if err := wantArgs(args, 0); err != nil {
		return err
	}

	specs, err := config.LoadTypes(cfg.Storage.TypesFile)
	if err != nil {
		return err
	}

	database, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	repo := database.Types()
	for _, spec := range specs {
		rec, err := record(spec)
		if err != nil {
			return err
		}
		if err := repo.Upsert(ctx, rec); err != nil {
			return err
		}
	}

	n, err := repo.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "pushed %d types, %d stored\n", len(specs), n)
	return nil
}

func runTypesList(ctx context.Context, cfg config.Foliage, args []string, out io.Writer) error {
	if err := wantArgs(args, 0); err != nil {
		return err
	}

	database, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	records, err := database.Types().LoadAll(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tCATEGORY\tMODE\tMAX DISTANCE\tLODS")
	for _, r := range records {
		b := r.Builder
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%g\t%d\n",
			b.Name, foliage.IDFromName(b.Name), b.Category, b.RenderMode, b.Render.MaxDistance, len(r.LODs))
	}
	return tw.Flush()
}
