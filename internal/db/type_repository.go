package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/foliage/internal/foliage"
	"github.com/udisondev/foliage/internal/spatial"
)

// ErrTypeNotFound is returned when no row matches the type id.
var ErrTypeNotFound = errors.New("foliage type not found")

// LODRow is one LOD slot of a stored type.
type LODRow struct {
	Mesh        string
	SubMeshes   int32
	IndexCounts []int32
	Materials   []string
	Transition  float32
	Billboard   bool
}

// Source returns the slot as a headless LOD source.
func (l LODRow) Source() foliage.LODSource {
	counts := make([]uint32, len(l.IndexCounts))
	for i, c := range l.IndexCounts {
		counts[i] = uint32(c)
	}
	mats := make([]foliage.Material, len(l.Materials))
	for i, m := range l.Materials {
		mats[i] = foliage.StaticMaterial(m)
	}
	return foliage.LODSource{
		Mesh:                           foliage.StaticMesh{MeshName: l.Mesh, SubMeshes: int(l.SubMeshes), IndexCounts: counts},
		Materials:                      mats,
		ScreenRelativeTransitionHeight: l.Transition,
		Billboard:                      l.Billboard,
	}
}

// TypeRecord is a stored foliage type: everything the builder needs plus
// its LOD slots in order.
type TypeRecord struct {
	Builder foliage.Builder
	LODs    []LODRow
}

// Build materializes the record into a type with LODs installed.
func (r TypeRecord) Build() (*foliage.Type, error) {
	t := r.Builder.Build()
	sources := make([]foliage.LODSource, len(r.LODs))
	for i, l := range r.LODs {
		sources[i] = l.Source()
	}
	if err := t.BuildLODs(sources); err != nil {
		return nil, err
	}
	return t, nil
}

// TypeRepository manages the foliage_types and foliage_type_lods tables.
type TypeRepository struct {
	db *pgxpool.Pool
}

// NewTypeRepository creates a new TypeRepository.
func NewTypeRepository(db *pgxpool.Pool) *TypeRepository {
	return &TypeRepository{db: db}
}

// Upsert inserts or replaces a type and its LOD slots in one transaction.
func (r *TypeRepository) Upsert(ctx context.Context, rec TypeRecord) error {
	b := rec.Builder
	id := foliage.IDFromName(b.Name)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("rollback failed", "type", b.Name, "error", err)
		}
	}()

	query := `
		INSERT INTO foliage_types (
			id, name, prefab, category, render_mode, bounds,
			max_distance, cast_shadow, hue, color, enable_collision,
			bend_enabled, bend_distance, bend_power,
			paint_enabled, surface_align, align_influence, y_offset, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			prefab = EXCLUDED.prefab,
			category = EXCLUDED.category,
			render_mode = EXCLUDED.render_mode,
			bounds = EXCLUDED.bounds,
			max_distance = EXCLUDED.max_distance,
			cast_shadow = EXCLUDED.cast_shadow,
			hue = EXCLUDED.hue,
			color = EXCLUDED.color,
			enable_collision = EXCLUDED.enable_collision,
			bend_enabled = EXCLUDED.bend_enabled,
			bend_distance = EXCLUDED.bend_distance,
			bend_power = EXCLUDED.bend_power,
			paint_enabled = EXCLUDED.paint_enabled,
			surface_align = EXCLUDED.surface_align,
			align_influence = EXCLUDED.align_influence,
			y_offset = EXCLUDED.y_offset,
			updated_at = now()
	`

	bounds := []float32{
		b.Bounds.Min[0], b.Bounds.Min[1], b.Bounds.Min[2],
		b.Bounds.Max[0], b.Bounds.Max[1], b.Bounds.Max[2],
	}
	if _, err := tx.Exec(ctx, query,
		int32(id), b.Name, b.Prefab, b.Category.String(), b.RenderMode.String(), bounds,
		b.Render.MaxDistance, b.Render.CastShadow, b.Render.Hue[:], b.Render.Color[:], b.EnableCollision,
		b.Bend.Enabled, b.Bend.Distance, b.Bend.Power,
		b.Paint.Enabled, b.Paint.SurfaceAlign, b.Paint.SurfaceAlignInfluence[:], b.Paint.YOffset[:],
	); err != nil {
		return fmt.Errorf("upserting foliage type %q: %w", b.Name, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM foliage_type_lods WHERE type_id = $1`, int32(id)); err != nil {
		return fmt.Errorf("deleting lods of foliage type %q: %w", b.Name, err)
	}

	if len(rec.LODs) > 0 {
		rows := make([][]any, 0, len(rec.LODs))
		for slot, l := range rec.LODs {
			rows = append(rows, []any{int32(id), int16(slot), l.Mesh, l.SubMeshes, l.IndexCounts, l.Materials, l.Transition, l.Billboard})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"foliage_type_lods"},
			[]string{"type_id", "slot", "mesh", "sub_meshes", "index_counts", "materials", "transition", "billboard"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("inserting lods of foliage type %q: %w", b.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	slog.Debug("saved foliage type", "type", b.Name, "id", id, "lods", len(rec.LODs))
	return nil
}

// LoadAll returns every stored type ordered by name.
func (r *TypeRepository) LoadAll(ctx context.Context) ([]TypeRecord, error) {
	query := `
		SELECT id, name, prefab, category, render_mode, bounds,
		       max_distance, cast_shadow, hue, color, enable_collision,
		       bend_enabled, bend_distance, bend_power,
		       paint_enabled, surface_align, align_influence, y_offset
		FROM foliage_types
		ORDER BY name
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying foliage types: %w", err)
	}
	defer rows.Close()

	var (
		records []TypeRecord
		index   = make(map[int32]int)
	)
	for rows.Next() {
		var (
			id                 int32
			category, mode     string
			bounds, hue, color []float32
			influence, yOffset []float32
			b                  foliage.Builder
		)
		if err := rows.Scan(
			&id, &b.Name, &b.Prefab, &category, &mode, &bounds,
			&b.Render.MaxDistance, &b.Render.CastShadow, &hue, &color, &b.EnableCollision,
			&b.Bend.Enabled, &b.Bend.Distance, &b.Bend.Power,
			&b.Paint.Enabled, &b.Paint.SurfaceAlign, &influence, &yOffset,
		); err != nil {
			return nil, fmt.Errorf("scanning foliage type row: %w", err)
		}

		if b.Category, err = foliage.ParseCategory(category); err != nil {
			return nil, fmt.Errorf("foliage type %q: %w", b.Name, err)
		}
		if b.RenderMode, err = foliage.ParseRenderMode(mode); err != nil {
			return nil, fmt.Errorf("foliage type %q: %w", b.Name, err)
		}
		if len(bounds) == 6 {
			b.Bounds = spatial.AABB{
				Min: mgl32.Vec3{bounds[0], bounds[1], bounds[2]},
				Max: mgl32.Vec3{bounds[3], bounds[4], bounds[5]},
			}
		}
		copy(b.Render.Hue[:], hue)
		copy(b.Render.Color[:], color)
		copy(b.Paint.SurfaceAlignInfluence[:], influence)
		copy(b.Paint.YOffset[:], yOffset)

		index[id] = len(records)
		records = append(records, TypeRecord{Builder: b})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating foliage type rows: %w", err)
	}

	if err := r.loadLODs(ctx, records, index); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *TypeRepository) loadLODs(ctx context.Context, records []TypeRecord, index map[int32]int) error {
	query := `
		SELECT type_id, mesh, sub_meshes, index_counts, materials, transition, billboard
		FROM foliage_type_lods
		ORDER BY type_id, slot
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("querying foliage type lods: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			typeID int32
			l      LODRow
		)
		if err := rows.Scan(&typeID, &l.Mesh, &l.SubMeshes, &l.IndexCounts, &l.Materials, &l.Transition, &l.Billboard); err != nil {
			return fmt.Errorf("scanning foliage type lod row: %w", err)
		}
		i, ok := index[typeID]
		if !ok {
			continue
		}
		records[i].LODs = append(records[i].LODs, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating foliage type lod rows: %w", err)
	}
	return nil
}

// Delete removes a type and its LOD slots.
func (r *TypeRepository) Delete(ctx context.Context, id foliage.TypeID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM foliage_types WHERE id = $1`, int32(id))
	if err != nil {
		return fmt.Errorf("deleting foliage type %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deleting foliage type %d: %w", id, ErrTypeNotFound)
	}
	return nil
}

// Count returns the number of stored types.
func (r *TypeRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM foliage_types`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting foliage types: %w", err)
	}
	return n, nil
}

// LoadTypes loads and builds every stored type. Types whose LODs cannot be
// built are skipped with an error log.
func (r *TypeRepository) LoadTypes(ctx context.Context) ([]*foliage.Type, error) {
	records, err := r.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	types := make([]*foliage.Type, 0, len(records))
	for _, rec := range records {
		t, err := rec.Build()
		if err != nil {
			slog.Error("skipping stored foliage type", "type", rec.Builder.Name, "error", err)
			continue
		}
		types = append(types, t)
	}
	return types, nil
}
