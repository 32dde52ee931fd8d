package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/udisondev/foliage/internal/db/migrations"
)

// RunMigrations brings the foliage schema on dsn up to date.
func RunMigrations(ctx context.Context, dsn string) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening sql connection for migrations: %w", err)
	}
	defer sqlDB.Close()

	_, err = migrate(ctx, sqlDB)
	return err
}

// migrate applies pending migrations and returns the schema version after
// the run. The caller owns sqlDB.
func migrate(ctx context.Context, sqlDB *sql.DB) (int64, error) {
	p, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrations.FS)
	if err != nil {
		return 0, fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := p.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("applying foliage migrations: %w", err)
	}
	for _, r := range results {
		slog.Info("foliage migration applied", "version", r.Source.Version, "file", r.Source.Path, "duration", r.Duration)
	}

	version, err := p.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading foliage schema version: %w", err)
	}
	slog.Info("foliage schema ready", "version", version, "applied", len(results))
	return version, nil
}
