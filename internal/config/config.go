package config

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/udisondev/foliage/internal/collision"
	"github.com/udisondev/foliage/internal/render"
	"github.com/udisondev/foliage/internal/spatial"
	"github.com/udisondev/foliage/internal/storage"
)

// Foliage holds all configuration for the foliage tools and viewer.
type Foliage struct {
	LogLevel string `yaml:"log_level"` // debug, info, warn, error

	Grid      GridConfig      `yaml:"grid"`
	Render    RenderConfig    `yaml:"render"`
	Collision CollisionConfig `yaml:"collision"`
	Storage   StorageConfig   `yaml:"storage"`

	// Database stores the type registry. When disabled types come from
	// Storage.TypesFile.
	Database DatabaseConfig `yaml:"database"`

	// Viewer loop
	FrameInterval time.Duration `yaml:"frame_interval"`
	StatsInterval int           `yaml:"stats_interval"` // frames between stats logs
}

// GridConfig sizes the spatial grid. Files must be read with the grid they
// were written with.
type GridConfig struct {
	CellSize     float32 `yaml:"cell_size"`
	Subdivisions int     `yaml:"subdivisions"`
}

// RenderConfig mirrors render.Settings.
type RenderConfig struct {
	DrawInstanced            bool    `yaml:"draw_instanced"`
	LightProbes              bool    `yaml:"light_probes"`
	AllowIndirect            bool    `yaml:"allow_indirect"`
	GrassDensity             float32 `yaml:"grass_density"`
	ShadowCorrection         bool    `yaml:"shadow_correction"`
	ShadowCorrectionDistance float32 `yaml:"shadow_correction_distance"`
	BatchSize                int     `yaml:"batch_size"`
	CacheMax                 int     `yaml:"cache_max"`
	CacheEvict               int     `yaml:"cache_evict"`
}

type CollisionConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Distance        float32       `yaml:"distance"`
	RefreshDistance float32       `yaml:"refresh_distance"`
	PoolExpansion   int           `yaml:"pool_expansion"`
	Interval        time.Duration `yaml:"interval"`
}

// StorageConfig locates the foliage data. A File ending in .zst is zstd
// compressed.
type StorageConfig struct {
	File        string        `yaml:"file"`
	TypesFile   string        `yaml:"types_file"`
	UpdateDelay time.Duration `yaml:"update_delay"`
	Autosave    time.Duration `yaml:"autosave"`
	Compression string        `yaml:"compression"` // fastest, default, better, best
	Seed        uint64        `yaml:"seed"`        // 0 = random shuffles
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// DefaultFoliage returns Foliage config with sensible defaults.
func DefaultFoliage() Foliage {
	rs := render.DefaultSettings()
	cs := collision.DefaultSettings()

	return Foliage{
		LogLevel: "info",
		Grid: GridConfig{
			CellSize:     spatial.DefaultCellSize,
			Subdivisions: spatial.DefaultSubdivisions,
		},
		Render: RenderConfig{
			DrawInstanced:            rs.DrawInstanced,
			LightProbes:              rs.LightProbes,
			AllowIndirect:            rs.AllowIndirect,
			GrassDensity:             rs.GrassDensity,
			ShadowCorrection:         rs.ShadowCorrection,
			ShadowCorrectionDistance: rs.ShadowCorrectionDistance,
			BatchSize:                rs.BatchSize,
			CacheMax:                 rs.CacheMax,
			CacheEvict:               rs.CacheEvict,
		},
		Collision: CollisionConfig{
			Enabled:         true,
			Distance:        cs.Distance,
			RefreshDistance: cs.RefreshDistance,
			PoolExpansion:   cs.PoolExpansion,
			Interval:        100 * time.Millisecond,
		},
		Storage: StorageConfig{
			File:        "data/foliage.bin.zst",
			TypesFile:   "config/types.yaml",
			UpdateDelay: 500 * time.Millisecond,
			Autosave:    5 * time.Second,
			Compression: "default",
		},
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "foliage",
			Password: "foliage",
			DBName:   "foliage",
			SSLMode:  "disable",
		},
		FrameInterval: 16 * time.Millisecond,
		StatsInterval: 300,
	}
}

// LoadFoliage loads config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadFoliage(path string) (Foliage, error) {
	cfg := DefaultFoliage()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// GridValue returns the spatial grid, defaults for non-positive values.
func (c Foliage) GridValue() spatial.Grid {
	return spatial.NewGrid(c.Grid.CellSize, c.Grid.Subdivisions)
}

// RenderSettings converts the render section. Zero sizes fall back to the
// renderer defaults.
func (c Foliage) RenderSettings() render.Settings {
	s := render.DefaultSettings()
	s.DrawInstanced = c.Render.DrawInstanced
	s.LightProbes = c.Render.LightProbes
	s.AllowIndirect = c.Render.AllowIndirect
	s.GrassDensity = c.Render.GrassDensity
	s.ShadowCorrection = c.Render.ShadowCorrection
	s.ShadowCorrectionDistance = c.Render.ShadowCorrectionDistance
	if c.Render.BatchSize > 0 {
		s.BatchSize = c.Render.BatchSize
	}
	if c.Render.CacheMax > 0 {
		s.CacheMax = c.Render.CacheMax
	}
	if c.Render.CacheEvict > 0 {
		s.CacheEvict = c.Render.CacheEvict
	}
	return s
}

func (c Foliage) CollisionSettings() collision.Settings {
	s := collision.DefaultSettings()
	if c.Collision.Distance > 0 {
		s.Distance = c.Collision.Distance
	}
	if c.Collision.RefreshDistance > 0 {
		s.RefreshDistance = c.Collision.RefreshDistance
	}
	if c.Collision.PoolExpansion > 0 {
		s.PoolExpansion = c.Collision.PoolExpansion
	}
	return s
}

// StorageOptions converts the storage section. Unknown compression names
// fall back to the zstd default level.
func (c Foliage) StorageOptions() storage.Options {
	var opts storage.Options
	if ok, level := zstd.EncoderLevelFromString(c.Storage.Compression); ok {
		opts.Level = level
	} else if c.Storage.Compression != "" {
		slog.Warn("unknown compression level, using default", "compression", c.Storage.Compression)
	}
	if c.Storage.Seed != 0 {
		opts.Rand = c.Rand()
	}
	return opts
}

// Rand returns the generator for shuffles and painting, seeded from
// Storage.Seed when set.
func (c Foliage) Rand() *rand.Rand {
	if c.Storage.Seed != 0 {
		return rand.New(rand.NewPCG(c.Storage.Seed, c.Storage.Seed^0x9E3779B97F4A7C15))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// SlogLevel parses LogLevel, info when unknown.
func (c Foliage) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
