package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/udisondev/foliage/internal/baked"
	"github.com/udisondev/foliage/internal/edit"
	"github.com/udisondev/foliage/internal/spatial"
)

// CompressedExt marks zstd-compressed foliage files.
const CompressedExt = ".zst"

// Options tune Save.
type Options struct {
	// Rand shuffles instance lists before writing. Nil uses the global source.
	Rand *rand.Rand

	// Level is the zstd level for .zst files. Zero means zstd.SpeedDefault.
	Level zstd.EncoderLevel
}

func (o Options) level() zstd.EncoderLevel {
	if o.Level == 0 {
		return zstd.SpeedDefault
	}
	return o.Level
}

// Compressed reports whether path names a zstd foliage file.
func Compressed(path string) bool {
	return strings.EqualFold(filepath.Ext(path), CompressedExt)
}

// Save writes the store to path through a temporary file in the same
// directory, renamed into place once fully written.
func Save(path string, s *edit.Store, opts Options) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op after a successful rename

	if err := encodeTo(f, path, s, opts); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmp, path, err)
	}

	slog.Info("foliage saved",
		"path", path,
		"cells", s.CellCount(),
		"instances", s.InstanceCount())
	return nil
}

func encodeTo(f *os.File, path string, s *edit.Store, opts Options) error {
	if !Compressed(path) {
		if err := Encode(f, s, opts.Rand); err != nil {
			return fmt.Errorf("encoding %s: %w", path, err)
		}
		return nil
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(opts.level()))
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	if err := Encode(enc, s, opts.Rand); err != nil {
		enc.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flushing zstd stream: %w", err)
	}
	return nil
}

// Load reads path into an edit store on the default grid.
func Load(path string) (*edit.Store, error) {
	return LoadGrid(path, spatial.DefaultGrid())
}

// LoadGrid reads path into an edit store on grid. A missing file yields an
// empty store and no error.
func LoadGrid(path string, grid spatial.Grid) (*edit.Store, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("foliage file not found, starting empty", "path", path)
		return edit.New(grid), nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if Compressed(path) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	s, err := decode(data, grid)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	slog.Info("foliage loaded",
		"path", path,
		"cells", s.CellCount(),
		"instances", s.InstanceCount())
	return s, nil
}

// LoadBaked loads path and flattens it for rendering.
func LoadBaked(path string, grid spatial.Grid, opts baked.Options) (*baked.Store, error) {
	s, err := LoadGrid(path, grid)
	if err != nil {
		return nil, err
	}
	return baked.Flatten(s, opts), nil
}
