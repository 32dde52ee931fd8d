package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/foliage/internal/config"
	"github.com/udisondev/foliage/internal/foliage"
	"github.com/udisondev/foliage/internal/storage"
	"github.com/udisondev/foliage/internal/testutil"
)

const bothTypes = `
types:
  - name: Oak
    category: tree
    bounds: {min: [-1, 0, -1], max: [1, 10, 1]}
    paint: {enabled: true}
    lods:
      - {mesh: oak0, index_counts: [36], materials: [bark], transition: 0.5}
  - name: Clover
    category: grass
    paint: {enabled: true}
    lods:
      - {mesh: blade, index_counts: [6], materials: [grass]}
`

const oakOnly = `
types:
  - name: Oak
    category: tree
    lods:
      - {mesh: oak0, index_counts: [36], materials: [bark]}
`

func testConfig(t *testing.T, types string) config.Foliage {
	t.Helper()

	path := filepath.Join(t.TempDir(), "types.yaml")
	require.NoError(t, os.WriteFile(path, []byte(types), 0o644))

	cfg := config.DefaultFoliage()
	cfg.Storage.TypesFile = path
	cfg.Storage.Seed = 7
	return cfg
}

// forestFile writes 9 oaks with 10 clover blades each under "Forest".
func forestFile(t *testing.T) string {
	t.Helper()

	oak := testutil.TreeType(t, "Oak")
	clover := testutil.GrassType(t, "Clover", foliage.Instanced)

	path := filepath.Join(t.TempDir(), "forest.bin.zst")
	require.NoError(t, storage.Save(path, testutil.Forest(oak, clover, 3, 10, "Forest"), storage.Options{}))
	return path
}

func exec(t *testing.T, cfg config.Foliage, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	require.NoError(t, dispatch(testutil.ContextWithTimeout(t, 10*time.Second), cfg, args, &out))
	return out.String()
}

func TestInfo(t *testing.T) {
	cfg := testConfig(t, bothTypes)
	file := forestFile(t)

	out := exec(t, cfg, "info", file)
	assert.Contains(t, out, "instances: 99")
	assert.Contains(t, out, "Oak")
	assert.Contains(t, out, "Clover")
	assert.Contains(t, out, "  Forest\n")
}

func TestPaintThenStripLabel(t *testing.T) {
	cfg := testConfig(t, bothTypes)
	file := filepath.Join(t.TempDir(), "painted.bin")

	out := exec(t, cfg, "paint", file, "4")
	assert.Contains(t, out, "in 4 strokes")

	store, err := storage.Load(file)
	require.NoError(t, err)
	assert.Positive(t, store.TypeInstanceCount(foliage.IDFromName("Oak")))
	assert.Positive(t, store.TypeInstanceCount(foliage.IDFromName("Clover")))

	label := foliage.TerrainPaintedLabel("Hills")
	assert.Contains(t, exec(t, cfg, "info", file), label)

	out = exec(t, cfg, "strip-label", file, label)
	assert.Contains(t, out, "removed")
	assert.Contains(t, exec(t, cfg, "info", file), "instances: 0")

	assert.Contains(t, exec(t, cfg, "strip-label", file, label), "not found")
}

func TestRemoveType(t *testing.T) {
	cfg := testConfig(t, bothTypes)
	file := forestFile(t)

	assert.Equal(t, "removed 90 instances\n", exec(t, cfg, "remove-type", file, "Clover"))

	store, err := storage.Load(file)
	require.NoError(t, err)
	assert.Equal(t, 9, store.InstanceCount())
}

func TestClean(t *testing.T) {
	cfg := testConfig(t, oakOnly)
	file := forestFile(t)

	out := exec(t, cfg, "clean", file)
	assert.Contains(t, out, "removed data of 1 types")

	store, err := storage.Load(file)
	require.NoError(t, err)
	assert.Equal(t, 9, store.InstanceCount())

	assert.Equal(t, "no dangling types\n", exec(t, cfg, "clean", file))
}

func TestStick(t *testing.T) {
	cfg := testConfig(t, bothTypes)
	file := forestFile(t)

	assert.Equal(t, "moved 99 instances\n", exec(t, cfg, "stick", file, "Forest", "3"))

	store, err := storage.Load(file)
	require.NoError(t, err)
	for _, insts := range store.CollectByLabel("Forest") {
		for _, inst := range insts {
			assert.InDelta(t, 3, inst.Position[1], 1e-5)
		}
	}
}

func TestCompact(t *testing.T) {
	cfg := testConfig(t, bothTypes)
	file := forestFile(t)

	out := exec(t, cfg, "compact", file)
	assert.Contains(t, out, "removed 0 empty cells")
	assert.Contains(t, exec(t, cfg, "info", file), "instances: 99")
}

func TestDispatchErrors(t *testing.T) {
	cfg := testConfig(t, bothTypes)
	ctx := context.Background()
	var out bytes.Buffer

	require.ErrorIs(t, dispatch(ctx, cfg, []string{"info"}, &out), errUsage)
	require.ErrorIs(t, dispatch(ctx, cfg, []string{"paint", "x.bin", "many"}, &out), errUsage)
	require.ErrorContains(t, dispatch(ctx, cfg, []string{"grow"}, &out), "unknown command")
}

func TestPrintList(t *testing.T) {
	var out bytes.Buffer
	printList(&out)

	for _, c := range commands {
		assert.Contains(t, out.String(), c.name)
	}
}

func TestTypesPushAndList(t *testing.T) {
	_, dsn := testutil.SetupTestDB(t)

	pc, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cc := pc.ConnConfig

	cfg := testConfig(t, bothTypes)
	cfg.Database = config.DatabaseConfig{
		Enabled:  true,
		Host:     cc.Host,
		Port:     int(cc.Port),
		User:     cc.User,
		Password: cc.Password,
		DBName:   cc.Database,
		SSLMode:  "disable",
	}

	assert.Equal(t, "pushed 2 types, 2 stored\n", exec(t, cfg, "types-push"))
	assert.Equal(t, "pushed 2 types, 2 stored\n", exec(t, cfg, "types-push"), "upsert is idempotent")

	out := exec(t, cfg, "types-list")
	assert.Contains(t, out, "Oak")
	assert.Contains(t, out, "Clover")
	assert.Contains(t, out, "grass")
}
