package di

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/userdots/pkg/codec"
	"github.com/ssargent/userdots/pkg/config"
	"github.com/ssargent/userdots/pkg/query"
	"github.com/ssargent/userdots/pkg/storage"
	"github.com/ssargent/userdots/pkg/store"
)

func testRecords() []*codec.UserRecord {
	return []*codec.UserRecord{
		{ID: 1, Name: "Bob", Events: []int64{100}},
		{ID: 2, Name: "carol", Events: []int64{150, 200}},
		{ID: 3, Name: "Dave", Events: []int64{50}},
	}
}

func testConfig(t *testing.T, kind store.Compression) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Data.Path = filepath.Join(dir, "users.bin")
	cfg.Data.Compression = string(kind)

	_, err := store.WriteContainer(cfg.Data.Path, kind, codec.NewSliceSource(testRecords()))
	require.NoError(t, err)
	return cfg
}

func openBackend(t *testing.T, c *Container) store.Backend {
	t.Helper()
	backend, err := c.OpenBackend()
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestContainer_OpenBackendPlain(t *testing.T) {
	c := NewContainer(testConfig(t, store.CompressionNone), nil)

	backend := openBackend(t, c)

	assert.IsType(t, &store.SeekBackend{}, backend)
	assert.Equal(t, 0, backend.Stats().Names)
	assert.False(t, backend.Complete())
}

func TestContainer_OpenBackendMemory(t *testing.T) {
	cfg := testConfig(t, store.CompressionZstd)
	cfg.Server.Memory = true
	c := NewContainer(cfg, nil)

	backend := openBackend(t, c)

	assert.True(t, backend.Complete())
	stats := backend.Stats()
	assert.Equal(t, 3, stats.Cached)
	assert.Equal(t, 3, stats.Names)
	assert.Equal(t, 3, stats.IDs)
}

func TestContainer_OpenBackendCSVIndex(t *testing.T) {
	cfg := testConfig(t, store.CompressionNone)
	cfg.Data.IndexPath = filepath.Join(filepath.Dir(cfg.Data.Path), "users.idx")
	require.NoError(t, os.WriteFile(cfg.Data.IndexPath, []byte("1,0,Bob\n2,28,carol\n3,66,Dave\n"), 0600))
	c := NewContainer(cfg, nil)

	backend := openBackend(t, c)

	ref, err := backend.LookupName("CAROL")
	require.NoError(t, err)
	assert.Equal(t, store.RefPendingSeek, ref.Kind())

	rec, err := backend.Resolve(ref)
	require.NoError(t, err)
	assert.Equal(t, []int64{150, 200}, rec.Events)
}

func TestContainer_OpenBackendPebbleIndex(t *testing.T) {
	cfg := testConfig(t, store.CompressionNone)
	cfg.Data.IndexPath = filepath.Join(filepath.Dir(cfg.Data.Path), "users.pebble")
	cfg.Data.IndexFormat = "pebble"

	src := NewContainer(cfg, nil)
	raw, err := src.OpenContainer()
	require.NoError(t, err)
	idx, err := storage.OpenPebbleIndex(cfg.Data.IndexPath)
	require.NoError(t, err)
	n, err := idx.Build(raw)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, idx.Close())
	require.NoError(t, raw.Close())

	backend := openBackend(t, NewContainer(cfg, nil))

	ref, err := backend.LookupID(3)
	require.NoError(t, err)
	rec, err := backend.Resolve(ref)
	require.NoError(t, err)
	assert.Equal(t, "Dave", rec.Name)
}

func TestContainer_IndexIgnoredForCompressed(t *testing.T) {
	cfg := testConfig(t, store.CompressionGzip)
	cfg.Data.IndexPath = filepath.Join(filepath.Dir(cfg.Data.Path), "missing.idx")

	backend := openBackend(t, NewContainer(cfg, nil))

	assert.IsType(t, &store.CacheBackend{}, backend)
}

func TestContainer_OpenBackendErrors(t *testing.T) {
	t.Run("bad compression", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Data.Compression = "lz4"
		_, err := NewContainer(cfg, nil).OpenBackend()
		assert.Error(t, err)
	})

	t.Run("opener failure", func(t *testing.T) {
		boom := errors.New("boom")
		c := NewContainer(config.DefaultConfig(), nil)
		c.SetBackendOpener(func(string, store.ContainerOptions) (store.Backend, error) {
			return nil, boom
		})
		_, err := c.OpenBackend()
		assert.ErrorIs(t, err, boom)
	})

	t.Run("missing index", func(t *testing.T) {
		cfg := testConfig(t, store.CompressionNone)
		cfg.Data.IndexPath = filepath.Join(t.TempDir(), "nope.idx")
		_, err := NewContainer(cfg, nil).OpenBackend()
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestContainer_Engine(t *testing.T) {
	cfg := testConfig(t, store.CompressionNone)
	cfg.Query.UseIndex = false
	c := NewContainer(cfg, nil)
	backend := openBackend(t, c)

	groups, err := query.ParseQuery("dave,gl:b*")
	require.NoError(t, err)

	results, err := c.Engine(backend).Find(context.Background(), groups, c.Settings())
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Len(t, results[0], 1)
	assert.Equal(t, int64(3), results[0][0].ID)
	require.Len(t, results[1], 1)
	assert.Equal(t, "Bob", results[1][0].Name)
}

func TestContainer_ServerConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Query.Limit = 25
	c := NewContainer(cfg, nil)
	c.SetRegistry(prometheus.NewRegistry())

	sc := c.ServerConfig()
	assert.Equal(t, "127.0.0.1", sc.Bind)
	assert.Equal(t, 8080, sc.Port)
	assert.Equal(t, 25, sc.Limit)
	assert.True(t, sc.UseIndex)
	assert.Equal(t, cfg.Server.QueryTimeout, sc.QueryTimeout)

	backend := store.NewMemoryBackend()
	assert.NotNil(t, c.NewServer(backend))
	assert.Equal(t, query.Limits{MaxPatternBytes: 4096, MaxNesting: 5, MaxInstructions: 100000}, c.Limits())
}
