// Package di provides dependency injection container
package di

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ssargent/userdots/pkg/api" //nolint:depguard
	"github.com/ssargent/userdots/pkg/config"
	"github.com/ssargent/userdots/pkg/query"
	"github.com/ssargent/userdots/pkg/storage"
	"github.com/ssargent/userdots/pkg/store"
)

// BackendOpener opens a container file
type BackendOpener func(path string, opts store.ContainerOptions) (store.Backend, error)

// Container holds all the dependencies for the application
type Container struct {
	config      *config.Config
	logger      *zap.Logger
	openBackend BackendOpener
	registry    *prometheus.Registry
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config, logger *zap.Logger) *Container {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Container{
		config:      cfg,
		logger:      logger,
		openBackend: store.OpenContainer,
	}
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the application logger
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// SetBackendOpener allows overriding how containers are opened (for testing)
func (c *Container) SetBackendOpener(open BackendOpener) {
	c.openBackend = open
}

// SetRegistry registers server metrics with reg instead of the default registry
func (c *Container) SetRegistry(reg *prometheus.Registry) {
	c.registry = reg
}

// ContainerOptions translates the data and server sections
func (c *Container) ContainerOptions() (store.ContainerOptions, error) {
	kind, err := store.ParseCompression(c.config.Data.Compression)
	if err != nil {
		return store.ContainerOptions{}, err
	}
	return store.ContainerOptions{
		Compression: kind,
		Mmap:        c.config.Data.Mmap,
		NonBlocking: c.config.Server.NonBlocking,
	}, nil
}

// CachePolicy returns the cache policy of the server section
func (c *Container) CachePolicy() store.CachePolicy {
	s := c.config.Server
	return store.CachePolicy{
		Names:      s.CacheNames,
		IDs:        s.CacheIDs,
		Offsets:    s.CacheOffsets,
		PreferSeek: s.PreferSeek,
	}
}

// OpenContainer opens the configured container without touching its cache
func (c *Container) OpenContainer() (store.Backend, error) {
	opts, err := c.ContainerOptions()
	if err != nil {
		return nil, err
	}
	backend, err := c.openBackend(c.config.Data.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("opening container %s: %w", c.config.Data.Path, err)
	}
	return backend, nil
}

// OpenBackend opens the configured container and prepares its indexes:
// a full caching pass in memory mode, otherwise the persisted index when
// one is configured.
func (c *Container) OpenBackend() (store.Backend, error) {
	backend, err := c.OpenContainer()
	if err != nil {
		return nil, err
	}

	if c.config.Server.Memory {
		n, err := store.Warm(backend, c.CachePolicy())
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("caching container: %w", err)
		}
		c.logger.Info("container cached", zap.Int("records", n))
		return backend, nil
	}

	if c.config.Data.IndexPath == "" {
		return backend, nil
	}

	seeker, ok := backend.(*store.SeekBackend)
	if !ok {
		c.logger.Warn("persisted index ignored, container is not seekable",
			zap.String("compression", c.config.Data.Compression))
		return backend, nil
	}

	entries, err := c.LoadIndex()
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	n := seeker.Preload(entries)
	c.logger.Info("persisted index loaded",
		zap.String("path", c.config.Data.IndexPath),
		zap.String("format", c.config.Data.IndexFormat),
		zap.Int("entries", n),
	)
	return backend, nil
}

// LoadIndex reads the persisted index in the configured format
func (c *Container) LoadIndex() ([]store.IndexEntry, error) {
	path := c.config.Data.IndexPath
	if c.config.Data.IndexFormat == "pebble" {
		idx, err := storage.OpenPebbleIndex(path)
		if err != nil {
			return nil, fmt.Errorf("opening index %s: %w", path, err)
		}
		defer idx.Close()
		return idx.Entries()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", path, err)
	}
	defer f.Close()
	return store.LoadIndex(f)
}

// Limits returns the pattern limits of the query section
func (c *Container) Limits() query.Limits {
	q := c.config.Query
	return query.Limits{
		MaxPatternBytes: q.MaxPatternBytes,
		MaxNesting:      q.MaxNesting,
		MaxInstructions: q.MaxInstructions,
	}
}

// Settings returns the default query settings
func (c *Container) Settings() query.Settings {
	return query.Settings{UseIndex: c.config.Query.UseIndex, Limit: c.config.Query.Limit}
}

// Engine creates a query engine over backend
func (c *Container) Engine(backend store.Backend) *query.Engine {
	return query.NewEngine(backend,
		query.WithLogger(c.logger.Named("query")),
		query.WithLimits(c.Limits()),
	)
}

// ServerConfig translates the server and query sections
func (c *Container) ServerConfig() api.ServerConfig {
	s := c.config.Server
	return api.ServerConfig{
		Bind:           s.Bind,
		Port:           s.Port,
		Limit:          c.config.Query.Limit,
		UseIndex:       c.config.Query.UseIndex,
		QueryTimeout:   s.QueryTimeout,
		RetryAfter:     s.RetryAfter,
		AllowedOrigins: s.AllowedOrigins,
	}
}

// NewServer creates the API server over backend
func (c *Container) NewServer(backend store.Backend) *api.Server {
	return api.NewServer(
		c.Engine(backend),
		c.ServerConfig(),
		api.NewMetrics(c.registry),
		c.logger.Named("api"),
	)
}
