package di

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-repository-sync/cache"
	"github.com/goliatone/go-repository-sync/localstore"
	"github.com/goliatone/go-repository-sync/reactive"
	"github.com/goliatone/go-repository-sync/remote"
	"github.com/goliatone/go-repository-sync/repositorysync"
)

// Container owns the resources shared by every repository it creates: the
// database handle, the optional memory tier, the key serializer, the worker
// scheduler and the logger.
type Container struct {
	config        Config
	db            *bun.DB
	cacheService  cache.CacheService
	keySerializer cache.KeySerializer
	scheduler     *reactive.Scheduler
	logger        zerolog.Logger
	closeDB       func() error
}

// ContainerOption customises a Container.
type ContainerOption func(*containerOptions)

type containerOptions struct {
	logOutput io.Writer
	logger    *zerolog.Logger
	db        *bun.DB
}

// WithLogOutput sends the container logger to w instead of stderr.
func WithLogOutput(w io.Writer) ContainerOption {
	return func(o *containerOptions) { o.logOutput = w }
}

// WithContainerLogger replaces the logger built from Config.Log.
func WithContainerLogger(l zerolog.Logger) ContainerOption {
	return func(o *containerOptions) { o.logger = &l }
}

// WithDB reuses an open database instead of opening Config.Store. The caller
// keeps ownership: Close does not close it.
func WithDB(db *bun.DB) ContainerOption {
	return func(o *containerOptions) { o.db = db }
}

// NewContainer validates config, opens the database and builds the shared
// services.
func NewContainer(ctx context.Context, config Config, opts ...ContainerOption) (*Container, error) {
	var o containerOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(config.Log, o.logOutput)
	if err != nil {
		return nil, err
	}
	if o.logger != nil {
		logger = *o.logger
	}

	c := &Container{
		config:        config,
		keySerializer: cache.NewDefaultKeySerializer(),
		scheduler:     reactive.NewScheduler(config.Sync.Concurrency),
		logger:        logger,
	}

	if config.Cache.Enabled {
		c.cacheService, err = cache.NewCacheService(config.Cache.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory tier: %w", err)
		}
	}

	if o.db != nil {
		c.db = o.db
	} else {
		c.db, err = localstore.Open(ctx, config.Store)
		if err != nil {
			return nil, err
		}
		c.closeDB = c.db.Close
	}

	logger.Debug().
		Str("driver", config.Store.Driver).
		Str("remote", config.Remote.BaseURL).
		Bool("memory_tier", config.Cache.Enabled).
		Int("concurrency", config.Sync.Concurrency).
		Msg("container ready")
	return c, nil
}

// NewContainerFromFile loads the YAML configuration at path and builds a
// container from it.
func NewContainerFromFile(ctx context.Context, path string, opts ...ContainerOption) (*Container, error) {
	config, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewContainer(ctx, config, opts...)
}

// Config returns the configuration the container was built with.
func (c *Container) Config() Config { return c.config }

// DB returns the database shared by every local store.
func (c *Container) DB() *bun.DB { return c.db }

// CacheService returns the memory tier, or nil when it is disabled.
func (c *Container) CacheService() cache.CacheService { return c.cacheService }

// KeySerializer returns the memory tier key strategy.
func (c *Container) KeySerializer() cache.KeySerializer { return c.keySerializer }

// Scheduler returns the worker pool local store and remote calls run on.
func (c *Container) Scheduler() *reactive.Scheduler { return c.scheduler }

// Logger returns the container logger.
func (c *Container) Logger() zerolog.Logger { return c.logger }

// Close releases the database when the container opened it.
func (c *Container) Close() error {
	if c.closeDB == nil {
		return nil
	}
	fn := c.closeDB
	c.closeDB = nil
	return fn()
}

// NewRepository wires a local store, a remote client and a sync repository for
// payload type P. resource overrides Config.Remote.Resource, so one container
// can serve several REST collections; each gets its own table.
//
// Since Go methods cannot have type parameters, this is a package-level
// function: NewRepository[Player](ctx, container, "players").
func NewRepository[P any](ctx context.Context, c *Container, resource string) (*repositorysync.Repository[P], error) {
	codec, err := localstore.CodecByName(c.config.Store.Codec)
	if err != nil {
		return nil, err
	}

	storeOpts := []localstore.Option{
		localstore.WithCodec(codec),
		localstore.WithLogger(c.logger),
	}
	if table := c.config.Store.Table; table != "" {
		storeOpts = append(storeOpts, localstore.WithTable(table))
	}
	store, err := localstore.New[P](ctx, c.db, storeOpts...)
	if err != nil {
		return nil, err
	}

	rcfg := c.config.Remote
	if resource = strings.Trim(resource, "/"); resource != "" {
		rcfg.Resource = resource
	}
	client, err := remote.New[P](rcfg,
		remote.WithScheduler(c.scheduler),
		remote.WithLogger(c.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("remote %s: %w", rcfg.Resource, err)
	}

	opts := []repositorysync.Option{
		repositorysync.WithKeySerializer(c.keySerializer),
		repositorysync.WithLogger(c.logger),
		repositorysync.WithScheduler(c.scheduler),
	}
	if c.cacheService != nil {
		opts = append(opts, repositorysync.WithCache(c.cacheService))
	}
	return repositorysync.New[P](store, client, c.config.Sync, opts...)
}
