package resolution

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/metrics"
)

// Storage is the key-value engine underneath the cache. Implementations must
// be safe for concurrent use; colliding writes resolve as last write wins.
type Storage interface {
	Get(ctx context.Context, key string) (media.ResolvedMedia, bool, error)
	Put(ctx context.Context, key string, value media.ResolvedMedia) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

type Resolver func(ctx context.Context) (media.ResolvedMedia, error)

type Stats struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Puts           int64 `json:"puts"`
	ResolverErrors int64 `json:"resolver_errors"`
	StorageErrors  int64 `json:"storage_errors"`
}

type Option func(*Cache)

// WithSingleflight makes concurrent misses on one key share a single resolver call.
func WithSingleflight() Option {
	return func(cache *Cache) {
		cache.group = &singleflight.Group{}
	}
}

func WithClock(now func() time.Time) Option {
	return func(cache *Cache) {
		if now != nil {
			cache.now = now
		}
	}
}

// Cache is a read-through memo of resolved media. Entries never expire on
// their own; Invalidate is the only way to drop one.
type Cache struct {
	storage Storage
	backend string
	group   *singleflight.Group
	now     func() time.Time
	logger  *slog.Logger

	hits           atomic.Int64
	misses         atomic.Int64
	puts           atomic.Int64
	resolverErrors atomic.Int64
	storageErrors  atomic.Int64
}

func New(storage Storage, backend string, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	cache := &Cache{
		storage: storage,
		backend: backend,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

func (c *Cache) Backend() string {
	return c.backend
}

func (c *Cache) Get(ctx context.Context, key Key) (media.ResolvedMedia, bool, error) {
	if !key.Valid() {
		return media.ResolvedMedia{}, false, fmt.Errorf("get cached media: invalid key %q", key.String())
	}
	value, ok, err := c.storage.Get(ctx, key.String())
	if err != nil {
		c.storageErrors.Add(1)
		metrics.CacheLookupTotal.WithLabelValues(c.backend, "error").Inc()
		return media.ResolvedMedia{}, false, fmt.Errorf("get cached media %s: %w", key.String(), err)
	}
	if !ok || !value.Valid() {
		c.misses.Add(1)
		metrics.CacheLookupTotal.WithLabelValues(c.backend, "miss").Inc()
		return media.ResolvedMedia{}, false, nil
	}
	c.hits.Add(1)
	metrics.CacheLookupTotal.WithLabelValues(c.backend, "hit").Inc()
	return value, true, nil
}

// GetOrResolve returns the cached entry for key, or runs resolve and stores
// its result. A storage read failure is treated as a miss and a storage write
// failure is logged: the caller still gets the freshly resolved media.
func (c *Cache) GetOrResolve(ctx context.Context, key Key, resolve Resolver) (media.ResolvedMedia, error) {
	if resolve == nil {
		return media.ResolvedMedia{}, fmt.Errorf("resolve %s: resolver is required", key.String())
	}
	cached, ok, err := c.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed, resolving", "key", key.String(), "error", err)
	} else if ok {
		return cached, nil
	}

	if c.group == nil {
		return c.resolveAndPut(ctx, key, resolve)
	}
	value, err, shared := c.group.Do(key.String(), func() (any, error) {
		return c.resolveAndPut(ctx, key, resolve)
	})
	if err != nil {
		return media.ResolvedMedia{}, err
	}
	if shared {
		c.logger.Debug("resolution shared with concurrent request", "key", key.String())
	}
	return value.(media.ResolvedMedia), nil
}

func (c *Cache) resolveAndPut(ctx context.Context, key Key, resolve Resolver) (media.ResolvedMedia, error) {
	value, err := resolve(ctx)
	if err != nil {
		c.resolverErrors.Add(1)
		return media.ResolvedMedia{}, err
	}
	if value.Platform == "" {
		value.Platform = key.Platform
	}
	if value.ContentID == "" {
		value.ContentID = key.ContentID
	}
	if value.Variant == "" {
		value.Variant = key.Variant
	}
	if value.ResolvedAt.IsZero() {
		value.ResolvedAt = c.now().UTC()
	}
	if !value.Valid() {
		c.resolverErrors.Add(1)
		return media.ResolvedMedia{}, fmt.Errorf("resolve %s: resolver returned an incomplete entry", key.String())
	}
	if err := c.put(ctx, key, value); err != nil {
		c.logger.Warn("cache write failed", "key", key.String(), "error", err)
	}
	return value, nil
}

func (c *Cache) put(ctx context.Context, key Key, value media.ResolvedMedia) error {
	if err := c.storage.Put(ctx, key.String(), value); err != nil {
		c.storageErrors.Add(1)
		return fmt.Errorf("put cached media %s: %w", key.String(), err)
	}
	c.puts.Add(1)
	return nil
}

func (c *Cache) Invalidate(ctx context.Context, key Key) error {
	if !key.Valid() {
		return fmt.Errorf("invalidate cached media: invalid key %q", key.String())
	}
	if err := c.storage.Delete(ctx, key.String()); err != nil {
		return fmt.Errorf("invalidate cached media %s: %w", key.String(), err)
	}
	c.logger.Info("cache entry invalidated", "key", key.String())
	return nil
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		Puts:           c.puts.Load(),
		ResolverErrors: c.resolverErrors.Load(),
		StorageErrors:  c.storageErrors.Load(),
	}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.storage.Ping(ctx)
}

func (c *Cache) Close() error {
	return c.storage.Close()
}
