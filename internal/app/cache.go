package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dwizi/media-relay/internal/config"
	"github.com/dwizi/media-relay/internal/resolution"
	"github.com/dwizi/media-relay/internal/store"
)

// cacheBackend owns the shared resolution storage. Each connector reads and
// writes its own namespace of it.
type cacheBackend struct {
	name    string
	store   *store.Store
	storage resolution.Storage
}

func openCacheBackend(ctx context.Context, cfg config.Config) (*cacheBackend, error) {
	backend := &cacheBackend{name: strings.TrimSpace(cfg.CacheBackend)}
	if backend.name == "" {
		backend.name = resolution.BackendMemory
	}
	switch backend.name {
	case resolution.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		sqlStore, err := store.New(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := sqlStore.AutoMigrate(ctx); err != nil {
			sqlStore.Close()
			return nil, err
		}
		backend.store = sqlStore
	case resolution.BackendBadger:
		if err := os.MkdirAll(cfg.BadgerPath, 0o755); err != nil {
			return nil, fmt.Errorf("create badger directory: %w", err)
		}
	}
	storage, err := resolution.OpenStorage(ctx, resolution.StorageConfig{
		Backend:       backend.name,
		MemoryEntries: cfg.CacheMemoryEntries,
		SQLitePath:    cfg.DBPath,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		RedisPrefix:   cfg.RedisPrefix,
		BadgerPath:    cfg.BadgerPath,
	}, backend.store)
	if err != nil {
		if backend.store != nil {
			backend.store.Close()
		}
		return nil, fmt.Errorf("open %s cache backend: %w", backend.name, err)
	}
	backend.storage = storage
	return backend, nil
}

func (b *cacheBackend) cacheFor(connector string, singleflight bool, logger *slog.Logger) *resolution.Cache {
	opts := []resolution.Option{}
	if singleflight {
		opts = append(opts, resolution.WithSingleflight())
	}
	return resolution.New(
		resolution.Namespaced(b.storage, connector),
		b.name,
		logger.With("component", "resolution", "connector", connector),
		opts...,
	)
}

// garbageCollector returns the storage when it needs periodic compaction.
func (b *cacheBackend) garbageCollector() (*resolution.BadgerStorage, bool) {
	badger, ok := b.storage.(*resolution.BadgerStorage)
	return badger, ok
}

func (b *cacheBackend) Close() error {
	var errs []error
	if b.storage != nil {
		errs = append(errs, b.storage.Close())
	}
	if b.store != nil {
		errs = append(errs, b.store.Close())
	}
	return errors.Join(errs...)
}

// OpenCache opens the configured cache backend and returns the namespace that
// belongs to connector. The returned func releases the backend.
func OpenCache(ctx context.Context, cfg config.Config, connector string, logger *slog.Logger) (*resolution.Cache, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	connector = strings.ToLower(strings.TrimSpace(connector))
	if connector == "" {
		return nil, nil, errors.New("connector is required")
	}
	backend, err := openCacheBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return backend.cacheFor(connector, false, logger), backend.Close, nil
}
