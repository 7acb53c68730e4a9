package resolution

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/dwizi/media-relay/internal/store"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

type StorageConfig struct {
	Backend       string
	MemoryEntries int
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	BadgerPath    string
}

// OpenStorage builds the storage backend named by cfg.Backend. An empty
// backend selects the in-memory store. The sqlite backend reuses sqlStore
// when it is non-nil and otherwise opens cfg.SQLitePath.
func OpenStorage(ctx context.Context, cfg StorageConfig, sqlStore *store.Store) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemoryStorage(cfg.MemoryEntries)
	case BackendSQLite:
		if sqlStore != nil {
			return NewSQLiteStorage(sqlStore), nil
		}
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return nil, fmt.Errorf("sqlite cache backend requires a database path")
		}
		opened, err := store.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := opened.AutoMigrate(ctx); err != nil {
			opened.Close()
			return nil, err
		}
		return &SQLiteStorage{store: opened, ownsStore: true}, nil
	case BackendRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return nil, fmt.Errorf("redis cache backend requires an address")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return NewRedisStorage(client, cfg.RedisPrefix), nil
	case BackendBadger:
		if strings.TrimSpace(cfg.BadgerPath) == "" {
			return nil, fmt.Errorf("badger cache backend requires a directory")
		}
		return OpenBadgerStorage(cfg.BadgerPath)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}
