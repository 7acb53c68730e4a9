package resolution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dwizi/media-relay/internal/media"
)

const defaultRedisPrefix = "media-relay:resolved:"

// RedisStorage shares entries between relay instances. Keys carry no TTL.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

func NewRedisStorage(client *redis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStorage{client: client, prefix: prefix}
}

func (s *RedisStorage) Get(ctx context.Context, key string) (media.ResolvedMedia, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return media.ResolvedMedia{}, false, nil
		}
		return media.ResolvedMedia{}, false, fmt.Errorf("redis get: %w", err)
	}
	var value media.ResolvedMedia
	if err := json.Unmarshal(raw, &value); err != nil {
		return media.ResolvedMedia{}, false, fmt.Errorf("decode cached entry: %w", err)
	}
	return value, true, nil
}

func (s *RedisStorage) Put(ctx context.Context, key string, value media.ResolvedMedia) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}
