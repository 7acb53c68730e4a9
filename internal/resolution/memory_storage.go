package resolution

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dwizi/media-relay/internal/media"
)

const defaultMemoryEntries = 4096

// MemoryStorage keeps entries in process. The least recently used entry is
// evicted once the bound is reached.
type MemoryStorage struct {
	entries *lru.Cache[string, media.ResolvedMedia]
}

func NewMemoryStorage(size int) (*MemoryStorage, error) {
	if size < 1 {
		size = defaultMemoryEntries
	}
	entries, err := lru.New[string, media.ResolvedMedia](size)
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}
	return &MemoryStorage{entries: entries}, nil
}

func (s *MemoryStorage) Get(_ context.Context, key string) (media.ResolvedMedia, bool, error) {
	value, ok := s.entries.Get(key)
	return value, ok, nil
}

func (s *MemoryStorage) Put(_ context.Context, key string, value media.ResolvedMedia) error {
	s.entries.Add(key, value)
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	s.entries.Remove(key)
	return nil
}

func (s *MemoryStorage) Len() int {
	return s.entries.Len()
}

func (s *MemoryStorage) Ping(context.Context) error { return nil }

func (s *MemoryStorage) Close() error {
	s.entries.Purge()
	return nil
}
