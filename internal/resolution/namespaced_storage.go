package resolution

import (
	"context"
	"strings"

	"github.com/dwizi/media-relay/internal/media"
)

// NamespacedStorage partitions a shared backend so each transport keeps its
// own deliverables. Closing it leaves the underlying storage open.
type NamespacedStorage struct {
	base      Storage
	namespace string
}

func Namespaced(base Storage, namespace string) Storage {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return base
	}
	return &NamespacedStorage{base: base, namespace: namespace + "/"}
}

func (s *NamespacedStorage) Get(ctx context.Context, key string) (media.ResolvedMedia, bool, error) {
	return s.base.Get(ctx, s.namespace+key)
}

func (s *NamespacedStorage) Put(ctx context.Context, key string, value media.ResolvedMedia) error {
	return s.base.Put(ctx, s.namespace+key, value)
}

func (s *NamespacedStorage) Delete(ctx context.Context, key string) error {
	return s.base.Delete(ctx, s.namespace+key)
}

func (s *NamespacedStorage) Ping(ctx context.Context) error {
	return s.base.Ping(ctx)
}

func (s *NamespacedStorage) Close() error {
	return nil
}
