package resolution

import (
	"context"
	"errors"

	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/store"
)

// SQLiteStorage persists entries in the resolved_media table.
type SQLiteStorage struct {
	store     *store.Store
	ownsStore bool
}

func NewSQLiteStorage(sqlStore *store.Store) *SQLiteStorage {
	return &SQLiteStorage{store: sqlStore}
}

func (s *SQLiteStorage) Get(ctx context.Context, key string) (media.ResolvedMedia, bool, error) {
	record, err := s.store.LookupResolvedMedia(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrResolvedMediaNotFound) {
			return media.ResolvedMedia{}, false, nil
		}
		return media.ResolvedMedia{}, false, err
	}
	return media.ResolvedMedia{
		Platform:       media.Platform(record.Platform),
		ContentID:      record.ContentID,
		Variant:        record.Variant,
		DeliverableURL: record.DeliverableURL,
		Title:          record.Title,
		Author:         record.Author,
		Kind:           media.Kind(record.Kind),
		ResolvedAt:     record.ResolvedAt,
	}, true, nil
}

func (s *SQLiteStorage) Put(ctx context.Context, key string, value media.ResolvedMedia) error {
	return s.store.UpsertResolvedMedia(ctx, store.ResolvedMediaRecord{
		CacheKey:       key,
		Platform:       string(value.Platform),
		ContentID:      value.ContentID,
		Variant:        value.Variant,
		DeliverableURL: value.DeliverableURL,
		Title:          value.Title,
		Author:         value.Author,
		Kind:           string(value.Kind),
		ResolvedAt:     value.ResolvedAt,
	})
}

func (s *SQLiteStorage) Delete(ctx context.Context, key string) error {
	return s.store.DeleteResolvedMedia(ctx, key)
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close only closes the database when the storage opened it itself.
func (s *SQLiteStorage) Close() error {
	if !s.ownsStore {
		return nil
	}
	return s.store.Close()
}
