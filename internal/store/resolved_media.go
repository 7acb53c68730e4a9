package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrResolvedMediaNotFound = errors.New("resolved media not found")

type ResolvedMediaRecord struct {
	CacheKey       string
	Platform       string
	ContentID      string
	Variant        string
	DeliverableURL string
	Title          string
	Author         string
	Kind           string
	ResolvedAt     time.Time
	UpdatedAt      time.Time
}

func (s *Store) LookupResolvedMedia(ctx context.Context, cacheKey string) (ResolvedMediaRecord, error) {
	cacheKey = strings.TrimSpace(cacheKey)
	if cacheKey == "" {
		return ResolvedMediaRecord{}, ErrResolvedMediaNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT cache_key, platform, content_id, variant, deliverable_url, title, author, kind, resolved_at_unix, updated_at_unix
		FROM resolved_media
		WHERE cache_key = ?`, cacheKey)
	var (
		record         ResolvedMediaRecord
		resolvedAtUnix int64
		updatedAtUnix  int64
	)
	if err := row.Scan(
		&record.CacheKey,
		&record.Platform,
		&record.ContentID,
		&record.Variant,
		&record.DeliverableURL,
		&record.Title,
		&record.Author,
		&record.Kind,
		&resolvedAtUnix,
		&updatedAtUnix,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ResolvedMediaRecord{}, ErrResolvedMediaNotFound
		}
		return ResolvedMediaRecord{}, fmt.Errorf("lookup resolved media: %w", err)
	}
	record.ResolvedAt = time.Unix(resolvedAtUnix, 0).UTC()
	record.UpdatedAt = time.Unix(updatedAtUnix, 0).UTC()
	return record, nil
}

// UpsertResolvedMedia writes record under its cache key. A later write for the
// same key replaces the earlier one.
func (s *Store) UpsertResolvedMedia(ctx context.Context, record ResolvedMediaRecord) error {
	record.CacheKey = strings.TrimSpace(record.CacheKey)
	if record.CacheKey == "" {
		return fmt.Errorf("upsert resolved media: cache key is required")
	}
	if strings.TrimSpace(record.DeliverableURL) == "" {
		return fmt.Errorf("upsert resolved media: deliverable url is required")
	}
	now := time.Now().UTC()
	resolvedAt := record.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resolved_media (cache_key, platform, content_id, variant, deliverable_url, title, author, kind, resolved_at_unix, updated_at_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			platform = excluded.platform,
			content_id = excluded.content_id,
			variant = excluded.variant,
			deliverable_url = excluded.deliverable_url,
			title = excluded.title,
			author = excluded.author,
			kind = excluded.kind,
			resolved_at_unix = excluded.resolved_at_unix,
			updated_at_unix = excluded.updated_at_unix`,
		record.CacheKey,
		strings.TrimSpace(record.Platform),
		strings.TrimSpace(record.ContentID),
		strings.TrimSpace(record.Variant),
		strings.TrimSpace(record.DeliverableURL),
		record.Title,
		record.Author,
		record.Kind,
		resolvedAt.UTC().Unix(),
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert resolved media: %w", err)
	}
	return nil
}

func (s *Store) DeleteResolvedMedia(ctx context.Context, cacheKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM resolved_media WHERE cache_key = ?`, strings.TrimSpace(cacheKey)); err != nil {
		return fmt.Errorf("delete resolved media: %w", err)
	}
	return nil
}

func (s *Store) CountResolvedMedia(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resolved_media`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count resolved media: %w", err)
	}
	return count, nil
}

// ListResolvedMedia returns the most recently written entries, newest first.
func (s *Store) ListResolvedMedia(ctx context.Context, platform string, limit int) ([]ResolvedMediaRecord, error) {
	if limit < 1 || limit > 500 {
		limit = 50
	}
	query := `
		SELECT cache_key, platform, content_id, variant, deliverable_url, title, author, kind, resolved_at_unix, updated_at_unix
		FROM resolved_media`
	args := []any{}
	if platform = strings.TrimSpace(platform); platform != "" {
		query += ` WHERE platform = ?`
		args = append(args, platform)
	}
	query += ` ORDER BY updated_at_unix DESC, cache_key ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list resolved media: %w", err)
	}
	defer rows.Close()

	records := []ResolvedMediaRecord{}
	for rows.Next() {
		var (
			record         ResolvedMediaRecord
			resolvedAtUnix int64
			updatedAtUnix  int64
		)
		if err := rows.Scan(
			&record.CacheKey,
			&record.Platform,
			&record.ContentID,
			&record.Variant,
			&record.DeliverableURL,
			&record.Title,
			&record.Author,
			&record.Kind,
			&resolvedAtUnix,
			&updatedAtUnix,
		); err != nil {
			return nil, fmt.Errorf("scan resolved media: %w", err)
		}
		record.ResolvedAt = time.Unix(resolvedAtUnix, 0).UTC()
		record.UpdatedAt = time.Unix(updatedAtUnix, 0).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolved media: %w", err)
	}
	return records, nil
}
