package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CachedImage returns the image previously produced by applying cacheKey on
// parentImageID, or "" when the cache has no entry.
func (s *Store) CachedImage(ctx context.Context, parentImageID, cacheKey string) (string, error) {
	query := `SELECT image_id FROM step_cache WHERE parent_image_id = ? AND cache_key = ?`

	var imageID string
	err := s.conn.QueryRowContext(ctx, query, parentImageID, cacheKey).Scan(&imageID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cache lookup: %w", err)
	}

	return imageID, nil
}

// PutCachedImage records that applying cacheKey on parentImageID produced
// imageID, replacing any previous entry.
func (s *Store) PutCachedImage(ctx context.Context, parentImageID, cacheKey, imageID string) error {
	query := `
		INSERT INTO step_cache (parent_image_id, cache_key, image_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (parent_image_id, cache_key) DO UPDATE SET image_id = excluded.image_id
	`

	_, err := s.conn.ExecContext(ctx, query, parentImageID, cacheKey, imageID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}

	return nil
}

// EvictCachedImage drops an entry, e.g. when the engine no longer holds the
// cached image.
func (s *Store) EvictCachedImage(ctx context.Context, parentImageID, cacheKey string) error {
	query := `DELETE FROM step_cache WHERE parent_image_id = ? AND cache_key = ?`

	if _, err := s.conn.ExecContext(ctx, query, parentImageID, cacheKey); err != nil {
		return fmt.Errorf("cache evict: %w", err)
	}

	return nil
}
