package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sendgate/sendgate/pkg/models"
)

const blobColumns = `id, bot_slug, kind, sha256, r2_key, etag, bytes, mime, ext,
	width, height, duration, created_at, updated_at`

const cacheColumns = `id, bot_slug, sha256, kind, status, file_id, staging_chat_id,
	staging_message_id, warmup_at, last_error, created_at, updated_at`

// MediaStore persists content-addressed blobs and their per-tenant warm-up
// cache rows.
type MediaStore struct {
	pool *pgxpool.Pool
}

func NewMediaStore(pool *pgxpool.Pool) *MediaStore {
	return &MediaStore{pool: pool}
}

func scanBlob(row pgx.Row) (*models.MediaBlob, error) {
	var b models.MediaBlob
	err := row.Scan(
		&b.ID, &b.BotSlug, &b.Kind, &b.SHA256, &b.Key, &b.ETag, &b.Bytes,
		&b.Mime, &b.Ext, &b.Width, &b.Height, &b.Duration, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func scanCacheEntry(row pgx.Row) (*models.MediaCacheEntry, error) {
	var e models.MediaCacheEntry
	err := row.Scan(
		&e.ID, &e.BotSlug, &e.SHA256, &e.Kind, &e.Status, &e.FileID,
		&e.StagingChatID, &e.StagingMessageID, &e.WarmupAt, &e.LastError,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

// UpsertBlob inserts a blob row or refreshes the metadata of the existing row
// at the same object key. The blob's ID and timestamps reflect the stored row
// on return.
func (s *MediaStore) UpsertBlob(ctx context.Context, b *models.MediaBlob) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO media_store (id, bot_slug, kind, sha256, r2_key, etag, bytes, mime, ext, width, height, duration)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (r2_key) DO UPDATE SET
			etag = EXCLUDED.etag,
			bytes = EXCLUDED.bytes,
			mime = EXCLUDED.mime,
			ext = EXCLUDED.ext,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			duration = EXCLUDED.duration,
			updated_at = now()
		RETURNING id, created_at, updated_at`,
		b.ID, b.BotSlug, b.Kind, b.SHA256, b.Key, b.ETag, b.Bytes,
		b.Mime, b.Ext, b.Width, b.Height, b.Duration)
	if err := row.Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return fmt.Errorf("upserting blob %q: %w", b.Key, translate(err))
	}
	return nil
}

// GetBlob returns a blob by its content address within a tenant.
func (s *MediaStore) GetBlob(ctx context.Context, slug, sha256 string, kind models.MediaKind) (*models.MediaBlob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+blobColumns+`
		FROM media_store
		WHERE bot_slug = $1 AND sha256 = $2 AND kind = $3`,
		slug, sha256, kind)
	b, err := scanBlob(row)
	if err != nil {
		return nil, fmt.Errorf("getting blob %s/%s: %w", kind, sha256, err)
	}
	return b, nil
}

// ListBlobs returns a tenant's blobs, newest first.
func (s *MediaStore) ListBlobs(ctx context.Context, slug string) ([]*models.MediaBlob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+blobColumns+`
		FROM media_store
		WHERE bot_slug = $1
		ORDER BY created_at DESC`, slug)
	if err != nil {
		return nil, fmt.Errorf("listing blobs for bot %q: %w", slug, err)
	}
	defer rows.Close()

	var blobs []*models.MediaBlob
	for rows.Next() {
		b, err := scanBlob(rows)
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, b)
	}
	return blobs, rows.Err()
}

// EnsureCacheEntry creates a warming cache row for (tenant, sha256, kind) or
// returns the existing one untouched. The no-op DO UPDATE is what makes
// RETURNING yield the row on conflict.
func (s *MediaStore) EnsureCacheEntry(ctx context.Context, slug, sha256 string, kind models.MediaKind) (*models.MediaCacheEntry, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO media_cache (bot_slug, sha256, kind)
		VALUES ($1, $2, $3)
		ON CONFLICT (bot_slug, sha256, kind) DO UPDATE SET kind = EXCLUDED.kind
		RETURNING `+cacheColumns,
		slug, sha256, kind)
	e, err := scanCacheEntry(row)
	if err != nil {
		return nil, fmt.Errorf("ensuring cache entry %s/%s: %w", kind, sha256, err)
	}
	return e, nil
}

// GetCacheEntry returns the cache row for a content address, ErrNotFound when
// the media was never saved for this tenant.
func (s *MediaStore) GetCacheEntry(ctx context.Context, slug, sha256 string, kind models.MediaKind) (*models.MediaCacheEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+cacheColumns+`
		FROM media_cache
		WHERE bot_slug = $1 AND sha256 = $2 AND kind = $3`,
		slug, sha256, kind)
	e, err := scanCacheEntry(row)
	if err != nil {
		return nil, fmt.Errorf("getting cache entry %s/%s: %w", kind, sha256, err)
	}
	return e, nil
}

// MarkCacheReady records a successful warm-up with the remote file handle and
// where the staging copy lives.
func (s *MediaStore) MarkCacheReady(ctx context.Context, slug, sha256 string, kind models.MediaKind, fileID string, stagingChatID int64, stagingMessageID *int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE media_cache
		SET status = 'ready', file_id = $4, staging_chat_id = $5, staging_message_id = $6,
		    warmup_at = $7, last_error = NULL, updated_at = now()
		WHERE bot_slug = $1 AND sha256 = $2 AND kind = $3`,
		slug, sha256, kind, fileID, stagingChatID, stagingMessageID, at)
	if err != nil {
		return fmt.Errorf("marking cache entry %s/%s ready: %w", kind, sha256, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCacheError records a failed warm-up. Any stale file handle is dropped so
// a later send cannot use it.
func (s *MediaStore) MarkCacheError(ctx context.Context, slug, sha256 string, kind models.MediaKind, msg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE media_cache
		SET status = 'error', file_id = NULL, last_error = $4, updated_at = now()
		WHERE bot_slug = $1 AND sha256 = $2 AND kind = $3`,
		slug, sha256, kind, msg)
	if err != nil {
		return fmt.Errorf("marking cache entry %s/%s errored: %w", kind, sha256, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
