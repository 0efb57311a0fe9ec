package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sendgate/sendgate/pkg/models"
)

const broadcastColumns = `id, bot_slug, title, content, audience, status, total, sent, failed,
	created_at, started_at, completed_at`

// BroadcastStore persists broadcasts and their per-recipient queue rows.
type BroadcastStore struct {
	pool *pgxpool.Pool
}

func NewBroadcastStore(pool *pgxpool.Pool) *BroadcastStore {
	return &BroadcastStore{pool: pool}
}

func scanBroadcast(row pgx.Row) (*models.Broadcast, error) {
	var b models.Broadcast
	err := row.Scan(
		&b.ID, &b.BotSlug, &b.Title, &b.Content, &b.Audience, &b.Status,
		&b.Total, &b.Sent, &b.Failed, &b.CreatedAt, &b.StartedAt, &b.CompletedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func scanBroadcastRow(row pgx.Row) (*models.BroadcastRow, error) {
	var r models.BroadcastRow
	err := row.Scan(
		&r.ID, &r.BroadcastID, &r.BotSlug, &r.ChatID, &r.Status,
		&r.Attempts, &r.Error, &r.LastAttemptAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

// Create inserts a draft broadcast. The caller supplies the id.
func (s *BroadcastStore) Create(ctx context.Context, b *models.Broadcast) error {
	if b.Content.Text == "" && len(b.Content.Media) == 0 {
		return NewValidationError("content", "broadcast needs text or media")
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO broadcasts (id, bot_slug, title, content, audience)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING status, created_at`,
		b.ID, b.BotSlug, b.Title, b.Content, b.Audience)
	if err := row.Scan(&b.Status, &b.CreatedAt); err != nil {
		return fmt.Errorf("creating broadcast for bot %q: %w", b.BotSlug, translate(err))
	}
	return nil
}

// Get returns a broadcast by id.
func (s *BroadcastStore) Get(ctx context.Context, id string) (*models.Broadcast, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+broadcastColumns+`
		FROM broadcasts
		WHERE id = $1`, id)
	b, err := scanBroadcast(row)
	if err != nil {
		return nil, fmt.Errorf("getting broadcast %s: %w", id, err)
	}
	return b, nil
}

// ListByBot returns a bot's broadcasts, newest first.
func (s *BroadcastStore) ListByBot(ctx context.Context, slug string) ([]*models.Broadcast, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+broadcastColumns+`
		FROM broadcasts
		WHERE bot_slug = $1
		ORDER BY created_at DESC`, slug)
	if err != nil {
		return nil, fmt.Errorf("listing broadcasts for bot %q: %w", slug, err)
	}
	defer rows.Close()

	var broadcasts []*models.Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		broadcasts = append(broadcasts, b)
	}
	return broadcasts, rows.Err()
}

// ListSending returns the broadcasts currently in the sending state, oldest
// start first so the drain services them fairly.
func (s *BroadcastStore) ListSending(ctx context.Context) ([]*models.Broadcast, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+broadcastColumns+`
		FROM broadcasts
		WHERE status = 'sending'
		ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("listing sending broadcasts: %w", err)
	}
	defer rows.Close()

	var broadcasts []*models.Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		broadcasts = append(broadcasts, b)
	}
	return broadcasts, rows.Err()
}

// Transition moves a broadcast from one of the given states to another,
// stamping started_at on the first entry into sending and completed_at on
// terminal states. Reports false when the broadcast was not in an allowed
// source state, which is how concurrent admin calls lose races cleanly.
func (s *BroadcastStore) Transition(ctx context.Context, id string, from []models.BroadcastStatus, to models.BroadcastStatus) (bool, error) {
	fromStr := make([]string, len(from))
	for i, st := range from {
		fromStr[i] = string(st)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE broadcasts
		SET status = $2,
		    started_at = CASE WHEN $2 = 'sending' AND started_at IS NULL THEN now() ELSE started_at END,
		    completed_at = CASE WHEN $2 IN ('completed', 'canceled') THEN now() ELSE completed_at END
		WHERE id = $1 AND status = ANY($3)`,
		id, to, fromStr)
	if err != nil {
		return false, fmt.Errorf("transitioning broadcast %s to %s: %w", id, to, translate(err))
	}
	return tag.RowsAffected() == 1, nil
}

// PopulateAudience materialises the audience selector into queue rows and
// refreshes the total counter. Safe to call repeatedly; recipients already
// queued are kept.
func (s *BroadcastStore) PopulateAudience(ctx context.Context, b *models.Broadcast) (int, error) {
	kind := models.FunnelStart
	if b.Audience == models.AudienceAfterPix {
		kind = models.FunnelPixCreated
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO broadcast_queue (broadcast_id, bot_slug, chat_id)
		SELECT DISTINCT $1::uuid, f.bot_slug, f.chat_id
		FROM funnel_events f
		WHERE f.bot_slug = $2 AND f.kind = $3
		ON CONFLICT (broadcast_id, chat_id) DO NOTHING`,
		b.ID, b.BotSlug, kind)
	if err != nil {
		return 0, fmt.Errorf("populating broadcast %s: %w", b.ID, translate(err))
	}
	var total int
	err = s.pool.QueryRow(ctx, `
		UPDATE broadcasts
		SET total = (SELECT COUNT(*) FROM broadcast_queue WHERE broadcast_id = $1)
		WHERE id = $1
		RETURNING total`, b.ID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("updating total for broadcast %s: %w", b.ID, translate(err))
	}
	b.Total = total
	return total, nil
}

// ClaimRows atomically picks up to limit pending rows of a broadcast in
// insertion order, bumping attempts and last_attempt_at. Rows attempted within
// reclaimAfter stay untouched so in-flight sends are not claimed twice.
func (s *BroadcastStore) ClaimRows(ctx context.Context, broadcastID string, now time.Time, limit int, reclaimAfter time.Duration) ([]*models.BroadcastRow, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE broadcast_queue
		SET attempts = attempts + 1, last_attempt_at = $2
		WHERE id IN (
			SELECT q.id
			FROM broadcast_queue q
			WHERE q.broadcast_id = $1 AND q.status = 'pending'
			  AND (q.last_attempt_at IS NULL OR q.last_attempt_at < $3)
			ORDER BY q.id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, broadcast_id, bot_slug, chat_id, status, attempts, error, last_attempt_at`,
		broadcastID, now, now.Add(-reclaimAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("claiming rows for broadcast %s: %w", broadcastID, err)
	}
	defer rows.Close()

	var claimed []*models.BroadcastRow
	for rows.Next() {
		r, err := scanBroadcastRow(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, r)
	}
	return claimed, rows.Err()
}

// MarkRowSent settles a pending row as sent and bumps the broadcast's sent
// counter. The two statements are deliberately not one transaction; counters
// are eventually consistent with row states.
func (s *BroadcastStore) MarkRowSent(ctx context.Context, rowID int64) (bool, error) {
	var broadcastID string
	err := s.pool.QueryRow(ctx, `
		UPDATE broadcast_queue
		SET status = 'sent', error = NULL
		WHERE id = $1 AND status = 'pending'
		RETURNING broadcast_id`, rowID).Scan(&broadcastID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("marking broadcast row %d sent: %w", rowID, err)
	}
	_, err = s.pool.Exec(ctx, `UPDATE broadcasts SET sent = sent + 1 WHERE id = $1`, broadcastID)
	if err != nil {
		return true, fmt.Errorf("bumping sent counter for broadcast %s: %w", broadcastID, err)
	}
	return true, nil
}

// MarkRowFailed settles a pending row as failed with the error text and bumps
// the broadcast's failed counter.
func (s *BroadcastStore) MarkRowFailed(ctx context.Context, rowID int64, errText string) (bool, error) {
	var broadcastID string
	err := s.pool.QueryRow(ctx, `
		UPDATE broadcast_queue
		SET status = 'failed', error = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING broadcast_id`, rowID, errText).Scan(&broadcastID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("marking broadcast row %d failed: %w", rowID, err)
	}
	_, err = s.pool.Exec(ctx, `UPDATE broadcasts SET failed = failed + 1 WHERE id = $1`, broadcastID)
	if err != nil {
		return true, fmt.Errorf("bumping failed counter for broadcast %s: %w", broadcastID, err)
	}
	return true, nil
}

// MarkRowSkipped settles a pending row as skipped. Skips count toward neither
// sent nor failed.
func (s *BroadcastStore) MarkRowSkipped(ctx context.Context, rowID int64, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE broadcast_queue
		SET status = 'skipped', error = $2
		WHERE id = $1 AND status = 'pending'`,
		rowID, reason)
	if err != nil {
		return false, fmt.Errorf("marking broadcast row %d skipped: %w", rowID, translate(err))
	}
	return tag.RowsAffected() == 1, nil
}

// SkipPendingRows bulk-settles every remaining pending row, used when a
// broadcast is canceled. In-flight sends lose the status race and their
// settle calls report false.
func (s *BroadcastStore) SkipPendingRows(ctx context.Context, broadcastID, reason string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE broadcast_queue
		SET status = 'skipped', error = $2
		WHERE broadcast_id = $1 AND status = 'pending'`,
		broadcastID, reason)
	if err != nil {
		return 0, fmt.Errorf("skipping pending rows of broadcast %s: %w", broadcastID, translate(err))
	}
	return tag.RowsAffected(), nil
}

// PendingCount returns how many queue rows of a broadcast are still pending.
func (s *BroadcastStore) PendingCount(ctx context.Context, broadcastID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM broadcast_queue
		WHERE broadcast_id = $1 AND status = 'pending'`, broadcastID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending rows of broadcast %s: %w", broadcastID, err)
	}
	return n, nil
}
