package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sendgate/sendgate/pkg/models"
)

const scheduleColumns = `id, event_id, bot_slug, chat_id, template_id, transaction_id, trigger,
	scheduled_at, status, cancel_reason, attempts, last_attempt_at, meta, created_at, updated_at`

// ScheduleStore persists downsell schedule rows. All state transitions are
// conditional on status = 'pending' so concurrent workers and cancellation
// fan-out cannot double-settle a row.
type ScheduleStore struct {
	pool *pgxpool.Pool
}

func NewScheduleStore(pool *pgxpool.Pool) *ScheduleStore {
	return &ScheduleStore{pool: pool}
}

func scanSchedule(row pgx.Row) (*models.DownsellSchedule, error) {
	var d models.DownsellSchedule
	err := row.Scan(
		&d.ID, &d.EventID, &d.BotSlug, &d.ChatID, &d.TemplateID, &d.TransactionID, &d.Trigger,
		&d.ScheduledAt, &d.Status, &d.CancelReason, &d.Attempts, &d.LastAttemptAt,
		&d.Meta, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

// Insert adds a schedule row. It reports false without error when the
// deterministic event_id, or a pending row for the same (bot, chat, template),
// already exists. Re-invocation with identical inputs is a no-op.
func (s *ScheduleStore) Insert(ctx context.Context, row *models.DownsellSchedule) (bool, error) {
	if row.Meta == nil {
		row.Meta = map[string]any{}
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO downsell_schedules
			(event_id, bot_slug, chat_id, template_id, transaction_id, trigger, scheduled_at, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`,
		row.EventID, row.BotSlug, row.ChatID, row.TemplateID, row.TransactionID,
		row.Trigger, row.ScheduledAt, row.Meta)
	if err != nil {
		return false, fmt.Errorf("inserting schedule %q: %w", row.EventID, translate(err))
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimDue atomically picks up to limit due pending rows whose templates are
// active, bumping attempts and last_attempt_at in the same statement. Rows
// attempted within reclaimAfter are left alone; a claim whose worker died is
// retried once that window passes. SKIP LOCKED keeps concurrent scanners off
// each other's batches.
func (s *ScheduleStore) ClaimDue(ctx context.Context, now time.Time, limit int, reclaimAfter time.Duration) ([]*models.DownsellSchedule, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE downsell_schedules
		SET attempts = attempts + 1, last_attempt_at = $1, updated_at = now()
		WHERE id IN (
			SELECT d.id
			FROM downsell_schedules d
			JOIN downsell_templates t ON t.id = d.template_id
			WHERE d.status = 'pending'
			  AND d.scheduled_at <= $1
			  AND t.active
			  AND (d.last_attempt_at IS NULL OR d.last_attempt_at < $2)
			ORDER BY d.scheduled_at
			LIMIT $3
			FOR UPDATE OF d SKIP LOCKED
		)
		RETURNING `+scheduleColumns,
		now, now.Add(-reclaimAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("claiming due schedules: %w", err)
	}
	defer rows.Close()

	var due []*models.DownsellSchedule
	for rows.Next() {
		d, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

// MarkSent settles a pending row as sent and merges the upstream message id
// into meta. Reports false when the row was settled elsewhere in the meantime.
func (s *ScheduleStore) MarkSent(ctx context.Context, id, messageID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE downsell_schedules
		SET status = 'sent', meta = meta || jsonb_build_object('message_id', $2::bigint), updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		id, messageID)
	if err != nil {
		return false, fmt.Errorf("marking schedule %d sent: %w", id, translate(err))
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed settles a pending row as failed with the upstream error text.
func (s *ScheduleStore) MarkFailed(ctx context.Context, id int64, reason string) (bool, error) {
	return s.settle(ctx, id, models.ScheduleFailed, reason)
}

// MarkSkipped settles a pending row as skipped, e.g. when the eligibility gate
// rejects it.
func (s *ScheduleStore) MarkSkipped(ctx context.Context, id int64, reason string) (bool, error) {
	return s.settle(ctx, id, models.ScheduleSkipped, reason)
}

func (s *ScheduleStore) settle(ctx context.Context, id int64, status models.ScheduleStatus, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE downsell_schedules
		SET status = $2, cancel_reason = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		id, status, reason)
	if err != nil {
		return false, fmt.Errorf("marking schedule %d %s: %w", id, status, translate(err))
	}
	return tag.RowsAffected() == 1, nil
}

// CancelOnPayment settles as canceled{paid} every pending row for the
// recipient that is bound to the paid transaction or was triggered by start.
// Returns the number of rows canceled.
func (s *ScheduleStore) CancelOnPayment(ctx context.Context, slug string, chatID int64, transactionID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE downsell_schedules
		SET status = 'canceled', cancel_reason = 'paid', updated_at = now()
		WHERE bot_slug = $1 AND chat_id = $2 AND status = 'pending'
		  AND (transaction_id = $3 OR trigger = 'start')`,
		slug, chatID, transactionID)
	if err != nil {
		return 0, fmt.Errorf("canceling schedules for paid tx %q: %w", transactionID, translate(err))
	}
	return tag.RowsAffected(), nil
}

// CancelOnExpiry settles as canceled{expired} every pending row bound to the
// expired transaction.
func (s *ScheduleStore) CancelOnExpiry(ctx context.Context, slug, transactionID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE downsell_schedules
		SET status = 'canceled', cancel_reason = 'expired', updated_at = now()
		WHERE bot_slug = $1 AND transaction_id = $2 AND status = 'pending'`,
		slug, transactionID)
	if err != nil {
		return 0, fmt.Errorf("canceling schedules for expired tx %q: %w", transactionID, translate(err))
	}
	return tag.RowsAffected(), nil
}

// GetByEventID returns a schedule row by its deterministic business key.
func (s *ScheduleStore) GetByEventID(ctx context.Context, eventID string) (*models.DownsellSchedule, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM downsell_schedules
		WHERE event_id = $1`, eventID)
	d, err := scanSchedule(row)
	if err != nil {
		return nil, fmt.Errorf("getting schedule %q: %w", eventID, err)
	}
	return d, nil
}

// ListByBot returns the most recent schedule rows of a bot for the admin
// surface.
func (s *ScheduleStore) ListByBot(ctx context.Context, slug string, limit int) ([]*models.DownsellSchedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM downsell_schedules
		WHERE bot_slug = $1
		ORDER BY id DESC
		LIMIT $2`, slug, limit)
	if err != nil {
		return nil, fmt.Errorf("listing schedules for bot %q: %w", slug, err)
	}
	defer rows.Close()

	var schedules []*models.DownsellSchedule
	for rows.Next() {
		d, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, d)
	}
	return schedules, rows.Err()
}
