package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sendgate/sendgate/pkg/models"
)

// FunnelStore appends to and queries the partitioned funnel event log.
type FunnelStore struct {
	pool *pgxpool.Pool
}

func NewFunnelStore(pool *pgxpool.Pool) *FunnelStore {
	return &FunnelStore{pool: pool}
}

// Insert appends an event. Reports false without error when the event_id was
// already recorded for the same UTC day, which is how deterministic ids make
// webhook redelivery a no-op.
func (s *FunnelStore) Insert(ctx context.Context, ev *models.FunnelEvent) (bool, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if ev.Meta == nil {
		ev.Meta = map[string]any{}
	}
	day := ev.OccurredAt.UTC().Truncate(24 * time.Hour)
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO funnel_events (event_id, bot_slug, chat_id, kind, transaction_id, meta, occurred_at, day)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`,
		ev.EventID, ev.BotSlug, ev.ChatID, ev.Kind, ev.TransactionID, ev.Meta, ev.OccurredAt, day)
	if err != nil {
		return false, fmt.Errorf("inserting funnel event %q: %w", ev.EventID, translate(err))
	}
	return tag.RowsAffected() == 1, nil
}

// HasUnpaidPix reports whether the recipient produced at least one pix_created
// event since the cutoff with no payment_approved for the same transaction.
// This is the eligibility gate for start-triggered downsells.
func (s *FunnelStore) HasUnpaidPix(ctx context.Context, slug string, chatID int64, since time.Time) (bool, error) {
	var unpaid bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM funnel_events pc
			WHERE pc.bot_slug = $1 AND pc.chat_id = $2
			  AND pc.kind = 'pix_created' AND pc.occurred_at >= $3
			  AND NOT EXISTS (
				SELECT 1
				FROM funnel_events pa
				WHERE pa.bot_slug = pc.bot_slug
				  AND pa.kind = 'payment_approved'
				  AND pa.transaction_id = pc.transaction_id
			  )
		)`, slug, chatID, since).Scan(&unpaid)
	if err != nil {
		return false, fmt.Errorf("checking unpaid pix for chat %d: %w", chatID, err)
	}
	return unpaid, nil
}

// TransactionUnpaid reports whether the transaction has exactly one
// pix_created event and zero payment_approved events. This is the eligibility
// gate for pix-triggered downsells. Distinct event ids guard against the rare
// cross-day duplicate the per-day unique key cannot stop.
func (s *FunnelStore) TransactionUnpaid(ctx context.Context, slug, transactionID string) (bool, error) {
	var created, approved int
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(DISTINCT event_id) FILTER (WHERE kind = 'pix_created'),
			COUNT(*) FILTER (WHERE kind = 'payment_approved')
		FROM funnel_events
		WHERE bot_slug = $1 AND transaction_id = $2`,
		slug, transactionID).Scan(&created, &approved)
	if err != nil {
		return false, fmt.Errorf("checking transaction %q: %w", transactionID, err)
	}
	return created == 1 && approved == 0, nil
}

// EnsureMonthPartition creates the funnel partition covering the month of the
// given time plus the following month. Failures are logged and swallowed
// because the DEFAULT partition still absorbs every insert.
func (s *FunnelStore) EnsureMonthPartition(ctx context.Context, at time.Time) {
	at = at.UTC()
	for _, first := range []time.Time{
		time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC),
		time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0),
	} {
		next := first.AddDate(0, 1, 0)
		name := fmt.Sprintf("funnel_events_y%04dm%02d", first.Year(), int(first.Month()))
		_, err := s.pool.Exec(ctx, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s PARTITION OF funnel_events FOR VALUES FROM ('%s') TO ('%s')`,
			name, first.Format("2006-01-02"), next.Format("2006-01-02")))
		if err != nil {
			slog.Warn("Failed to ensure funnel partition", "partition", name, "error", err)
		}
	}
}
