package downsell

import (
	"fmt"
	"time"

	"github.com/sendgate/sendgate/pkg/models"
)

// Deterministic schedule event ids. The unique index on event_id turns a
// duplicate trigger (webhook re-delivery, admin replay) into a no-op insert,
// so the format must be stable: same inputs, same id, forever.

// StartEventID identifies a start-triggered schedule row.
func StartEventID(slug string, chatID, templateID int64, scheduledAt time.Time) string {
	return fmt.Sprintf("dw:%s:%d:%d:st:%s",
		slug, chatID, templateID, scheduledAt.UTC().Format(time.RFC3339))
}

// PixEventID identifies a pix-triggered schedule row, bound to the payment
// intent that caused it.
func PixEventID(slug string, chatID, templateID int64, transactionID string, scheduledAt time.Time) string {
	return fmt.Sprintf("dw:%s:%d:%d:%s:%s",
		slug, chatID, templateID, transactionID, scheduledAt.UTC().Format(time.RFC3339))
}

// EventID dispatches on the trigger kind.
func EventID(trigger models.Trigger, slug string, chatID, templateID int64, transactionID string, scheduledAt time.Time) string {
	if trigger == models.TriggerPix {
		return PixEventID(slug, chatID, templateID, transactionID, scheduledAt)
	}
	return StartEventID(slug, chatID, templateID, scheduledAt)
}
