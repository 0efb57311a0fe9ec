package models

import "time"

// FunnelKind classifies funnel events. The schedulers read only these three.
type FunnelKind string

// Funnel event kinds.
const (
	FunnelStart           FunnelKind = "start"
	FunnelPixCreated      FunnelKind = "pix_created"
	FunnelPaymentApproved FunnelKind = "payment_approved"
)

// FunnelEvent is one row of the append-only, month-partitioned funnel log.
// EventID is deterministic so webhook re-delivery inserts are ignored.
type FunnelEvent struct {
	ID            int64          `json:"id"`
	EventID       string         `json:"event_id"`
	BotSlug       string         `json:"bot_slug"`
	ChatID        int64          `json:"chat_id"`
	Kind          FunnelKind     `json:"kind"`
	TransactionID *string        `json:"transaction_id,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}
