package models

import "time"

// BroadcastStatus is the broadcast state machine position.
// draft → queued → sending → (completed | canceled), sending ⇄ paused.
type BroadcastStatus string

// Broadcast statuses.
const (
	BroadcastDraft     BroadcastStatus = "draft"
	BroadcastQueued    BroadcastStatus = "queued"
	BroadcastSending   BroadcastStatus = "sending"
	BroadcastPaused    BroadcastStatus = "paused"
	BroadcastCompleted BroadcastStatus = "completed"
	BroadcastCanceled  BroadcastStatus = "canceled"
)

// Terminal reports whether no further transitions are allowed.
func (s BroadcastStatus) Terminal() bool {
	return s == BroadcastCompleted || s == BroadcastCanceled
}

// Audience selects which funnel slice a broadcast is materialised from.
type Audience string

// Audience selectors.
const (
	AudienceAllStarted Audience = "all_started"
	AudienceAfterPix   Audience = "after_pix"
)

// Broadcast is one bulk send over a materialised audience.
type Broadcast struct {
	ID          string          `json:"id"`
	BotSlug     string          `json:"bot_slug"`
	Title       string          `json:"title"`
	Content     ContentDoc      `json:"content"`
	Audience    Audience        `json:"audience"`
	Status      BroadcastStatus `json:"status"`
	Total       int             `json:"total"`
	Sent        int             `json:"sent"`
	Failed      int             `json:"failed"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// BroadcastRowStatus is the per-recipient delivery state.
type BroadcastRowStatus string

// Broadcast queue row statuses.
const (
	BroadcastRowPending BroadcastRowStatus = "pending"
	BroadcastRowSent    BroadcastRowStatus = "sent"
	BroadcastRowFailed  BroadcastRowStatus = "failed"
	BroadcastRowSkipped BroadcastRowStatus = "skipped"
)

// BroadcastRow is one recipient inside a broadcast's materialised audience.
// The parent broadcast completes when no row is pending.
type BroadcastRow struct {
	ID            int64              `json:"id"`
	BroadcastID   string             `json:"broadcast_id"`
	BotSlug       string             `json:"bot_slug"`
	ChatID        int64              `json:"chat_id"`
	Status        BroadcastRowStatus `json:"status"`
	Attempts      int                `json:"attempts"`
	Error         *string            `json:"error,omitempty"`
	LastAttemptAt *time.Time         `json:"last_attempt_at,omitempty"`
}
