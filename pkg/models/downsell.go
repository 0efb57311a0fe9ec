package models

import "time"

// Trigger identifies which conversion step scheduled a downsell.
type Trigger string

// Downsell triggers.
const (
	TriggerStart Trigger = "start"
	TriggerPix   Trigger = "pix"
)

// ScheduleStatus is the lifecycle state of a downsell schedule row.
// A row leaves pending via exactly one terminal transition.
type ScheduleStatus string

// Schedule statuses.
const (
	SchedulePending  ScheduleStatus = "pending"
	ScheduleSent     ScheduleStatus = "sent"
	ScheduleFailed   ScheduleStatus = "failed"
	ScheduleCanceled ScheduleStatus = "canceled"
	ScheduleExpired  ScheduleStatus = "expired"
	ScheduleSkipped  ScheduleStatus = "skipped"
)

// ContentDoc is the message payload shared by templates, welcome messages
// and broadcasts: text plus an optional content-addressed media block.
type ContentDoc struct {
	Text      string     `json:"text,omitempty"`
	ParseMode string     `json:"parse_mode,omitempty"`
	Media     []MediaRef `json:"media,omitempty"`
}

// DownsellTemplate is a per-tenant follow-up message definition. The two gate
// flags select which triggers schedule it; delay is applied at trigger time.
type DownsellTemplate struct {
	ID           int64      `json:"id"`
	BotSlug      string     `json:"bot_slug"`
	Name         string     `json:"name"`
	Content      ContentDoc `json:"content"`
	DelayMinutes int        `json:"delay_minutes"`
	Active       bool       `json:"active"`
	AfterStart   bool       `json:"after_start"`
	AfterPix     bool       `json:"after_pix"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DownsellSchedule is one scheduled follow-up delivery. EventID is the
// deterministic business key making re-scheduling idempotent.
type DownsellSchedule struct {
	ID            int64          `json:"id"`
	EventID       string         `json:"event_id"`
	BotSlug       string         `json:"bot_slug"`
	ChatID        int64          `json:"chat_id"`
	TemplateID    int64          `json:"template_id"`
	TransactionID *string        `json:"transaction_id,omitempty"`
	Trigger       Trigger        `json:"trigger"`
	ScheduledAt   time.Time      `json:"scheduled_at"`
	Status        ScheduleStatus `json:"status"`
	CancelReason  *string        `json:"cancel_reason,omitempty"`
	Attempts      int            `json:"attempts"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
