// Package webhook turns inbound upstream updates and payment lifecycle
// notifications into funnel events, downsell fan-out and welcome deliveries.
// The HTTP layer acks before any of this runs; everything here happens in the
// background phase and recovers by upstream re-delivery.
package webhook

import (
	"fmt"
	"strings"
	"time"

	"github.com/sendgate/sendgate/pkg/models"
)

// Update is the subset of the upstream update object the gateway reads.
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *IncomingMessage `json:"message,omitempty"`
}

// IncomingMessage carries the fields start-intent detection needs.
type IncomingMessage struct {
	MessageID int64   `json:"message_id"`
	From      *Sender `json:"from,omitempty"`
	Chat      Chat    `json:"chat"`
	Text      string  `json:"text,omitempty"`
}

// Sender is the human on the other end of the chat.
type Sender struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Chat identifies the conversation an update belongs to.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// IsStartIntent reports whether a message text opens the funnel: the command
// itself, the bare word, or the command with a deep-link payload.
func IsStartIntent(text string) bool {
	t := strings.TrimSpace(text)
	return t == "/start" || t == "start" || strings.HasPrefix(t, "/start ")
}

// PaymentNotice is the parsed body of a payment lifecycle webhook.
type PaymentNotice struct {
	Slug          string `json:"bot_slug"`
	ChatID        int64  `json:"chat_id"`
	TransactionID string `json:"transaction_id"`
	AmountCents   *int64 `json:"amount_cents,omitempty"`
}

// Validate checks the fields every notice must carry. Expiry notices arrive
// without a chat id, so requiring one is up to the caller.
func (n PaymentNotice) Validate(requireChat bool) error {
	if err := models.ValidateSlug(n.Slug); err != nil {
		return err
	}
	if n.TransactionID == "" {
		return fmt.Errorf("transaction_id is required")
	}
	if requireChat && n.ChatID == 0 {
		return fmt.Errorf("chat_id is required")
	}
	return nil
}

// StartFunnelEventID deduplicates start events per recipient per UTC day.
func StartFunnelEventID(slug string, chatID int64, at time.Time) string {
	return fmt.Sprintf("st:%s:%d:%s", slug, chatID, at.UTC().Format("20060102"))
}

// PixFunnelEventID keys a pix_created event by transaction, so redelivery of
// the same notice lands on the (event_id, day) unique constraint.
func PixFunnelEventID(slug, transactionID string) string {
	return fmt.Sprintf("px:%s:%s", slug, transactionID)
}

// PaymentFunnelEventID keys a payment_approved event by transaction.
func PaymentFunnelEventID(slug, transactionID string) string {
	return fmt.Sprintf("pa:%s:%s", slug, transactionID)
}
