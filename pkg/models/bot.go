// Package models contains the persistent domain types shared by the store,
// the schedulers, and the HTTP layer.
package models

import "time"

// ProviderTelegram is the only upstream provider currently wired. The column
// exists so additional providers can be added without a schema change.
const ProviderTelegram = "telegram"

// Bot is one tenant: a registered outbound integration identified by slug.
type Bot struct {
	ID             int64          `json:"id"`
	Slug           string         `json:"slug"`
	Name           string         `json:"name"`
	Provider       string         `json:"provider"`
	StagingChatID  *int64         `json:"staging_chat_id,omitempty"`
	Welcome        WelcomeConfig  `json:"welcome"`
	TokenUpdatedAt *time.Time     `json:"token_updated_at,omitempty"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// HasCredential reports whether a credential has ever been stored.
// The ciphertext itself never leaves the store/vault layers.
func (b *Bot) HasCredential() bool {
	return b.TokenUpdatedAt != nil
}

// WelcomeConfig is the JSON document sent in response to a start intent:
// an optional media block followed by one or more text messages.
type WelcomeConfig struct {
	Media    []MediaRef       `json:"media,omitempty"`
	Messages []WelcomeMessage `json:"messages,omitempty"`
}

// WelcomeMessage is a single outbound text inside the welcome sequence.
type WelcomeMessage struct {
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// MediaRef points at a content-addressed blob owned by the same tenant.
// At most three refs are allowed per content document.
type MediaRef struct {
	Kind   MediaKind `json:"kind"`
	SHA256 string    `json:"sha256"`
}

// MaxMediaRefs bounds the media list embedded in a content document.
const MaxMediaRefs = 3
