package models

import "time"

// MediaKind is the upstream media primitive a blob is sent with.
type MediaKind string

// Media kinds.
const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaAudio    MediaKind = "audio"
)

// ValidMediaKind reports whether k names a known kind.
func ValidMediaKind(k MediaKind) bool {
	switch k {
	case MediaPhoto, MediaVideo, MediaDocument, MediaAudio:
		return true
	}
	return false
}

// MediaBlob is one content-addressed object in the blob store.
type MediaBlob struct {
	ID        string    `json:"id"`
	BotSlug   string    `json:"bot_slug"`
	Kind      MediaKind `json:"kind"`
	SHA256    string    `json:"sha256"`
	Key       string    `json:"key"`
	ETag      string    `json:"etag"`
	Bytes     int64     `json:"bytes"`
	Mime      string    `json:"mime"`
	Ext       string    `json:"ext"`
	Width     *int      `json:"width,omitempty"`
	Height    *int      `json:"height,omitempty"`
	Duration  *int      `json:"duration,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MediaCacheStatus is the warm-up state of a cache entry.
type MediaCacheStatus string

// Media cache statuses. ready implies a non-null remote file handle.
const (
	MediaWarming MediaCacheStatus = "warming"
	MediaReady   MediaCacheStatus = "ready"
	MediaError   MediaCacheStatus = "error"
)

// MediaCacheEntry maps (tenant, sha256, kind) to the reusable remote file
// handle obtained by warming the blob through the tenant's staging chat.
type MediaCacheEntry struct {
	ID               int64            `json:"id"`
	BotSlug          string           `json:"bot_slug"`
	SHA256           string           `json:"sha256"`
	Kind             MediaKind        `json:"kind"`
	Status           MediaCacheStatus `json:"status"`
	FileID           *string          `json:"file_id,omitempty"`
	StagingChatID    *int64           `json:"staging_chat_id,omitempty"`
	StagingMessageID *int64           `json:"staging_message_id,omitempty"`
	WarmupAt         *time.Time       `json:"warmup_at,omitempty"`
	LastError        *string          `json:"last_error,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}
