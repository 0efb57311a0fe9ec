package upstream

import "encoding/json"

// apiResponse is the envelope every Bot API method returns.
type apiResponse struct {
	OK          bool                `json:"ok"`
	Result      json.RawMessage     `json:"result,omitempty"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Description string              `json:"description,omitempty"`
	Parameters  *responseParameters `json:"parameters,omitempty"`
}

type responseParameters struct {
	RetryAfter      int   `json:"retry_after,omitempty"`
	MigrateToChatID int64 `json:"migrate_to_chat_id,omitempty"`
}

// User is the bot's own identity as reported by getMe.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Message is the subset of the upstream message object the gateway reads:
// the id for receipts and the media descriptors for warm-up file handles.
type Message struct {
	MessageID int64       `json:"message_id"`
	Photo     []PhotoSize `json:"photo,omitempty"`
	Video     *Video      `json:"video,omitempty"`
	Document  *Document   `json:"document,omitempty"`
	Audio     *Audio      `json:"audio,omitempty"`
}

// PhotoSize is one rendition of an uploaded photo. The upstream returns
// several; warm-up keeps the handle of the largest.
type PhotoSize struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FileSize     int64  `json:"file_size,omitempty"`
}

type Video struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Duration     int    `json:"duration"`
	FileSize     int64  `json:"file_size,omitempty"`
}

type Document struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileName     string `json:"file_name,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
}

type Audio struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	Duration     int    `json:"duration"`
	FileSize     int64  `json:"file_size,omitempty"`
}

// LargestPhoto returns the file handle of the biggest photo rendition, empty
// when the message carries no photo.
func (m *Message) LargestPhoto() string {
	best := ""
	bestArea := -1
	for _, p := range m.Photo {
		if area := p.Width * p.Height; area > bestArea {
			best = p.FileID
			bestArea = area
		}
	}
	return best
}

// MediaInput addresses media for a send: a remote file handle when the
// upstream already holds the bytes, or an upload payload on first contact.
type MediaInput struct {
	FileID string
	Upload *Upload
}

// Upload is a multipart file payload.
type Upload struct {
	Name string
	Data []byte
}
