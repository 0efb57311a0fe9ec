package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// Identity every fake getMe call reports.
const (
	fakeBotID       = int64(424242)
	fakeBotUsername = "sendgate_test_bot"
)

// SentMessage is one send the fake upstream accepted.
type SentMessage struct {
	Token  string
	Method string
	ChatID int64
	Text   string // sendMessage only
	FileID string // remote handle: echoed on resends, minted on uploads
	Upload bool   // payload arrived as a multipart upload
}

// scriptedFailure is one queued rejection for a chat, consumed in order
// before any send to that chat succeeds.
type scriptedFailure struct {
	status      int
	description string
	retryAfter  int
}

// FakeUpstream emulates the Bot API: getMe, setWebhook and the send methods,
// JSON and multipart alike. Sends can be scripted to fail per chat, which is
// how the tests exercise rate-limit back-off and blocked recipients.
type FakeUpstream struct {
	srv *httptest.Server

	mu       sync.Mutex
	sent     []SentMessage
	webhooks map[string]string // token → bound webhook URL
	failures map[int64][]scriptedFailure
	msgSeq   int64
	fileSeq  int64
}

// NewFakeUpstream starts the fake on a random local port.
func NewFakeUpstream() *FakeUpstream {
	f := &FakeUpstream{
		webhooks: make(map[string]string),
		failures: make(map[int64][]scriptedFailure),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// URL is the base the upstream client should be pointed at.
func (f *FakeUpstream) URL() string { return f.srv.URL }

func (f *FakeUpstream) Close() { f.srv.Close() }

// RateLimitNextSend queues one 429 with a retry_after hint for the chat's
// next send.
func (f *FakeUpstream) RateLimitNextSend(chatID int64, retryAfterSeconds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[chatID] = append(f.failures[chatID], scriptedFailure{
		status:      http.StatusTooManyRequests,
		description: "Too Many Requests: retry after " + strconv.Itoa(retryAfterSeconds),
		retryAfter:  retryAfterSeconds,
	})
}

// BlockNextSend queues one 403 "bot was blocked by the user" for the chat's
// next send.
func (f *FakeUpstream) BlockNextSend(chatID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[chatID] = append(f.failures[chatID], scriptedFailure{
		status:      http.StatusForbidden,
		description: "Forbidden: bot was blocked by the user",
	})
}

// Sent returns a copy of every accepted send, in arrival order.
func (f *FakeUpstream) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// SentTo returns the accepted sends addressed to one chat.
func (f *FakeUpstream) SentTo(chatID int64) []SentMessage {
	var out []SentMessage
	for _, m := range f.Sent() {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// TextsTo returns the text bodies delivered to one chat, in arrival order.
func (f *FakeUpstream) TextsTo(chatID int64) []string {
	var out []string
	for _, m := range f.SentTo(chatID) {
		if m.Method == "sendMessage" {
			out = append(out, m.Text)
		}
	}
	return out
}

// WebhookFor returns the webhook URL bound for a token, if any.
func (f *FakeUpstream) WebhookFor(token string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url, ok := f.webhooks[token]
	return url, ok
}

func (f *FakeUpstream) handle(w http.ResponseWriter, r *http.Request) {
	// Every method call is POST /bot{token}/{method}.
	path := strings.TrimPrefix(r.URL.Path, "/")
	rest, okPrefix := strings.CutPrefix(path, "bot")
	token, method, okCut := strings.Cut(rest, "/")
	if r.Method != http.MethodPost || !okPrefix || !okCut || token == "" {
		writeEnvelope(w, http.StatusNotFound, envelope{ErrorCode: 404, Description: "Not Found"})
		return
	}

	switch method {
	case "getMe":
		writeEnvelope(w, http.StatusOK, envelope{OK: true, Result: map[string]any{
			"id":         fakeBotID,
			"is_bot":     true,
			"first_name": "Sendgate Test",
			"username":   fakeBotUsername,
		}})
	case "setWebhook":
		f.handleSetWebhook(w, r, token)
	case "sendMessage":
		f.handleSendMessage(w, r, token)
	case "sendPhoto":
		f.handleSendMedia(w, r, token, method, "photo")
	case "sendVideo":
		f.handleSendMedia(w, r, token, method, "video")
	case "sendDocument":
		f.handleSendMedia(w, r, token, method, "document")
	case "sendAudio":
		f.handleSendMedia(w, r, token, method, "audio")
	default:
		writeEnvelope(w, http.StatusNotFound, envelope{ErrorCode: 404, Description: "Not Found: method not found"})
	}
}

func (f *FakeUpstream) handleSetWebhook(w http.ResponseWriter, r *http.Request, token string) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeEnvelope(w, http.StatusBadRequest, envelope{ErrorCode: 400, Description: "Bad Request: invalid webhook URL"})
		return
	}
	f.mu.Lock()
	f.webhooks[token] = req.URL
	f.mu.Unlock()
	writeEnvelope(w, http.StatusOK, envelope{OK: true, Result: true})
}

func (f *FakeUpstream) handleSendMessage(w http.ResponseWriter, r *http.Request, token string) {
	var req struct {
		ChatID int64  `json:"chat_id"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, envelope{ErrorCode: 400, Description: "Bad Request: malformed body"})
		return
	}
	if sf, ok := f.popFailure(req.ChatID); ok {
		writeFailure(w, sf)
		return
	}
	msgID := f.record(SentMessage{Token: token, Method: "sendMessage", ChatID: req.ChatID, Text: req.Text})
	writeEnvelope(w, http.StatusOK, envelope{OK: true, Result: map[string]any{"message_id": msgID}})
}

// handleSendMedia accepts both forms the client uses: a JSON body resending a
// remote handle, and a multipart upload minting a fresh one.
func (f *FakeUpstream) handleSendMedia(w http.ResponseWriter, r *http.Request, token, method, field string) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f.handleMediaUpload(w, r, token, method, field)
		return
	}

	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, envelope{ErrorCode: 400, Description: "Bad Request: malformed body"})
		return
	}
	chatID := toChatID(req["chat_id"])
	fileID, _ := req[field].(string)
	if chatID == 0 || fileID == "" {
		writeEnvelope(w, http.StatusBadRequest, envelope{ErrorCode: 400, Description: "Bad Request: chat_id or " + field + " missing"})
		return
	}
	if sf, ok := f.popFailure(chatID); ok {
		writeFailure(w, sf)
		return
	}
	msgID := f.record(SentMessage{Token: token, Method: method, ChatID: chatID, FileID: fileID})
	writeEnvelope(w, http.StatusOK, envelope{OK: true, Result: mediaResult(msgID, field, fileID)})
}

func (f *FakeUpstream) handleMediaUpload(w http.ResponseWriter, r *http.Request, token, method, field string) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeEnvelope(w, http.StatusBadRequest, envelope{ErrorCode: 400, Description: "Bad Request: malformed multipart body"})
		return
	}
	chatID, err := strconv.ParseInt(r.FormValue("chat_id"), 10, 64)
	if err != nil || chatID == 0 {
		writeEnvelope(w, http.StatusBadRequest, envelope{ErrorCode: 400, Description: "Bad Request: chat_id missing"})
		return
	}
	file, _, err := r.FormFile(field)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, envelope{ErrorCode: 400, Description: "Bad Request: " + field + " part missing"})
		return
	}
	file.Close()
	if sf, ok := f.popFailure(chatID); ok {
		writeFailure(w, sf)
		return
	}

	f.mu.Lock()
	f.fileSeq++
	fileID := fmt.Sprintf("fake-%s-%d", field, f.fileSeq)
	f.mu.Unlock()

	msgID := f.record(SentMessage{Token: token, Method: method, ChatID: chatID, FileID: fileID, Upload: true})
	writeEnvelope(w, http.StatusOK, envelope{OK: true, Result: mediaResult(msgID, field, fileID)})
}

func (f *FakeUpstream) record(m SentMessage) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgSeq++
	f.sent = append(f.sent, m)
	return f.msgSeq
}

func (f *FakeUpstream) popFailure(chatID int64) (scriptedFailure, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.failures[chatID]
	if len(queue) == 0 {
		return scriptedFailure{}, false
	}
	sf := queue[0]
	f.failures[chatID] = queue[1:]
	return sf, true
}

// mediaResult builds the message object a send method returns. Photos come
// back as several renditions, the way the real API reports them.
func mediaResult(msgID int64, field, fileID string) map[string]any {
	result := map[string]any{"message_id": msgID}
	switch field {
	case "photo":
		result["photo"] = []map[string]any{
			{"file_id": fileID + ":thumb", "file_unique_id": fileID + ":thumb:u", "width": 90, "height": 90},
			{"file_id": fileID, "file_unique_id": fileID + ":u", "width": 800, "height": 600},
		}
	case "video":
		result["video"] = map[string]any{"file_id": fileID, "file_unique_id": fileID + ":u", "width": 640, "height": 360, "duration": 5}
	case "document":
		result["document"] = map[string]any{"file_id": fileID, "file_unique_id": fileID + ":u"}
	case "audio":
		result["audio"] = map[string]any{"file_id": fileID, "file_unique_id": fileID + ":u", "duration": 7}
	}
	return result
}

// envelope mirrors the Bot API response wrapper.
type envelope struct {
	OK          bool           `json:"ok"`
	Result      any            `json:"result,omitempty"`
	ErrorCode   int            `json:"error_code,omitempty"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]int `json:"parameters,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeFailure(w http.ResponseWriter, sf scriptedFailure) {
	env := envelope{ErrorCode: sf.status, Description: sf.description}
	if sf.retryAfter > 0 {
		env.Parameters = map[string]int{"retry_after": sf.retryAfter}
	}
	writeEnvelope(w, sf.status, env)
}

// toChatID tolerates the number form JSON decoding hands back.
func toChatID(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case json.Number:
		id, _ := n.Int64()
		return id
	}
	return 0
}
