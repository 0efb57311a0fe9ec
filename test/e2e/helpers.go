package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sendgate/sendgate/pkg/models"
)

// ────────────────────────────────────────────────────────────
// Admin API Helpers
// ────────────────────────────────────────────────────────────

// CreateBot registers a tenant and returns the parsed bot row.
func (app *TestApp) CreateBot(t *testing.T, slug string) map[string]interface{} {
	t.Helper()
	body := map[string]interface{}{
		"slug": slug,
		"name": slug,
	}
	return app.adminJSON(t, http.MethodPost, "/api/v1/bots", body, http.StatusCreated)
}

// CreateBotWithWelcome registers a tenant with a welcome sequence attached.
func (app *TestApp) CreateBotWithWelcome(t *testing.T, slug string, welcome map[string]interface{}) map[string]interface{} {
	t.Helper()
	body := map[string]interface{}{
		"slug":    slug,
		"name":    slug,
		"welcome": welcome,
	}
	return app.adminJSON(t, http.MethodPost, "/api/v1/bots", body, http.StatusCreated)
}

// SetCredential seals an upstream token for the bot and returns the response
// with the masked token and the verified bot identity.
func (app *TestApp) SetCredential(t *testing.T, slug, token string) map[string]interface{} {
	t.Helper()
	body := map[string]interface{}{"token": token}
	return app.adminJSON(t, http.MethodPut, "/api/v1/bots/"+slug+"/credential", body, http.StatusOK)
}

// SetWelcome replaces the bot's welcome sequence.
func (app *TestApp) SetWelcome(t *testing.T, slug string, welcome map[string]interface{}) {
	t.Helper()
	app.adminJSON(t, http.MethodPut, "/api/v1/bots/"+slug+"/welcome", welcome, http.StatusOK)
}

// BindWebhook registers the public webhook URL with the upstream and returns
// the response carrying the bound URL.
func (app *TestApp) BindWebhook(t *testing.T, slug string) map[string]interface{} {
	t.Helper()
	return app.adminJSON(t, http.MethodPost, "/api/v1/bots/"+slug+"/webhook", nil, http.StatusOK)
}

// CreateTemplate creates a downsell template and returns its id.
func (app *TestApp) CreateTemplate(t *testing.T, slug string, tpl map[string]interface{}) int64 {
	t.Helper()
	resp := app.adminJSON(t, http.MethodPost, "/api/v1/bots/"+slug+"/templates", tpl, http.StatusCreated)
	id, ok := resp["id"].(float64)
	require.True(t, ok, "template response missing numeric id: %v", resp)
	return int64(id)
}

// CreateBroadcast creates a draft broadcast and returns its id.
func (app *TestApp) CreateBroadcast(t *testing.T, slug, title, text, audience string) string {
	t.Helper()
	body := map[string]interface{}{
		"title":    title,
		"content":  map[string]interface{}{"text": text},
		"audience": audience,
	}
	resp := app.adminJSON(t, http.MethodPost, "/api/v1/bots/"+slug+"/broadcasts", body, http.StatusCreated)
	id, ok := resp["id"].(string)
	require.True(t, ok, "broadcast response missing id: %v", resp)
	return id
}

// PopulateBroadcast snapshots the audience and returns the refreshed row.
func (app *TestApp) PopulateBroadcast(t *testing.T, id string) map[string]interface{} {
	t.Helper()
	return app.adminJSON(t, http.MethodPost, "/api/v1/broadcasts/"+id+"/populate", nil, http.StatusOK)
}

// BroadcastAction drives one lifecycle transition (start, pause, resume,
// cancel) and returns the parsed response body.
func (app *TestApp) BroadcastAction(t *testing.T, id, action string, expectedStatus int) map[string]interface{} {
	t.Helper()
	return app.adminJSON(t, http.MethodPost, "/api/v1/broadcasts/"+id+"/"+action, nil, expectedStatus)
}

// GetBroadcast fetches one broadcast row over the API.
func (app *TestApp) GetBroadcast(t *testing.T, id string) map[string]interface{} {
	t.Helper()
	return app.adminJSON(t, http.MethodGet, "/api/v1/broadcasts/"+id, nil, http.StatusOK)
}

// UploadMedia posts one file through the multipart upload endpoint and
// returns the stored blob row.
func (app *TestApp) UploadMedia(t *testing.T, slug, kind, filename string, data []byte) map[string]interface{} {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("kind", kind))
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, app.BaseURL+"/api/v1/bots/"+slug+"/media", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Admin-Key", app.Config.AdminKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode, "media upload: unexpected status")

	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// rawUploadStatus posts a multipart upload and returns only the status code.
// Used for upload validation cases.
func (app *TestApp) rawUploadStatus(t *testing.T, slug, kind, filename string, data []byte) int {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("kind", kind))
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, app.BaseURL+"/api/v1/bots/"+slug+"/media", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Admin-Key", app.Config.AdminKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

// adminJSON performs one authenticated admin request and decodes the JSON
// object response. Status mismatches fail the test with the response body.
func (app *TestApp) adminJSON(t *testing.T, method, path string, body interface{}, expectedStatus int) map[string]interface{} {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Admin-Key", app.Config.AdminKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, expectedStatus, resp.StatusCode, "%s %s: unexpected status, body: %s", method, path, raw)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &result), "%s %s: non-object body: %s", method, path, raw)
	return result
}

// adminList performs one authenticated GET and decodes a JSON array response.
func (app *TestApp) adminList(t *testing.T, path string) []interface{} {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+path, nil)
	require.NoError(t, err)
	req.Header.Set("X-Admin-Key", app.Config.AdminKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode, "GET %s: unexpected status", path)

	var result []interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// rawStatus performs a request with arbitrary headers and returns only the
// status code. Used for auth failure cases.
func (app *TestApp) rawStatus(t *testing.T, method, path string, headers map[string]string, body interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

// ────────────────────────────────────────────────────────────
// Webhook Helpers
// ────────────────────────────────────────────────────────────

// SendStart delivers a /start update for the chat through the webhook intake.
func (app *TestApp) SendStart(t *testing.T, slug string, chatID int64) {
	t.Helper()
	app.SendText(t, slug, chatID, "/start")
}

// SendText delivers one text message update through the webhook intake.
func (app *TestApp) SendText(t *testing.T, slug string, chatID int64, text string) {
	t.Helper()
	seq := app.updateSeq.Add(1)
	upd := map[string]interface{}{
		"update_id": seq,
		"message": map[string]interface{}{
			"message_id": seq,
			"from":       map[string]interface{}{"id": chatID, "is_bot": false, "first_name": "Tester"},
			"chat":       map[string]interface{}{"id": chatID, "type": "private"},
			"text":       text,
		},
	}
	app.SendUpdate(t, slug, upd)
}

// SendUpdate posts a raw update object with the shared webhook secret set.
// The handler acks before processing, so effects must be polled for.
func (app *TestApp) SendUpdate(t *testing.T, slug string, upd map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(upd)
	require.NoError(t, err)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, app.BaseURL+"/tg/"+slug+"/webhook", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", app.Config.WebhookSecret)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode, "webhook %s: unexpected status", slug)
}

// SendPixCreated posts a pix-created payment notice.
func (app *TestApp) SendPixCreated(t *testing.T, slug string, chatID int64, transactionID string) {
	t.Helper()
	app.sendPaymentNotice(t, "pix-created", map[string]interface{}{
		"bot_slug":       slug,
		"chat_id":        chatID,
		"transaction_id": transactionID,
		"amount_cents":   1990,
	})
}

// SendPaymentApproved posts a payment-approved notice.
func (app *TestApp) SendPaymentApproved(t *testing.T, slug string, chatID int64, transactionID string) {
	t.Helper()
	app.sendPaymentNotice(t, "payment-approved", map[string]interface{}{
		"bot_slug":       slug,
		"chat_id":        chatID,
		"transaction_id": transactionID,
		"amount_cents":   1990,
	})
}

// SendPixExpired posts a pix-expired notice. Expiry notices carry no chat id.
func (app *TestApp) SendPixExpired(t *testing.T, slug, transactionID string) {
	t.Helper()
	app.sendPaymentNotice(t, "pix-expired", map[string]interface{}{
		"bot_slug":       slug,
		"transaction_id": transactionID,
	})
}

func (app *TestApp) sendPaymentNotice(t *testing.T, kind string, body map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, app.BaseURL+"/api/payment/webhook/"+kind, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode, "payment webhook %s: unexpected status", kind)
}

// ────────────────────────────────────────────────────────────
// Polling Helpers
// ────────────────────────────────────────────────────────────

// WaitForSchedules polls the schedule store until exactly want rows match the
// predicate and returns them. A nil predicate matches every row.
func (app *TestApp) WaitForSchedules(t *testing.T, slug string, want int, match func(*models.DownsellSchedule) bool) []*models.DownsellSchedule {
	t.Helper()
	var got []*models.DownsellSchedule
	require.Eventually(t, func() bool {
		rows, err := app.Schedules.ListByBot(context.Background(), slug, 100)
		if err != nil {
			return false
		}
		got = got[:0]
		for _, row := range rows {
			if match == nil || match(row) {
				got = append(got, row)
			}
		}
		return len(got) == want
	}, 30*time.Second, 250*time.Millisecond,
		"bot %s never reached %d matching schedule rows (last: %d)", slug, want, len(got))
	return got
}

// WaitForBroadcastStatus polls until the broadcast reaches one of the
// expected statuses and returns the row.
func (app *TestApp) WaitForBroadcastStatus(t *testing.T, id string, expected ...models.BroadcastStatus) *models.Broadcast {
	t.Helper()
	var last *models.Broadcast
	require.Eventually(t, func() bool {
		b, err := app.Broadcasts.Get(context.Background(), id)
		if err != nil {
			return false
		}
		last = b
		for _, exp := range expected {
			if b.Status == exp {
				return true
			}
		}
		return false
	}, 30*time.Second, 100*time.Millisecond,
		"broadcast %s did not reach status %v (last: %+v)", id, expected, last)
	return last
}

// WaitForTexts polls the fake upstream until the chat has received at least
// want text messages and returns them in delivery order.
func (app *TestApp) WaitForTexts(t *testing.T, chatID int64, want int) []string {
	t.Helper()
	var texts []string
	require.Eventually(t, func() bool {
		texts = app.Upstream.TextsTo(chatID)
		return len(texts) >= want
	}, 30*time.Second, 100*time.Millisecond,
		"chat %d never received %d texts (last: %v)", chatID, want, texts)
	return texts
}

// WaitForMediaReady polls the cache entry until the warm-up reaches a
// terminal state and requires it to be ready.
func (app *TestApp) WaitForMediaReady(t *testing.T, slug, sha string, kind models.MediaKind) *models.MediaCacheEntry {
	t.Helper()
	var entry *models.MediaCacheEntry
	require.Eventually(t, func() bool {
		e, err := app.MediaStore.GetCacheEntry(context.Background(), slug, sha, kind)
		if err != nil {
			return false
		}
		entry = e
		return e.Status == models.MediaReady || e.Status == models.MediaError
	}, 30*time.Second, 100*time.Millisecond,
		"cache entry %s/%s never reached a terminal state (last: %+v)", slug, sha, entry)
	if entry.Status != models.MediaReady {
		lastErr := ""
		if entry.LastError != nil {
			lastErr = *entry.LastError
		}
		t.Fatalf("warm-up for %s/%s failed: %s", slug, sha, lastErr)
	}
	return entry
}

// WaitForFunnelCount polls the funnel log until the event count for one kind
// reaches want. Webhook processing is asynchronous, so tests that act on
// funnel state must go through here first.
func (app *TestApp) WaitForFunnelCount(t *testing.T, slug string, kind models.FunnelKind, want int) {
	t.Helper()
	var n int
	require.Eventually(t, func() bool {
		err := app.DB.Pool().QueryRow(context.Background(),
			`SELECT COUNT(*) FROM funnel_events WHERE bot_slug = $1 AND kind = $2`,
			slug, kind).Scan(&n)
		return err == nil && n == want
	}, 30*time.Second, 100*time.Millisecond,
		"bot %s never reached %d %s events (last: %d)", slug, want, kind, n)
}

// CountFunnelEvents reads the funnel log directly.
func (app *TestApp) CountFunnelEvents(t *testing.T, slug string, kind models.FunnelKind) int {
	t.Helper()
	var n int
	err := app.DB.Pool().QueryRow(context.Background(),
		`SELECT COUNT(*) FROM funnel_events WHERE bot_slug = $1 AND kind = $2`,
		slug, kind).Scan(&n)
	require.NoError(t, err)
	return n
}

// BroadcastRowStatuses reads the per-recipient row statuses for a broadcast,
// keyed by chat id.
func (app *TestApp) BroadcastRowStatuses(t *testing.T, broadcastID string) map[int64]string {
	t.Helper()
	rows, err := app.DB.Pool().Query(context.Background(),
		`SELECT chat_id, status FROM broadcast_queue WHERE broadcast_id = $1`, broadcastID)
	require.NoError(t, err)
	defer rows.Close()

	out := map[int64]string{}
	for rows.Next() {
		var chatID int64
		var status string
		require.NoError(t, rows.Scan(&chatID, &status))
		out[chatID] = status
	}
	require.NoError(t, rows.Err())
	return out
}

// SetupFunnelBot registers a bot with a sealed credential, the minimum a
// tenant needs before updates can be processed.
func (app *TestApp) SetupFunnelBot(t *testing.T, slug string) {
	t.Helper()
	app.CreateBot(t, slug)
	app.SetCredential(t, slug, "100200300:token-"+slug)
}

func toInt(v interface{}) int {
	f, _ := v.(float64)
	return int(f)
}
