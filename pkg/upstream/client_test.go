package upstream

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "123456789:SECRETSECRETSECRET"

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL)
	c.retryBase = time.Millisecond
	return c, srv
}

func writeOK(w http.ResponseWriter, result string) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true,"result":` + result + `}`))
}

func writeError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotBody sendMessageRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeOK(w, `{"message_id":42}`)
	})

	msg, err := c.SendMessage(t.Context(), testToken, 100200, "hello", "HTML", true)
	require.NoError(t, err)

	assert.Equal(t, int64(42), msg.MessageID)
	assert.Equal(t, "/bot"+testToken+"/sendMessage", gotPath)
	assert.Equal(t, int64(100200), gotBody.ChatID)
	assert.Equal(t, "hello", gotBody.Text)
	assert.Equal(t, "HTML", gotBody.ParseMode)
	assert.True(t, gotBody.DisableWebPagePreview)
}

func TestGetMe(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot"+testToken+"/getMe", r.URL.Path)
		writeOK(w, `{"id":987,"is_bot":true,"first_name":"Gate","username":"gate_bot"}`)
	})

	user, err := c.GetMe(t.Context(), testToken)
	require.NoError(t, err)
	assert.Equal(t, int64(987), user.ID)
	assert.Equal(t, "gate_bot", user.Username)
	assert.True(t, user.IsBot)
}

func TestRateLimited_NotRetried(t *testing.T) {
	attempts := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		writeError(w, http.StatusTooManyRequests,
			`{"ok":false,"error_code":429,"description":"Too Many Requests: retry later","parameters":{"retry_after":2}}`)
	})

	_, err := c.SendMessage(t.Context(), testToken, 1, "x", "", false)
	require.Error(t, err)

	assert.Equal(t, 1, attempts, "429 must surface immediately, not retry")
	retryAfter, ok := IsRateLimited(err)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, retryAfter)
}

func TestRateLimited_WithoutHint(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusTooManyRequests, `{"ok":false,"error_code":429,"description":"Too Many Requests"}`)
	})

	_, err := c.SendMessage(t.Context(), testToken, 1, "x", "", false)
	require.Error(t, err)

	retryAfter, ok := IsRateLimited(err)
	require.True(t, ok)
	assert.Zero(t, retryAfter)
}

func TestServerErrors_RetriedUpToThree(t *testing.T) {
	attempts := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			writeError(w, http.StatusBadGateway, `{"ok":false,"error_code":502,"description":"Bad Gateway"}`)
			return
		}
		writeOK(w, `{"message_id":7}`)
	})

	msg, err := c.SendMessage(t.Context(), testToken, 1, "x", "", false)
	require.NoError(t, err)
	assert.Equal(t, int64(7), msg.MessageID)
	assert.Equal(t, 3, attempts)
}

func TestServerErrors_Exhausted(t *testing.T) {
	attempts := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		writeError(w, http.StatusInternalServerError, `{"ok":false,"error_code":500,"description":"Internal Server Error"}`)
	})

	_, err := c.SendMessage(t.Context(), testToken, 1, "x", "", false)
	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, KindServer, ue.Kind)
}

func TestNetworkError_TokenNeverLeaks(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(srv.URL)
	c.retryBase = time.Millisecond

	_, err := c.SendMessage(t.Context(), testToken, 1, "x", "", false)
	require.Error(t, err)

	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, KindNetwork, ue.Kind)
	assert.NotContains(t, err.Error(), testToken)
}

func TestSendPhoto_FileIDGoesAsJSON(t *testing.T) {
	var gotContentType string
	var gotBody map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeOK(w, `{"message_id":1}`)
	})

	_, err := c.SendPhoto(t.Context(), testToken, 55, MediaInput{FileID: "AgACAgQ"})
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "AgACAgQ", gotBody["photo"])
	assert.EqualValues(t, 55, gotBody["chat_id"])
}

func TestSendPhoto_UploadGoesAsMultipart(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "77", r.FormValue("chat_id"))

		file, header, err := r.FormFile("photo")
		require.NoError(t, err)
		defer file.Close()
		data, err := io.ReadAll(file)
		require.NoError(t, err)

		assert.Equal(t, "cover.jpg", header.Filename)
		assert.Equal(t, []byte("jpegbytes"), data)
		writeOK(w, `{"message_id":2,"photo":[{"file_id":"small","width":90,"height":90},{"file_id":"big","width":800,"height":600}]}`)
	})

	msg, err := c.SendPhoto(t.Context(), testToken, 77, MediaInput{
		Upload: &Upload{Name: "cover.jpg", Data: []byte("jpegbytes")},
	})
	require.NoError(t, err)
	assert.Equal(t, "big", msg.LargestPhoto())
}

func TestSendMedia_EmptyInput(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := c.SendDocument(t.Context(), testToken, 1, MediaInput{})
	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, KindBadRequest, ue.Kind)
}

func TestSetWebhook(t *testing.T) {
	var got setWebhookRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot"+testToken+"/setWebhook", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeOK(w, `true`)
	})

	err := c.SetWebhook(t.Context(), testToken, "https://gate.example.com/tg/acme/webhook", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "https://gate.example.com/tg/acme/webhook", got.URL)
	assert.Equal(t, "s3cret", got.SecretToken)
	assert.Equal(t, []string{"message"}, got.AllowedUpdates)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		description string
		want        ErrorKind
	}{
		{name: "blocked", status: 403, description: "Forbidden: bot was blocked by the user", want: KindBotBlocked},
		{name: "deactivated", status: 403, description: "Forbidden: user is deactivated", want: KindUserDeactivated},
		{name: "chat not found", status: 400, description: "Bad Request: chat not found", want: KindChatNotFound},
		{name: "empty chat id", status: 400, description: "Bad Request: chat_id is empty", want: KindInvalidChatID},
		{name: "generic forbidden", status: 403, description: "Forbidden: bot is not a member", want: KindForbidden},
		{name: "generic bad request", status: 400, description: "Bad Request: message text is empty", want: KindBadRequest},
		{name: "server", status: 502, description: "Bad Gateway", want: KindServer},
		{name: "unmapped", status: 418, description: "teapot", want: KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := classify(tt.status, tt.description, 0)
			assert.Equal(t, tt.want, e.Kind)
		})
	}
}

func TestSkippable(t *testing.T) {
	skippable := []ErrorKind{KindBotBlocked, KindUserDeactivated, KindChatNotFound, KindInvalidChatID}
	for _, kind := range skippable {
		assert.True(t, (&Error{Kind: kind}).Skippable(), string(kind))
	}
	notSkippable := []ErrorKind{KindRateLimited, KindForbidden, KindBadRequest, KindTimeout, KindNetwork, KindServer, KindOther}
	for _, kind := range notSkippable {
		assert.False(t, (&Error{Kind: kind}).Skippable(), string(kind))
	}
}
