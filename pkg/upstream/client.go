// Package upstream implements the Bot API client: JSON and multipart method
// calls, bounded retries for transport failures, and classification of
// rejections into canonical error kinds.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the production Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

const (
	textTimeout  = 10 * time.Second
	photoTimeout = 30 * time.Second
	heavyTimeout = 60 * time.Second

	// maxAttempts bounds transport-level retries. 429 is never retried here;
	// the send queue owns that back-off.
	maxAttempts = 3
)

// Client is a Bot API client shared by all tenants; the per-tenant token is
// passed per call.
type Client struct {
	baseURL string
	text    *http.Client
	photo   *http.Client
	heavy   *http.Client

	retryBase time.Duration
}

// NewClient builds a client against the given base URL, falling back to the
// production endpoint when empty.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		text:      &http.Client{Timeout: textTimeout},
		photo:     &http.Client{Timeout: photoTimeout},
		heavy:     &http.Client{Timeout: heavyTimeout},
		retryBase: 200 * time.Millisecond,
	}
}

// GetMe verifies a token and returns the bot identity behind it.
func (c *Client) GetMe(ctx context.Context, token string) (*User, error) {
	raw, err := c.doJSON(ctx, c.text, token, "getMe", struct{}{})
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decoding getMe result: %w", err)
	}
	return &user, nil
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

// SendMessage sends a text message.
func (c *Client) SendMessage(ctx context.Context, token string, chatID int64, text, parseMode string, disablePreview bool) (*Message, error) {
	raw, err := c.doJSON(ctx, c.text, token, "sendMessage", sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             parseMode,
		DisableWebPagePreview: disablePreview,
	})
	if err != nil {
		return nil, err
	}
	return decodeMessage(raw)
}

// SendPhoto sends a photo by remote handle or upload.
func (c *Client) SendPhoto(ctx context.Context, token string, chatID int64, media MediaInput) (*Message, error) {
	return c.sendMedia(ctx, c.photo, token, "sendPhoto", "photo", chatID, media)
}

// SendVideo sends a video by remote handle or upload.
func (c *Client) SendVideo(ctx context.Context, token string, chatID int64, media MediaInput) (*Message, error) {
	return c.sendMedia(ctx, c.heavy, token, "sendVideo", "video", chatID, media)
}

// SendDocument sends a document by remote handle or upload.
func (c *Client) SendDocument(ctx context.Context, token string, chatID int64, media MediaInput) (*Message, error) {
	return c.sendMedia(ctx, c.heavy, token, "sendDocument", "document", chatID, media)
}

// SendAudio sends an audio file by remote handle or upload.
func (c *Client) SendAudio(ctx context.Context, token string, chatID int64, media MediaInput) (*Message, error) {
	return c.sendMedia(ctx, c.heavy, token, "sendAudio", "audio", chatID, media)
}

type setWebhookRequest struct {
	URL            string   `json:"url"`
	SecretToken    string   `json:"secret_token,omitempty"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

// SetWebhook binds the bot's webhook to the given URL. Only message updates
// are subscribed; the gateway consumes nothing else.
func (c *Client) SetWebhook(ctx context.Context, token, webhookURL, secret string) error {
	_, err := c.doJSON(ctx, c.text, token, "setWebhook", setWebhookRequest{
		URL:            webhookURL,
		SecretToken:    secret,
		AllowedUpdates: []string{"message"},
	})
	return err
}

func (c *Client) sendMedia(ctx context.Context, hc *http.Client, token, method, field string, chatID int64, media MediaInput) (*Message, error) {
	var (
		raw json.RawMessage
		err error
	)
	switch {
	case media.FileID != "":
		payload := map[string]any{"chat_id": chatID, field: media.FileID}
		raw, err = c.doJSON(ctx, hc, token, method, payload)
	case media.Upload != nil:
		contentType, body, berr := buildMultipart(chatID, field, media.Upload)
		if berr != nil {
			return nil, berr
		}
		raw, err = c.do(ctx, c.heavy, token, method, contentType, body)
	default:
		return nil, &Error{Kind: KindBadRequest, Description: "media input has neither file handle nor upload"}
	}
	if err != nil {
		return nil, err
	}
	return decodeMessage(raw)
}

func (c *Client) doJSON(ctx context.Context, hc *http.Client, token, method string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", method, err)
	}
	return c.do(ctx, hc, token, method, "application/json", body)
}

// do posts one method call, retrying transport failures and 5xx up to
// maxAttempts. Everything else is classified and returned as-is.
func (c *Client) do(ctx context.Context, hc *http.Client, token, method, contentType string, body []byte) (json.RawMessage, error) {
	endpoint := c.baseURL + "/bot" + token + "/" + method

	var lastErr *Error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.backoff(ctx, attempt-1); err != nil {
				return nil, err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("building %s request: %w", method, err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = transportError(err)
			slog.Warn("Upstream call failed", "method", method, "attempt", attempt, "kind", lastErr.Kind, "error", lastErr.Description)
			continue
		}

		payload, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = &Error{Kind: KindNetwork, StatusCode: resp.StatusCode, Description: readErr.Error()}
			continue
		}

		var api apiResponse
		if err := json.Unmarshal(payload, &api); err != nil && resp.StatusCode < 500 {
			return nil, &Error{Kind: KindOther, StatusCode: resp.StatusCode, Description: "undecodable response body"}
		}
		if api.OK {
			return api.Result, nil
		}

		retryAfter := 0
		if api.Parameters != nil {
			retryAfter = api.Parameters.RetryAfter
		}
		status := resp.StatusCode
		if api.ErrorCode != 0 {
			status = api.ErrorCode
		}
		apiErr := classify(status, api.Description, retryAfter)
		if apiErr.Kind == KindServer && attempt < maxAttempts {
			lastErr = apiErr
			slog.Warn("Upstream server error", "method", method, "attempt", attempt, "status", status)
			continue
		}
		return nil, apiErr
	}
	return nil, lastErr
}

func (c *Client) backoff(ctx context.Context, retries int) error {
	d := c.retryBase << (retries - 1)
	d += time.Duration(rand.Int64N(int64(c.retryBase)))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// transportError classifies a client-side failure. url.Error strings embed
// the full request URL, token included, so only the wrapped cause may reach
// error text and logs.
func transportError(err error) *Error {
	kind := KindNetwork
	desc := err.Error()
	var uerr *url.Error
	if errors.As(err, &uerr) {
		desc = uerr.Err.Error()
		if uerr.Timeout() {
			kind = KindTimeout
		}
	}
	return &Error{Kind: kind, Description: desc}
}

func buildMultipart(chatID int64, field string, upload *Upload) (string, []byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return "", nil, fmt.Errorf("writing chat_id field: %w", err)
	}
	name := upload.Name
	if name == "" {
		name = "file"
	}
	part, err := w.CreateFormFile(field, name)
	if err != nil {
		return "", nil, fmt.Errorf("creating %s part: %w", field, err)
	}
	if _, err := part.Write(upload.Data); err != nil {
		return "", nil, fmt.Errorf("writing %s payload: %w", field, err)
	}
	if err := w.Close(); err != nil {
		return "", nil, fmt.Errorf("finalizing multipart body: %w", err)
	}
	return w.FormDataContentType(), buf.Bytes(), nil
}

func decodeMessage(raw json.RawMessage) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decoding message result: %w", err)
	}
	return &msg, nil
}
