package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/sendgate/sendgate/pkg/config"
	"github.com/sendgate/sendgate/pkg/webhook"
)

// The inbound webhook tests go through the real router so the :slug path
// parameter is parsed. The processor has no stores behind it, so only
// updates the ack phase ignores are posted here; everything that reaches the
// background phase is covered by integration tests.
func TestTelegramWebhookHandler(t *testing.T) {
	s := NewServer(Deps{
		Config:    &config.Config{WebhookSecret: "hook-secret"},
		Processor: webhook.NewProcessor(nil, nil, nil, nil),
	})
	e := s.Router()

	post := func(path, secret, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		if secret != "" {
			req.Header.Set(webhookSecretHeader, secret)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	t.Run("invalid slug returns 400", func(t *testing.T) {
		rec := post("/tg/-bad/webhook", "hook-secret", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid slug")
	})

	t.Run("missing secret returns 401", func(t *testing.T) {
		rec := post("/tg/bot1/webhook", "", `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret returns 401", func(t *testing.T) {
		rec := post("/tg/bot1/webhook", "hook-guess", `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		rec := post("/tg/bot1/webhook", "hook-secret", `{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "malformed update")
	})

	t.Run("non-start update is acked with 200", func(t *testing.T) {
		body := `{"update_id":1,"message":{"message_id":5,"chat":{"id":42,"type":"private"},"text":"hello"}}`
		rec := post("/tg/bot1/webhook", "hook-secret", body)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestTelegramWebhookHandlerNoSecretConfigured(t *testing.T) {
	s := NewServer(Deps{
		Config:    &config.Config{},
		Processor: webhook.NewProcessor(nil, nil, nil, nil),
	})
	e := s.Router()

	body := `{"update_id":1,"message":{"message_id":5,"chat":{"id":42,"type":"private"},"text":"hi"}}`
	req := httptest.NewRequest(http.MethodPost, "/tg/bot1/webhook", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPaymentWebhookValidation(t *testing.T) {
	// We only test notice validation (returns 400 before any processing).
	// Happy-path is covered by integration tests that have a real processor.
	s := &Server{}

	tests := []struct {
		name    string
		handler echo.HandlerFunc
		body    string
		errMsg  string
	}{
		{
			name:    "malformed body",
			handler: s.pixCreatedHandler,
			body:    `{`,
			errMsg:  "malformed payment notice",
		},
		{
			name:    "invalid slug",
			handler: s.pixCreatedHandler,
			body:    `{"bot_slug":"-bad","chat_id":42,"transaction_id":"tx-1"}`,
			errMsg:  "invalid slug",
		},
		{
			name:    "missing transaction id",
			handler: s.pixCreatedHandler,
			body:    `{"bot_slug":"bot1","chat_id":42}`,
			errMsg:  "transaction_id is required",
		},
		{
			name:    "approval requires a chat id",
			handler: s.paymentApprovedHandler,
			body:    `{"bot_slug":"bot1","transaction_id":"tx-1"}`,
			errMsg:  "chat_id is required",
		},
		{
			name:    "expiry still validates the transaction id",
			handler: s.pixExpiredHandler,
			body:    `{"bot_slug":"bot1"}`,
			errMsg:  "transaction_id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook/x", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := tt.handler(c)
			if assert.Error(t, err) {
				he, ok := err.(*echo.HTTPError)
				if assert.True(t, ok, "expected echo.HTTPError") {
					assert.Equal(t, http.StatusBadRequest, he.Code)
					assert.Contains(t, he.Message, tt.errMsg)
				}
			}
		})
	}
}
