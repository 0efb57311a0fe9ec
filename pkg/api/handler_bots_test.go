package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/sendgate/sendgate/pkg/config"
)

func TestCreateBotHandler_Validation(t *testing.T) {
	// We only test request validation (returns 400 before hitting the store).
	// Happy-path is covered by integration tests with a real database.
	s := &Server{}

	tests := []struct {
		name   string
		body   string
		errMsg string
	}{
		{
			name:   "empty slug",
			body:   `{"name":"My Bot"}`,
			errMsg: "invalid slug",
		},
		{
			name:   "slug with a leading dash",
			body:   `{"slug":"-bot","name":"My Bot"}`,
			errMsg: "invalid slug",
		},
		{
			name:   "slug with path traversal",
			body:   `{"slug":"../../x"}`,
			errMsg: "invalid slug",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/bots", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := s.createBotHandler(c)
			if assert.Error(t, err) {
				he, ok := err.(*echo.HTTPError)
				if assert.True(t, ok, "expected echo.HTTPError") {
					assert.Equal(t, http.StatusBadRequest, he.Code)
					assert.Contains(t, he.Message, tt.errMsg)
				}
			}
		})
	}

	t.Run("malformed body returns 400", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bots", strings.NewReader(`{broken`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := s.createBotHandler(c)
		if assert.Error(t, err) {
			he, ok := err.(*echo.HTTPError)
			if assert.True(t, ok) {
				assert.Equal(t, http.StatusBadRequest, he.Code)
			}
		}
	})
}

func TestGetBotHandler_MissingSlug(t *testing.T) {
	s := &Server{}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bots/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.getBotHandler(c)
	if assert.Error(t, err) {
		he, ok := err.(*echo.HTTPError)
		if assert.True(t, ok, "expected echo.HTTPError") {
			assert.Equal(t, http.StatusBadRequest, he.Code)
			assert.Contains(t, he.Message, "invalid slug")
		}
	}
}

// The remaining validation paths need a parsed :slug, so they go through the
// real router. The admin key is left empty, which disables auth.
func TestBotHandlers_RoutedValidation(t *testing.T) {
	s := NewServer(Deps{Config: &config.Config{}})
	e := s.Router()

	send := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	t.Run("welcome with unknown media kind returns 400", func(t *testing.T) {
		rec := send(http.MethodPut, "/api/v1/bots/bot1/welcome",
			`{"media":[{"kind":"gif","sha256":"abc"}]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "unknown kind")
	})

	t.Run("welcome media missing sha256 returns 400", func(t *testing.T) {
		rec := send(http.MethodPut, "/api/v1/bots/bot1/welcome",
			`{"media":[{"kind":"photo"}]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "sha256 is required")
	})

	t.Run("blank credential token returns 400", func(t *testing.T) {
		rec := send(http.MethodPut, "/api/v1/bots/bot1/credential", `{"token":"   "}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "token is required")
	})

	t.Run("webhook binding without a public base url returns 503", func(t *testing.T) {
		rec := send(http.MethodPost, "/api/v1/bots/bot1/webhook", ``)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "PUBLIC_BASE_URL")
	})
}
