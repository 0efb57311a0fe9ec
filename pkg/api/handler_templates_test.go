package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/sendgate/sendgate/pkg/models"
)

func TestTemplateRequestValidate(t *testing.T) {
	valid := TemplateRequest{
		Name:         "downsell-20",
		Content:      models.ContentDoc{Text: "20% off, today only"},
		DelayMinutes: 30,
		AfterStart:   true,
	}

	t.Run("valid request passes", func(t *testing.T) {
		r := valid
		assert.NoError(t, r.validate())
	})

	tests := []struct {
		name   string
		mutate func(r *TemplateRequest)
		errMsg string
	}{
		{
			name:   "missing name",
			mutate: func(r *TemplateRequest) { r.Name = "" },
			errMsg: "name is required",
		},
		{
			name:   "empty content",
			mutate: func(r *TemplateRequest) { r.Content = models.ContentDoc{} },
			errMsg: "content must have text or media",
		},
		{
			name:   "negative delay",
			mutate: func(r *TemplateRequest) { r.DelayMinutes = -5 },
			errMsg: "delay_minutes must not be negative",
		},
		{
			name:   "no trigger gate",
			mutate: func(r *TemplateRequest) { r.AfterStart = false; r.AfterPix = false },
			errMsg: "at least one of after_start, after_pix",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)

			err := r.validate()
			if assert.Error(t, err) {
				he, ok := err.(*echo.HTTPError)
				if assert.True(t, ok, "expected echo.HTTPError") {
					assert.Equal(t, http.StatusBadRequest, he.Code)
					assert.Contains(t, he.Message, tt.errMsg)
				}
			}
		})
	}

	t.Run("media-only content passes", func(t *testing.T) {
		r := valid
		r.Content = models.ContentDoc{Media: []models.MediaRef{{Kind: models.MediaPhoto, SHA256: "abc"}}}
		assert.NoError(t, r.validate())
	})
}

func TestTemplateIDParam_Validation(t *testing.T) {
	s := &Server{}

	for _, name := range []string{"update", "delete"} {
		t.Run(name+" with missing id returns 400", func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPut, "/api/v1/templates/", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			var err error
			if name == "update" {
				err = s.updateTemplateHandler(c)
			} else {
				err = s.deleteTemplateHandler(c)
			}
			if assert.Error(t, err) {
				he, ok := err.(*echo.HTTPError)
				if assert.True(t, ok, "expected echo.HTTPError") {
					assert.Equal(t, http.StatusBadRequest, he.Code)
					assert.Contains(t, he.Message, "invalid id")
				}
			}
		})
	}
}
