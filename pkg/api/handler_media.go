package api

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/sendgate/sendgate/pkg/media"
	"github.com/sendgate/sendgate/pkg/models"
)

// maxUploadBytes bounds an admin media upload. The upstream rejects larger
// payloads anyway, so there is no point buffering them.
const maxUploadBytes = 50 << 20

// uploadMediaHandler handles POST /api/v1/bots/:slug/media (multipart).
// Fields: file (required), kind (photo|video|document|audio, required).
func (s *Server) uploadMediaHandler(c *echo.Context) error {
	slug, err := slugParam(c)
	if err != nil {
		return err
	}

	kind := models.MediaKind(c.FormValue("kind"))
	if !models.ValidMediaKind(kind) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown media kind %q", kind))
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}
	if fh.Size > maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds maximum size of %d bytes", maxUploadBytes))
	}

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not open uploaded file")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read uploaded file")
	}
	if len(data) > maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds maximum size of %d bytes", maxUploadBytes))
	}

	blob, err := s.media.Save(c.Request().Context(), media.SaveInput{
		Slug: slug,
		Kind: kind,
		Data: data,
		Mime: fh.Header.Get("Content-Type"),
		Ext:  strings.TrimPrefix(filepath.Ext(fh.Filename), "."),
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, blob)
}

// listMediaHandler handles GET /api/v1/bots/:slug/media.
func (s *Server) listMediaHandler(c *echo.Context) error {
	slug, err := slugParam(c)
	if err != nil {
		return err
	}
	blobs, err := s.media.List(c.Request().Context(), slug)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, blobs)
}

// listDownsellsHandler handles GET /api/v1/bots/:slug/downsells: the most
// recent schedule rows, for observing what the scanner is doing.
func (s *Server) listDownsellsHandler(c *echo.Context) error {
	slug, err := slugParam(c)
	if err != nil {
		return err
	}
	rows, err := s.schedules.ListByBot(c.Request().Context(), slug, 100)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, rows)
}
