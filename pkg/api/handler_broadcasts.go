package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/sendgate/sendgate/pkg/models"
)

// CreateBroadcastRequest is the body of POST /api/v1/bots/:slug/broadcasts.
type CreateBroadcastRequest struct {
	Title    string            `json:"title"`
	Content  models.ContentDoc `json:"content"`
	Audience models.Audience   `json:"audience"`
}

// createBroadcastHandler handles POST /api/v1/bots/:slug/broadcasts.
func (s *Server) createBroadcastHandler(c *echo.Context) error {
	slug, err := slugParam(c)
	if err != nil {
		return err
	}
	var req CreateBroadcastRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Content.Text == "" && len(req.Content.Media) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "content must have text or media")
	}

	b, err := s.broadcast.Create(c.Request().Context(), slug, req.Title, req.Content, req.Audience)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

// listBroadcastsHandler handles GET /api/v1/bots/:slug/broadcasts.
func (s *Server) listBroadcastsHandler(c *echo.Context) error {
	slug, err := slugParam(c)
	if err != nil {
		return err
	}
	list, err := s.broadcast.List(c.Request().Context(), slug)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, list)
}

// getBroadcastHandler handles GET /api/v1/broadcasts/:id.
func (s *Server) getBroadcastHandler(c *echo.Context) error {
	id, err := broadcastIDParam(c)
	if err != nil {
		return err
	}
	b, err := s.broadcast.Get(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, b)
}

// populateBroadcastHandler handles POST /api/v1/broadcasts/:id/populate.
func (s *Server) populateBroadcastHandler(c *echo.Context) error {
	id, err := broadcastIDParam(c)
	if err != nil {
		return err
	}
	b, err := s.broadcast.Populate(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, b)
}

// startBroadcastHandler handles POST /api/v1/broadcasts/:id/start.
func (s *Server) startBroadcastHandler(c *echo.Context) error {
	return s.broadcastAction(c, s.broadcast.Launch)
}

// pauseBroadcastHandler handles POST /api/v1/broadcasts/:id/pause.
func (s *Server) pauseBroadcastHandler(c *echo.Context) error {
	return s.broadcastAction(c, s.broadcast.Pause)
}

// resumeBroadcastHandler handles POST /api/v1/broadcasts/:id/resume.
// Resuming is the same transition as starting: paused → sending.
func (s *Server) resumeBroadcastHandler(c *echo.Context) error {
	return s.broadcastAction(c, s.broadcast.Launch)
}

// cancelBroadcastHandler handles POST /api/v1/broadcasts/:id/cancel.
func (s *Server) cancelBroadcastHandler(c *echo.Context) error {
	return s.broadcastAction(c, s.broadcast.Cancel)
}

func (s *Server) broadcastAction(c *echo.Context, action func(ctx context.Context, id string) error) error {
	id, err := broadcastIDParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := action(ctx, id); err != nil {
		return mapServiceError(err)
	}
	b, err := s.broadcast.Get(ctx, id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, b)
}

// broadcastIDParam extracts the UUID :id path parameter.
func broadcastIDParam(c *echo.Context) (string, error) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid broadcast id")
	}
	return id, nil
}
