package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/sendgate/sendgate/pkg/models"
)

// TemplateRequest is the body of template create and update calls.
type TemplateRequest struct {
	Name         string            `json:"name"`
	Content      models.ContentDoc `json:"content"`
	DelayMinutes int               `json:"delay_minutes"`
	Active       *bool             `json:"active,omitempty"`
	AfterStart   bool              `json:"after_start"`
	AfterPix     bool              `json:"after_pix"`
}

func (r *TemplateRequest) validate() error {
	if r.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if r.Content.Text == "" && len(r.Content.Media) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "content must have text or media")
	}
	if r.DelayMinutes < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "delay_minutes must not be negative")
	}
	if !r.AfterStart && !r.AfterPix {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one of after_start, after_pix must be set")
	}
	return nil
}

// createTemplateHandler handles POST /api/v1/bots/:slug/templates.
func (s *Server) createTemplateHandler(c *echo.Context) error {
	slug, err := slugParam(c)
	if err != nil {
		return err
	}
	var req TemplateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.validate(); err != nil {
		return err
	}

	tpl := &models.DownsellTemplate{
		BotSlug:      slug,
		Name:         req.Name,
		Content:      req.Content,
		DelayMinutes: req.DelayMinutes,
		Active:       req.Active == nil || *req.Active,
		AfterStart:   req.AfterStart,
		AfterPix:     req.AfterPix,
	}
	if err := s.templates.Create(c.Request().Context(), tpl); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, tpl)
}

// listTemplatesHandler handles GET /api/v1/bots/:slug/templates.
func (s *Server) listTemplatesHandler(c *echo.Context) error {
	slug, err := slugParam(c)
	if err != nil {
		return err
	}
	tpls, err := s.templates.ListByBot(c.Request().Context(), slug)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, tpls)
}

// updateTemplateHandler handles PUT /api/v1/templates/:id.
func (s *Server) updateTemplateHandler(c *echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req TemplateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.validate(); err != nil {
		return err
	}

	ctx := c.Request().Context()
	tpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return mapServiceError(err)
	}
	tpl.Name = req.Name
	tpl.Content = req.Content
	tpl.DelayMinutes = req.DelayMinutes
	if req.Active != nil {
		tpl.Active = *req.Active
	}
	tpl.AfterStart = req.AfterStart
	tpl.AfterPix = req.AfterPix
	if err := s.templates.Update(ctx, tpl); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, tpl)
}

// deleteTemplateHandler handles DELETE /api/v1/templates/:id.
func (s *Server) deleteTemplateHandler(c *echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	if err := s.templates.Delete(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &StatusResponse{Status: "deleted"})
}

// idParam extracts the numeric :id path parameter.
func idParam(c *echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}
