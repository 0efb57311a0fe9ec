package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/sendgate/sendgate/pkg/models"
	"github.com/sendgate/sendgate/pkg/store"
	"github.com/sendgate/sendgate/pkg/vault"
)

// CreateBotRequest is the body of POST /api/v1/bots.
type CreateBotRequest struct {
	Slug          string                `json:"slug"`
	Name          string                `json:"name"`
	StagingChatID *int64                `json:"staging_chat_id,omitempty"`
	Welcome       *models.WelcomeConfig `json:"welcome,omitempty"`
}

// UpdateBotRequest is the body of PUT /api/v1/bots/:slug.
type UpdateBotRequest struct {
	Name          string `json:"name"`
	StagingChatID *int64 `json:"staging_chat_id,omitempty"`
}

// SetCredentialRequest is the body of PUT /api/v1/bots/:slug/credential.
type SetCredentialRequest struct {
	Token string `json:"token"`
}

// createBotHandler handles POST /api/v1/bots.
func (s *Server) createBotHandler(c *echo.Context) error {
	var req CreateBotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := models.ValidateSlug(req.Slug); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" {
		req.Name = req.Slug
	}

	bot := &models.Bot{
		Slug:          req.Slug,
		Name:          req.Name,
		Provider:      models.ProviderTelegram,
		StagingChatID: req.StagingChatID,
	}
	if req.Welcome != nil {
		bot.Welcome = *req.Welcome
	}
	if err := s.bots.Create(c.Request().Context(), bot); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, bot)
}

// listBotsHandler handles GET /api/v1/bots.
func (s *Server) listBotsHandler(c *echo.Context) error {
	bots, err := s.bots.List(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, bots)
}

// getBotHandler handles GET /api/v1/bots/:slug.
func (s *Server) getBotHandler(c *echo.Context) error {
	slug, err := slugParam(c)
	if err != nil {
		return err
	}
	bot, err := s.bots.GetBySlug(c.Request().Context(), slug)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, bot)
}

// updateBotHandler handles PUT /api/v1/bots/:slug.
func (s *Server) updateBotHandler(c *echo.Context) error {
	slug, err := slugParam(c)
	if err != nil {
		return err
	}
	var req UpdateBotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.bots.UpdateProfile(c.Request().Context(), slug, req.Name, req.StagingChatID); err != nil {
		return mapServiceError(err)
	}
	bot, err := s.bots.GetBySlug(c.Request().Context(), slug)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, bot)
}

// deleteBotHandler handles DELETE /api/v1/bots/:slug. Soft by default;
// ?hard=true removes the row and cascades over everything the bot owns.
// Hard deletion escalates through soft deletion, so it works on live and
// already-hidden bots alike.
func (s *Server) deleteBotHandler(c *echo.Context) error {
	slug, err := slugParam(c)
	if err != nil {
		return err
	}
	hard := c.QueryParam("hard") == "true"

	ctx := c.Request().Context()
	if hard {
		if err := s.bots.SoftDelete(ctx, slug); err != nil && !errors.Is(err, store.ErrNotFound) {
			return mapServiceError(err)
		}
		err = s.bots.HardDelete(ctx, slug)
	} else {
		err = s.bots.SoftDelete(ctx, slug)
	}
	if err != nil {
		return mapServiceError(err)
	}
	s.vault.Invalidate(slug)
	s.processor.InvalidateWelcome(slug)
	return c.JSON(http.StatusOK, &StatusResponse{Status: "deleted"})
}

// updateWelcomeHandler handles PUT /api/v1/bots/:slug/welcome.
func (s *Server) updateWelcomeHandler(c *echo.Context) error {
	slug, err := slugParam(c)
	if err != nil {
		return err
	}
	var req models.WelcomeConfig
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	for i, m := range req.Media {
		if !models.ValidMediaKind(m.Kind) {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("media[%d]: unknown kind %q", i, m.Kind))
		}
		if m.SHA256 == "" {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("media[%d]: sha256 is required", i))
		}
	}
	if err := s.bots.UpdateWelcome(c.Request().Context(), slug, req); err != nil {
		return mapServiceError(err)
	}
	// The next start intent must see the new welcome, not the cached one.
	s.processor.InvalidateWelcome(slug)
	return c.JSON(http.StatusOK, &StatusResponse{Status: "updated"})
}

// setCredentialHandler handles PUT /api/v1/bots/:slug/credential.
// The token is sealed before it touches the database, the cached plaintext is
// dropped, and a getMe round-trip proves the credential actually works.
func (s *Server) setCredentialHandler(c *echo.Context) error {
	slug, err := slugParam(c)
	if err != nil {
		return err
	}
	var req SetCredentialRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}

	ctx := c.Request().Context()
	cipher, iv, err := s.vault.Seal(req.Token)
	if err != nil {
		return mapServiceError(err)
	}
	if _, err := s.bots.SetCredential(ctx, slug, cipher, iv); err != nil {
		return mapServiceError(err)
	}
	s.vault.Invalidate(slug)

	resp := &CredentialResponse{
		Slug:        slug,
		MaskedToken: vault.MaskToken(req.Token),
	}
	// Warm the upstream session and surface an obviously broken token now
	// rather than on the first real send.
	me, err := s.upstream.GetMe(ctx, req.Token)
	if err != nil {
		slog.Warn("Credential stored but getMe failed", "bot", slug, "error", err)
		return c.JSON(http.StatusOK, resp)
	}
	resp.BotID = me.ID
	resp.BotUsername = me.Username
	return c.JSON(http.StatusOK, resp)
}

// bindWebhookHandler handles POST /api/v1/bots/:slug/webhook: registers this
// gateway's inbound URL for the bot with the upstream.
func (s *Server) bindWebhookHandler(c *echo.Context) error {
	slug, err := slugParam(c)
	if err != nil {
		return err
	}
	if s.cfg.PublicBaseURL == "" {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "PUBLIC_BASE_URL is not configured")
	}

	ctx := c.Request().Context()
	token, err := s.vault.Token(ctx, slug)
	if err != nil {
		return mapServiceError(err)
	}
	url := fmt.Sprintf("%s/tg/%s/webhook", strings.TrimRight(s.cfg.PublicBaseURL, "/"), slug)
	if err := s.upstream.SetWebhook(ctx, token, url, s.cfg.WebhookSecret); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &StatusResponse{Status: "bound", Message: url})
}

// slugParam extracts and shape-checks the :slug path parameter.
func slugParam(c *echo.Context) (string, error) {
	slug := c.Param("slug")
	if !models.ValidSlug(slug) {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid slug")
	}
	return slug, nil
}
