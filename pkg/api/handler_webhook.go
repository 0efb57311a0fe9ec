package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/sendgate/sendgate/pkg/models"
	"github.com/sendgate/sendgate/pkg/webhook"
)

// webhookProcessTimeout bounds the background phase of one inbound delivery.
// Welcome sends wait on the queue, so this covers a moderate back-off too.
const webhookProcessTimeout = 2 * time.Minute

// telegramWebhookHandler handles POST /tg/:slug/webhook.
// The ack phase is deliberately tiny: slug shape, secret, bind, 200. The
// upstream redelivers on non-200, so rejections are for callers we never
// want to hear from again.
func (s *Server) telegramWebhookHandler(c *echo.Context) error {
	slug := c.Param("slug")
	if !models.ValidSlug(slug) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid slug")
	}
	if s.cfg.WebhookSecret != "" && !secretEqual(c.Request().Header.Get(webhookSecretHeader), s.cfg.WebhookSecret) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
	}

	var upd webhook.Update
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed update")
	}

	s.background(slug, "update", func(ctx context.Context) error {
		return s.processor.OnUpdate(ctx, slug, &upd)
	})
	return c.NoContent(http.StatusOK)
}

// pixCreatedHandler handles POST /api/payment/webhook/pix-created.
func (s *Server) pixCreatedHandler(c *echo.Context) error {
	notice, err := bindPaymentNotice(c, true)
	if err != nil {
		return err
	}
	s.background(notice.Slug, "pix-created", func(ctx context.Context) error {
		return s.processor.OnPixCreated(ctx, notice)
	})
	return c.JSON(http.StatusOK, &StatusResponse{Status: "accepted"})
}

// paymentApprovedHandler handles POST /api/payment/webhook/payment-approved.
func (s *Server) paymentApprovedHandler(c *echo.Context) error {
	notice, err := bindPaymentNotice(c, true)
	if err != nil {
		return err
	}
	s.background(notice.Slug, "payment-approved", func(ctx context.Context) error {
		return s.processor.OnPaymentApproved(ctx, notice)
	})
	return c.JSON(http.StatusOK, &StatusResponse{Status: "accepted"})
}

// pixExpiredHandler handles POST /api/payment/webhook/pix-expired.
// Expiry notices carry no chat id; cancellation is transaction-scoped.
func (s *Server) pixExpiredHandler(c *echo.Context) error {
	notice, err := bindPaymentNotice(c, false)
	if err != nil {
		return err
	}
	s.background(notice.Slug, "pix-expired", func(ctx context.Context) error {
		return s.processor.OnPixExpired(ctx, notice)
	})
	return c.JSON(http.StatusOK, &StatusResponse{Status: "accepted"})
}

func bindPaymentNotice(c *echo.Context, requireChat bool) (webhook.PaymentNotice, error) {
	var notice webhook.PaymentNotice
	if err := c.Bind(&notice); err != nil {
		return notice, echo.NewHTTPError(http.StatusBadRequest, "malformed payment notice")
	}
	if err := notice.Validate(requireChat); err != nil {
		return notice, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return notice, nil
}

// background runs fn detached from the request with its own deadline.
// Failures are only logged; recovery is by re-delivery from the caller.
func (s *Server) background(slug, what string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), webhookProcessTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			slog.Error("Background webhook processing failed",
				"bot", slug,
				"kind", what,
				"error", err)
		}
	}()
}
