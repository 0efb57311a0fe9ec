package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sendgate/sendgate/pkg/downsell"
	"github.com/sendgate/sendgate/pkg/media"
	"github.com/sendgate/sendgate/pkg/metrics"
	"github.com/sendgate/sendgate/pkg/models"
	"github.com/sendgate/sendgate/pkg/sendqueue"
	"github.com/sendgate/sendgate/pkg/store"
)

// Processor is the background half of the inbound surface. It assumes the
// HTTP layer already authenticated the call and validated the slug shape.
type Processor struct {
	bots     *store.BotStore
	funnel   *store.FunnelStore
	downsell *downsell.Service
	media    *media.Service
	welcome  *welcomeCache
}

func NewProcessor(bots *store.BotStore, funnel *store.FunnelStore, ds *downsell.Service, m *media.Service) *Processor {
	return &Processor{
		bots:     bots,
		funnel:   funnel,
		downsell: ds,
		media:    m,
		welcome:  newWelcomeCache(),
	}
}

// InvalidateWelcome drops a tenant's cached welcome configuration. The admin
// surface calls this after a welcome update so the next start sees it.
func (p *Processor) InvalidateWelcome(slug string) {
	p.welcome.remove(slug)
}

// OnUpdate processes one upstream update. Anything that is not a start intent
// is counted and dropped; the gateway sends, it does not converse.
func (p *Processor) OnUpdate(ctx context.Context, slug string, upd *Update) error {
	if upd == nil || upd.Message == nil || upd.Message.Chat.ID == 0 || !IsStartIntent(upd.Message.Text) {
		metrics.WebhookUpdates.WithLabelValues(slug, "ignored").Inc()
		return nil
	}
	metrics.WebhookUpdates.WithLabelValues(slug, "start").Inc()
	return p.handleStart(ctx, slug, upd.Message.Chat.ID)
}

// handleStart records the funnel event, fans out start-gated downsells and
// delivers the welcome sequence. The funnel write and the fan-out only log
// on failure: the recipient still gets their welcome, and both writes are
// idempotent under re-delivery.
func (p *Processor) handleStart(ctx context.Context, slug string, chatID int64) error {
	cfg, err := p.welcomeConfig(ctx, slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("Start intent for unknown bot", "bot", slug, "chat_id", chatID)
			return nil
		}
		return fmt.Errorf("loading welcome config for %s: %w", slug, err)
	}

	now := time.Now()
	if _, err := p.funnel.Insert(ctx, &models.FunnelEvent{
		EventID:    StartFunnelEventID(slug, chatID, now),
		BotSlug:    slug,
		ChatID:     chatID,
		Kind:       models.FunnelStart,
		OccurredAt: now.UTC(),
	}); err != nil {
		slog.Error("Failed to record start funnel event",
			"bot", slug,
			"chat_id", chatID,
			"error", err)
	}

	if _, err := p.downsell.ScheduleForStart(ctx, slug, chatID, now); err != nil {
		slog.Error("Start downsell fan-out failed",
			"bot", slug,
			"chat_id", chatID,
			"error", err)
	}

	return p.deliverWelcome(ctx, slug, chatID, cfg)
}

// OnPixCreated records the funnel event and fans out pix-gated downsells.
func (p *Processor) OnPixCreated(ctx context.Context, n PaymentNotice) error {
	metrics.WebhookUpdates.WithLabelValues(n.Slug, "pix_created").Inc()

	now := time.Now()
	meta := map[string]any{}
	if n.AmountCents != nil {
		meta["amount_cents"] = *n.AmountCents
	}
	if _, err := p.funnel.Insert(ctx, &models.FunnelEvent{
		EventID:       PixFunnelEventID(n.Slug, n.TransactionID),
		BotSlug:       n.Slug,
		ChatID:        n.ChatID,
		Kind:          models.FunnelPixCreated,
		TransactionID: &n.TransactionID,
		Meta:          meta,
		OccurredAt:    now.UTC(),
	}); err != nil {
		return fmt.Errorf("recording pix_created for %s: %w", n.TransactionID, err)
	}

	count, err := p.downsell.ScheduleForPix(ctx, n.Slug, n.ChatID, n.TransactionID, now)
	if err != nil {
		return err
	}
	slog.Info("Pix created",
		"bot", n.Slug,
		"chat_id", n.ChatID,
		"transaction_id", n.TransactionID,
		"downsells_scheduled", count)
	return nil
}

// OnPaymentApproved records the funnel event, then cancels every pending
// downsell the payment settles. The funnel write happens first so a scanner
// pass racing this notice sees the transaction as paid.
func (p *Processor) OnPaymentApproved(ctx context.Context, n PaymentNotice) error {
	metrics.WebhookUpdates.WithLabelValues(n.Slug, "payment_approved").Inc()

	if _, err := p.funnel.Insert(ctx, &models.FunnelEvent{
		EventID:       PaymentFunnelEventID(n.Slug, n.TransactionID),
		BotSlug:       n.Slug,
		ChatID:        n.ChatID,
		Kind:          models.FunnelPaymentApproved,
		TransactionID: &n.TransactionID,
		OccurredAt:    time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("recording payment_approved for %s: %w", n.TransactionID, err)
	}

	canceled, err := p.downsell.HandlePaymentApproved(ctx, n.Slug, n.ChatID, n.TransactionID)
	if err != nil {
		return err
	}
	slog.Info("Payment approved",
		"bot", n.Slug,
		"chat_id", n.ChatID,
		"transaction_id", n.TransactionID,
		"downsells_canceled", canceled)
	return nil
}

// OnPixExpired cancels the downsells bound to the expired transaction. The
// funnel log does not track expiry; eligibility treats an expired pix the
// same as an unpaid one until the rows are gone.
func (p *Processor) OnPixExpired(ctx context.Context, n PaymentNotice) error {
	metrics.WebhookUpdates.WithLabelValues(n.Slug, "pix_expired").Inc()

	canceled, err := p.downsell.HandlePixExpired(ctx, n.Slug, n.TransactionID)
	if err != nil {
		return err
	}
	slog.Info("Pix expired",
		"bot", n.Slug,
		"transaction_id", n.TransactionID,
		"downsells_canceled", canceled)
	return nil
}

// welcomeConfig returns the tenant's welcome document, cached for a minute.
func (p *Processor) welcomeConfig(ctx context.Context, slug string) (models.WelcomeConfig, error) {
	if cfg, ok := p.welcome.get(slug); ok {
		return cfg, nil
	}
	bot, err := p.bots.GetBySlug(ctx, slug)
	if err != nil {
		return models.WelcomeConfig{}, err
	}
	p.welcome.put(slug, bot.Welcome)
	return bot.Welcome, nil
}

// deliverWelcome sends the media block, then each text message, all at start
// priority. Sequential awaits keep the upstream arrival order stable.
func (p *Processor) deliverWelcome(ctx context.Context, slug string, chatID int64, cfg models.WelcomeConfig) error {
	if len(cfg.Media) == 0 && len(cfg.Messages) == 0 {
		slog.Info("Start intent with no welcome configured", "bot", slug, "chat_id", chatID)
		return nil
	}

	if len(cfg.Media) > 0 {
		if _, err := p.media.Deliver(ctx, media.DeliverInput{
			Slug:     slug,
			ChatID:   chatID,
			Priority: sendqueue.PriorityStart,
			Purpose:  "welcome",
			Doc:      models.ContentDoc{Media: cfg.Media},
		}); err != nil {
			return fmt.Errorf("delivering welcome media: %w", err)
		}
	}

	for i, msg := range cfg.Messages {
		if msg.Text == "" {
			continue
		}
		if _, err := p.media.Deliver(ctx, media.DeliverInput{
			Slug:     slug,
			ChatID:   chatID,
			Priority: sendqueue.PriorityStart,
			Purpose:  "welcome",
			Doc:      models.ContentDoc{Text: msg.Text, ParseMode: msg.ParseMode},
		}); err != nil {
			return fmt.Errorf("delivering welcome message %d: %w", i+1, err)
		}
	}

	slog.Info("Welcome delivered",
		"bot", slug,
		"chat_id", chatID,
		"media", len(cfg.Media),
		"messages", len(cfg.Messages))
	return nil
}
