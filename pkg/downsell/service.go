// Package downsell schedules follow-up messages after conversion triggers,
// gates them against payment state at send time, and cancels them when the
// recipient pays or the payment intent expires.
package downsell

import (
	"context"
	"log/slog"
	"time"

	"github.com/sendgate/sendgate/pkg/media"
	"github.com/sendgate/sendgate/pkg/metrics"
	"github.com/sendgate/sendgate/pkg/models"
	"github.com/sendgate/sendgate/pkg/store"
)

const (
	scanInterval = 10 * time.Second
	scanBatch    = 50

	// sendPacing spaces sends inside one batch so a burst of due rows does
	// not empty the recipient buckets all at once.
	sendPacing = 200 * time.Millisecond

	// reclaimAfter is how long a claimed row stays invisible to later scans
	// before it is assumed orphaned and picked up again.
	reclaimAfter = 5 * time.Minute

	// unpaidWindow bounds how far back the start-trigger gate looks for an
	// unpaid pix.
	unpaidWindow = 7 * 24 * time.Hour
)

// Service owns the downsell lifecycle: scheduling on triggers, the due-row
// scan loop, eligibility gating and cancellation fan-out.
type Service struct {
	schedules *store.ScheduleStore
	templates *store.TemplateStore
	funnel    *store.FunnelStore
	media     *media.Service

	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(schedules *store.ScheduleStore, templates *store.TemplateStore, funnel *store.FunnelStore, m *media.Service) *Service {
	return &Service{
		schedules: schedules,
		templates: templates,
		funnel:    funnel,
		media:     m,
	}
}

// ScheduleForStart inserts one pending schedule row per active after_start
// template. Calling it again with the same inputs inserts nothing.
func (s *Service) ScheduleForStart(ctx context.Context, slug string, chatID int64, now time.Time) (int, error) {
	tpls, err := s.templates.ActiveByTrigger(ctx, slug, models.TriggerStart)
	if err != nil {
		return 0, err
	}
	return s.schedule(ctx, slug, chatID, nil, models.TriggerStart, tpls, now), nil
}

// ScheduleForPix inserts one pending schedule row per active after_pix
// template, each bound to the payment intent.
func (s *Service) ScheduleForPix(ctx context.Context, slug string, chatID int64, transactionID string, now time.Time) (int, error) {
	tpls, err := s.templates.ActiveByTrigger(ctx, slug, models.TriggerPix)
	if err != nil {
		return 0, err
	}
	return s.schedule(ctx, slug, chatID, &transactionID, models.TriggerPix, tpls, now), nil
}

func (s *Service) schedule(ctx context.Context, slug string, chatID int64, transactionID *string, trigger models.Trigger, tpls []*models.DownsellTemplate, now time.Time) int {
	inserted := 0
	for _, tpl := range tpls {
		at := now.Add(time.Duration(tpl.DelayMinutes) * time.Minute)
		var tx string
		if transactionID != nil {
			tx = *transactionID
		}
		row := &models.DownsellSchedule{
			EventID:       EventID(trigger, slug, chatID, tpl.ID, tx, at),
			BotSlug:       slug,
			ChatID:        chatID,
			TemplateID:    tpl.ID,
			TransactionID: transactionID,
			Trigger:       trigger,
			ScheduledAt:   at,
		}
		ok, err := s.schedules.Insert(ctx, row)
		if err != nil {
			slog.Error("Failed to insert downsell schedule",
				"bot", slug,
				"chat_id", chatID,
				"template_id", tpl.ID,
				"error", err)
			continue
		}
		if ok {
			inserted++
			metrics.DownsellRows.WithLabelValues("scheduled").Inc()
		}
	}
	if inserted > 0 {
		slog.Info("Downsells scheduled",
			"bot", slug,
			"chat_id", chatID,
			"trigger", trigger,
			"count", inserted)
	}
	return inserted
}

// HandlePaymentApproved cancels every pending row bound to the paid
// transaction, plus the recipient's start-triggered rows: a paying customer
// gets no more nudges from either trigger.
func (s *Service) HandlePaymentApproved(ctx context.Context, slug string, chatID int64, transactionID string) (int64, error) {
	canceled, err := s.schedules.CancelOnPayment(ctx, slug, chatID, transactionID)
	if err != nil {
		return 0, err
	}
	if canceled > 0 {
		metrics.DownsellRows.WithLabelValues("canceled").Add(float64(canceled))
		slog.Info("Downsells canceled on payment",
			"bot", slug,
			"chat_id", chatID,
			"transaction_id", transactionID,
			"count", canceled)
	}
	return canceled, nil
}

// HandlePixExpired cancels every pending row bound to the expired intent.
func (s *Service) HandlePixExpired(ctx context.Context, slug, transactionID string) (int64, error) {
	canceled, err := s.schedules.CancelOnExpiry(ctx, slug, transactionID)
	if err != nil {
		return 0, err
	}
	if canceled > 0 {
		metrics.DownsellRows.WithLabelValues("canceled").Add(float64(canceled))
		slog.Info("Downsells canceled on pix expiry",
			"bot", slug,
			"transaction_id", transactionID,
			"count", canceled)
	}
	return canceled, nil
}

// Start launches the due-row scan loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Downsell scanner started",
		"interval", scanInterval,
		"batch", scanBatch,
		"pacing", sendPacing)
}

// Stop signals the scan loop to exit and waits for it to finish. Claimed but
// unsent rows stay pending and are reclaimed after the reclaim window.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Downsell scanner stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}
