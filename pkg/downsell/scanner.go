package downsell

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sendgate/sendgate/pkg/media"
	"github.com/sendgate/sendgate/pkg/metrics"
	"github.com/sendgate/sendgate/pkg/models"
	"github.com/sendgate/sendgate/pkg/sendqueue"
	"github.com/sendgate/sendgate/pkg/store"
	"github.com/sendgate/sendgate/pkg/upstream"
)

// skipNoUnpaidPix is the canonical skip reason recorded when the eligibility
// gate rejects a due row.
const skipNoUnpaidPix = "no_unpaid_pix"

// scan claims one batch of due rows and works through it with pacing.
func (s *Service) scan(ctx context.Context) {
	due, err := s.schedules.ClaimDue(ctx, time.Now(), scanBatch, reclaimAfter)
	if err != nil {
		slog.Error("Downsell scan failed", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	slog.Info("Downsell scan claimed due rows", "count", len(due))
	for i, row := range due {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(sendPacing):
			}
		}
		s.processRow(ctx, row)
	}
}

func (s *Service) processRow(ctx context.Context, row *models.DownsellSchedule) {
	log := slog.With(
		"bot", row.BotSlug,
		"chat_id", row.ChatID,
		"event_id", row.EventID)

	eligible, err := s.eligible(ctx, row)
	if err != nil {
		log.Error("Eligibility check failed, leaving row pending", "error", err)
		return
	}
	if !eligible {
		s.skip(row, skipNoUnpaidPix)
		return
	}

	tpl, err := s.templates.GetByID(ctx, row.TemplateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.fail(row, "template deleted")
			return
		}
		log.Error("Failed to load template, leaving row pending", "error", err)
		return
	}

	msg, err := s.media.Deliver(ctx, media.DeliverInput{
		Slug:     row.BotSlug,
		ChatID:   row.ChatID,
		Priority: sendqueue.PriorityDownsell,
		Purpose:  "downsell",
		Doc:      tpl.Content,
	})
	if err != nil {
		s.settleFailure(row, err)
		return
	}

	var messageID int64
	if msg != nil {
		messageID = msg.MessageID
	}
	// Background context: the outcome must be recorded even mid-shutdown.
	if ok, err := s.schedules.MarkSent(context.Background(), row.ID, messageID); err != nil {
		log.Error("Failed to mark downsell sent", "error", err)
	} else if ok {
		metrics.DownsellRows.WithLabelValues("sent").Inc()
		log.Info("Downsell sent",
			"template_id", row.TemplateID,
			"message_id", messageID)
	}
}

// eligible applies the send-time payment gate. Scheduling is eager; the gate
// is what keeps a recipient who already paid (or never created a pix) from
// receiving the nudge.
func (s *Service) eligible(ctx context.Context, row *models.DownsellSchedule) (bool, error) {
	switch row.Trigger {
	case models.TriggerPix:
		if row.TransactionID == nil {
			return false, nil
		}
		return s.funnel.TransactionUnpaid(ctx, row.BotSlug, *row.TransactionID)
	case models.TriggerStart:
		return s.funnel.HasUnpaidPix(ctx, row.BotSlug, row.ChatID, time.Now().Add(-unpaidWindow))
	}
	return false, nil
}

// settleAction is what a send failure does to the schedule row.
type settleAction int

const (
	// actionRetry leaves the row pending; the next scan reclaims it.
	actionRetry settleAction = iota
	actionSkip
	actionFail
)

// classifyFailure maps a send error onto a row transition: permanently
// unreachable recipients are skipped, transient transport failures are
// retried by a later scan, everything else is terminal.
func classifyFailure(err error) settleAction {
	if upstream.IsSkippable(err) {
		return actionSkip
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return actionRetry
	}
	var ue *upstream.Error
	if errors.As(err, &ue) {
		switch ue.Kind {
		case upstream.KindRateLimited, upstream.KindTimeout, upstream.KindNetwork, upstream.KindServer:
			return actionRetry
		}
	}
	return actionFail
}

func (s *Service) settleFailure(row *models.DownsellSchedule, sendErr error) {
	switch classifyFailure(sendErr) {
	case actionRetry:
		slog.Warn("Downsell send failed transiently, row stays pending",
			"bot", row.BotSlug,
			"chat_id", row.ChatID,
			"event_id", row.EventID,
			"error", sendErr)
	case actionSkip:
		s.skip(row, sendErr.Error())
	case actionFail:
		s.fail(row, sendErr.Error())
	}
}

func (s *Service) skip(row *models.DownsellSchedule, reason string) {
	if ok, err := s.schedules.MarkSkipped(context.Background(), row.ID, reason); err != nil {
		slog.Error("Failed to mark downsell skipped",
			"event_id", row.EventID,
			"error", err)
	} else if ok {
		metrics.DownsellRows.WithLabelValues("skipped").Inc()
		slog.Info("Downsell skipped",
			"bot", row.BotSlug,
			"chat_id", row.ChatID,
			"event_id", row.EventID,
			"reason", reason)
	}
}

func (s *Service) fail(row *models.DownsellSchedule, reason string) {
	if ok, err := s.schedules.MarkFailed(context.Background(), row.ID, reason); err != nil {
		slog.Error("Failed to mark downsell failed",
			"event_id", row.EventID,
			"error", err)
	} else if ok {
		metrics.DownsellRows.WithLabelValues("failed").Inc()
		slog.Warn("Downsell failed",
			"bot", row.BotSlug,
			"chat_id", row.ChatID,
			"event_id", row.EventID,
			"reason", reason)
	}
}
