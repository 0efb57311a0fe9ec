package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sendgate/sendgate/pkg/media"
	"github.com/sendgate/sendgate/pkg/metrics"
	"github.com/sendgate/sendgate/pkg/models"
	"github.com/sendgate/sendgate/pkg/sendqueue"
	"github.com/sendgate/sendgate/pkg/upstream"
)

// rowSettle is how a failed delivery settles its queue row.
type rowSettle int

const (
	// rowRequeue leaves the row pending so a later pass reclaims it.
	rowRequeue rowSettle = iota
	// rowSkip marks the recipient permanently unreachable.
	rowSkip
	// rowFail records a terminal delivery failure.
	rowFail
)

// classifyRowFailure maps a delivery error onto a row settlement. Skip-worthy
// upstream errors mean the recipient is gone; a canceled context means the
// process is shutting down mid-batch, not that the send failed, so the row
// stays pending. Everything else is terminal.
func classifyRowFailure(err error) rowSettle {
	if upstream.IsSkippable(err) {
		return rowSkip
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return rowRequeue
	}
	return rowFail
}

// drain works one pass over every sending broadcast.
func (s *Service) drain(ctx context.Context) {
	sending, err := s.broadcasts.ListSending(ctx)
	if err != nil {
		slog.Error("Broadcast drain failed to list sending broadcasts", "error", err)
		return
	}
	for _, b := range sending {
		if ctx.Err() != nil {
			return
		}
		s.drainOne(ctx, b)
	}
}

// drainOne claims one batch of pending rows for a broadcast and settles each.
// An empty claim with nothing left pending completes the broadcast.
func (s *Service) drainOne(ctx context.Context, b *models.Broadcast) {
	rows, err := s.broadcasts.ClaimRows(ctx, b.ID, time.Now(), drainBatch, reclaimAfter)
	if err != nil {
		slog.Error("Broadcast drain failed to claim rows",
			"broadcast_id", b.ID,
			"error", err)
		return
	}
	if len(rows) == 0 {
		s.maybeComplete(ctx, b.ID)
		return
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return
		}
		s.sendRow(ctx, b, row)
	}
}

// sendRow pushes one recipient's copy through the send queue at shot priority
// and records the outcome. Terminal writes use a fresh context so a shutdown
// mid-settle cannot lose the outcome of a send that already happened.
func (s *Service) sendRow(ctx context.Context, b *models.Broadcast, row *models.BroadcastRow) {
	_, err := s.media.Deliver(ctx, media.DeliverInput{
		Slug:     row.BotSlug,
		ChatID:   row.ChatID,
		Priority: sendqueue.PriorityShot,
		Purpose:  "broadcast",
		Doc:      b.Content,
	})
	if err == nil {
		if _, err := s.broadcasts.MarkRowSent(context.Background(), row.ID); err != nil {
			slog.Error("Broadcast failed to mark row sent",
				"broadcast_id", b.ID,
				"row_id", row.ID,
				"error", err)
			return
		}
		metrics.BroadcastRows.WithLabelValues("sent").Inc()
		return
	}

	switch classifyRowFailure(err) {
	case rowSkip:
		if _, markErr := s.broadcasts.MarkRowSkipped(context.Background(), row.ID, err.Error()); markErr != nil {
			slog.Error("Broadcast failed to mark row skipped",
				"broadcast_id", b.ID,
				"row_id", row.ID,
				"error", markErr)
			return
		}
		metrics.BroadcastRows.WithLabelValues("skipped").Inc()
		slog.Info("Broadcast row skipped",
			"broadcast_id", b.ID,
			"bot", row.BotSlug,
			"chat_id", row.ChatID,
			"reason", err.Error())
	case rowRequeue:
		slog.Warn("Broadcast row left pending for reclaim",
			"broadcast_id", b.ID,
			"row_id", row.ID,
			"error", err)
	case rowFail:
		if _, markErr := s.broadcasts.MarkRowFailed(context.Background(), row.ID, err.Error()); markErr != nil {
			slog.Error("Broadcast failed to mark row failed",
				"broadcast_id", b.ID,
				"row_id", row.ID,
				"error", markErr)
			return
		}
		metrics.BroadcastRows.WithLabelValues("failed").Inc()
		slog.Warn("Broadcast row failed",
			"broadcast_id", b.ID,
			"bot", row.BotSlug,
			"chat_id", row.ChatID,
			"error", err)
	}
}

// maybeComplete transitions a sending broadcast with no pending rows to
// completed. The guarded transition makes a concurrent pause or cancel win.
func (s *Service) maybeComplete(ctx context.Context, id string) {
	pending, err := s.broadcasts.PendingCount(ctx, id)
	if err != nil {
		slog.Error("Broadcast drain failed to count pending rows",
			"broadcast_id", id,
			"error", err)
		return
	}
	if pending > 0 {
		return
	}
	ok, err := s.broadcasts.Transition(ctx, id,
		[]models.BroadcastStatus{models.BroadcastSending},
		models.BroadcastCompleted)
	if err != nil {
		slog.Error("Broadcast drain failed to complete broadcast",
			"broadcast_id", id,
			"error", err)
		return
	}
	if ok {
		slog.Info("Broadcast completed", "broadcast_id", id)
	}
}
