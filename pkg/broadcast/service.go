// Package broadcast runs bulk sends over materialised audiences with a
// pausable state machine and per-recipient progress rows.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sendgate/sendgate/pkg/media"
	"github.com/sendgate/sendgate/pkg/models"
	"github.com/sendgate/sendgate/pkg/store"
)

const (
	drainInterval = time.Second
	drainBatch    = 50

	// reclaimAfter is how long a claimed queue row stays invisible to later
	// drain passes before it is assumed orphaned and claimed again.
	reclaimAfter = 5 * time.Minute
)

// ErrInvalidTransition is returned when a state-machine operation is applied
// to a broadcast that is not in an allowed source state.
var ErrInvalidTransition = errors.New("invalid broadcast state transition")

// Service owns broadcast lifecycle operations and the drain loop that works
// through the materialised audience of every sending broadcast.
type Service struct {
	broadcasts *store.BroadcastStore
	media      *media.Service

	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(broadcasts *store.BroadcastStore, m *media.Service) *Service {
	return &Service{
		broadcasts: broadcasts,
		media:      m,
	}
}

// Create registers a draft broadcast for later population and launch.
func (s *Service) Create(ctx context.Context, slug, title string, content models.ContentDoc, audience models.Audience) (*models.Broadcast, error) {
	switch audience {
	case models.AudienceAllStarted, models.AudienceAfterPix:
	default:
		return nil, store.NewValidationError("audience", fmt.Sprintf("unknown audience %q", audience))
	}
	b := &models.Broadcast{
		ID:       uuid.NewString(),
		BotSlug:  slug,
		Title:    title,
		Content:  content,
		Audience: audience,
	}
	if err := s.broadcasts.Create(ctx, b); err != nil {
		return nil, err
	}
	slog.Info("Broadcast created",
		"broadcast_id", b.ID,
		"bot", slug,
		"audience", audience)
	return b, nil
}

// Populate materialises the audience into queue rows, refreshes the total
// counter and moves a draft to queued. Re-populating keeps recipients already
// queued and only adds newcomers.
func (s *Service) Populate(ctx context.Context, id string) (*models.Broadcast, error) {
	b, err := s.broadcasts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BroadcastDraft && b.Status != models.BroadcastQueued {
		return nil, fmt.Errorf("%w: cannot populate a %s broadcast", ErrInvalidTransition, b.Status)
	}

	total, err := s.broadcasts.PopulateAudience(ctx, b)
	if err != nil {
		return nil, err
	}
	if b.Status == models.BroadcastDraft {
		if _, err := s.broadcasts.Transition(ctx, id, []models.BroadcastStatus{models.BroadcastDraft}, models.BroadcastQueued); err != nil {
			return nil, err
		}
		b.Status = models.BroadcastQueued
	}
	slog.Info("Broadcast audience populated",
		"broadcast_id", id,
		"bot", b.BotSlug,
		"total", total)
	return b, nil
}

// Launch moves a queued or paused broadcast into sending; the drain picks it
// up on its next pass. Resuming a paused broadcast is the same transition.
func (s *Service) Launch(ctx context.Context, id string) error {
	ok, err := s.broadcasts.Transition(ctx, id,
		[]models.BroadcastStatus{models.BroadcastQueued, models.BroadcastPaused},
		models.BroadcastSending)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}
	slog.Info("Broadcast sending", "broadcast_id", id)
	return nil
}

// Pause freezes a sending broadcast without touching its rows.
func (s *Service) Pause(ctx context.Context, id string) error {
	ok, err := s.broadcasts.Transition(ctx, id,
		[]models.BroadcastStatus{models.BroadcastSending},
		models.BroadcastPaused)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}
	slog.Info("Broadcast paused", "broadcast_id", id)
	return nil
}

// Cancel terminates a broadcast from any non-terminal state and bulk-skips
// whatever rows were still pending.
func (s *Service) Cancel(ctx context.Context, id string) error {
	ok, err := s.broadcasts.Transition(ctx, id,
		[]models.BroadcastStatus{
			models.BroadcastDraft,
			models.BroadcastQueued,
			models.BroadcastSending,
			models.BroadcastPaused,
		},
		models.BroadcastCanceled)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}
	skipped, err := s.broadcasts.SkipPendingRows(ctx, id, "broadcast canceled")
	if err != nil {
		return err
	}
	slog.Info("Broadcast canceled",
		"broadcast_id", id,
		"skipped_rows", skipped)
	return nil
}

// Get returns one broadcast with its current counters.
func (s *Service) Get(ctx context.Context, id string) (*models.Broadcast, error) {
	return s.broadcasts.Get(ctx, id)
}

// List returns a bot's broadcasts, newest first.
func (s *Service) List(ctx context.Context, slug string) ([]*models.Broadcast, error) {
	return s.broadcasts.ListByBot(ctx, slug)
}

// Start launches the drain loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Broadcast drain started",
		"interval", drainInterval,
		"batch", drainBatch)
}

// Stop signals the drain loop to exit and waits for it. Rows claimed but not
// settled stay pending and are reclaimed after the reclaim window.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Broadcast drain stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}
