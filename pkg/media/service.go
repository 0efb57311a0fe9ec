// Package media owns the content-addressed blob pipeline: saving uploads to
// the object store, warming them through staging chats for reusable remote
// file handles, and composing outbound deliveries (media block, then text).
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/sendgate/sendgate/pkg/blob"
	"github.com/sendgate/sendgate/pkg/models"
	"github.com/sendgate/sendgate/pkg/sendqueue"
	"github.com/sendgate/sendgate/pkg/store"
	"github.com/sendgate/sendgate/pkg/upstream"
	"github.com/sendgate/sendgate/pkg/vault"
)

// Service is the media facade used by the webhook processor, the downsell
// worker and the broadcast drain.
type Service struct {
	store    *store.MediaStore
	blob     *blob.Client
	upstream *upstream.Client
	vault    *vault.Vault
	queue    *sendqueue.Queue
	warmer   *Warmer
}

func NewService(ms *store.MediaStore, bc *blob.Client, up *upstream.Client, v *vault.Vault, q *sendqueue.Queue, warmer *Warmer) *Service {
	return &Service{
		store:    ms,
		blob:     bc,
		upstream: up,
		vault:    v,
		queue:    q,
		warmer:   warmer,
	}
}

// Start launches the warm-up pool.
func (s *Service) Start(ctx context.Context) {
	s.warmer.Start(ctx)
}

// Stop drains the warm-up pool.
func (s *Service) Stop() {
	s.warmer.Stop()
}

// Warmer exposes pool statistics for the health endpoint.
func (s *Service) Warmer() *Warmer {
	return s.warmer
}

// List returns a tenant's stored blobs, newest first.
func (s *Service) List(ctx context.Context, slug string) ([]*models.MediaBlob, error) {
	return s.store.ListBlobs(ctx, slug)
}

// SaveInput describes one incoming upload.
type SaveInput struct {
	Slug     string
	Kind     models.MediaKind
	Data     []byte
	Mime     string
	Ext      string
	Width    *int
	Height   *int
	Duration *int
}

// Save stores a payload content-addressed, records the blob row, creates the
// warming cache row and kicks off a warm-up. Saving the same bytes twice
// refreshes metadata and is otherwise a no-op.
func (s *Service) Save(ctx context.Context, in SaveInput) (*models.MediaBlob, error) {
	if !models.ValidMediaKind(in.Kind) {
		return nil, fmt.Errorf("%w: unknown media kind %q", store.ErrInvalidInput, in.Kind)
	}
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: empty media payload", store.ErrInvalidInput)
	}

	sum := sha256.Sum256(in.Data)
	sha := hex.EncodeToString(sum[:])
	key := blob.ObjectKey(in.Slug, in.Kind, sha, in.Ext)

	etag, err := s.blob.Upload(ctx, key, in.Data, in.Mime)
	if err != nil {
		return nil, fmt.Errorf("uploading blob: %w", err)
	}

	b := &models.MediaBlob{
		ID:       uuid.NewString(),
		BotSlug:  in.Slug,
		Kind:     in.Kind,
		SHA256:   sha,
		Key:      key,
		ETag:     etag,
		Bytes:    int64(len(in.Data)),
		Mime:     in.Mime,
		Ext:      in.Ext,
		Width:    in.Width,
		Height:   in.Height,
		Duration: in.Duration,
	}
	if err := s.store.UpsertBlob(ctx, b); err != nil {
		return nil, err
	}
	if _, err := s.store.EnsureCacheEntry(ctx, in.Slug, sha, in.Kind); err != nil {
		return nil, err
	}
	s.warmer.Enqueue(b)

	slog.Info("Media saved",
		"bot", in.Slug,
		"kind", in.Kind,
		"sha256", sha,
		"bytes", b.Bytes)
	return b, nil
}

// DeliverInput is one outbound composition: an optional media block followed
// by the text body.
type DeliverInput struct {
	Slug     string
	ChatID   int64
	Priority sendqueue.Priority
	Purpose  string
	Doc      models.ContentDoc
}

// Deliver enqueues the ready media of doc one message per attachment (audio
// before video before photo, no captions), then the text, all at the given
// priority, and blocks until every send settles. It returns the upstream
// message of the text send when there is one.
//
// Media refs that are not warm yet are skipped for this delivery and handed
// to the warm-up pool. A skip-worthy upstream error aborts the remaining
// sends, since the recipient would reject those too.
func (s *Service) Deliver(ctx context.Context, in DeliverInput) (*upstream.Message, error) {
	token, err := s.vault.Token(ctx, in.Slug)
	if err != nil {
		return nil, err
	}

	for _, att := range s.resolve(ctx, in.Slug, in.Doc.Media) {
		input := upstream.MediaInput{FileID: att.fileID}
		kind := att.kind
		handle := s.queue.Enqueue(in.Priority, in.Slug, in.ChatID, in.Purpose+":media", func(cbCtx context.Context) error {
			_, err := sendByKind(cbCtx, s.upstream, token, in.ChatID, kind, input)
			return err
		})
		if err := s.await(ctx, handle); err != nil {
			if upstream.IsSkippable(err) {
				return nil, err
			}
			slog.Warn("Media message failed, continuing delivery",
				"bot", in.Slug,
				"chat_id", in.ChatID,
				"kind", kind,
				"error", err)
		}
	}

	if in.Doc.Text == "" {
		return nil, nil
	}

	var msg *upstream.Message
	handle := s.queue.Enqueue(in.Priority, in.Slug, in.ChatID, in.Purpose, func(cbCtx context.Context) error {
		m, err := s.upstream.SendMessage(cbCtx, token, in.ChatID, in.Doc.Text, in.Doc.ParseMode, false)
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err := s.await(ctx, handle); err != nil {
		return nil, err
	}
	return msg, nil
}

// await blocks until the send settles or the caller's context is done.
func (s *Service) await(ctx context.Context, h *sendqueue.Handle) error {
	select {
	case <-h.Done():
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type attachment struct {
	kind   models.MediaKind
	fileID string
}

// kindOrder places audio before video before photo before document in a
// mixed block.
var kindOrder = map[models.MediaKind]int{
	models.MediaAudio:    0,
	models.MediaVideo:    1,
	models.MediaPhoto:    2,
	models.MediaDocument: 3,
}

// resolve maps refs to ready attachments in kind order. Refs that are not
// ready are queued for warm-up and dropped from this delivery.
func (s *Service) resolve(ctx context.Context, slug string, refs []models.MediaRef) []attachment {
	if len(refs) > models.MaxMediaRefs {
		refs = refs[:models.MaxMediaRefs]
	}

	var out []attachment
	for _, ref := range refs {
		entry, err := s.store.GetCacheEntry(ctx, slug, ref.SHA256, ref.Kind)
		switch {
		case err == nil && entry.Status == models.MediaReady && entry.FileID != nil:
			out = append(out, attachment{kind: ref.Kind, fileID: *entry.FileID})
			continue
		case err != nil && !errors.Is(err, store.ErrNotFound):
			slog.Warn("Media cache lookup failed",
				"bot", slug,
				"sha256", ref.SHA256,
				"error", err)
			continue
		}
		s.warmMiss(ctx, slug, ref)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return kindOrder[out[i].kind] < kindOrder[out[j].kind]
	})
	return out
}

// warmMiss fires a warm-up for a ref that was not ready at send time.
func (s *Service) warmMiss(ctx context.Context, slug string, ref models.MediaRef) {
	b, err := s.store.GetBlob(ctx, slug, ref.SHA256, ref.Kind)
	if err != nil {
		slog.Warn("Media ref without stored blob, cannot warm",
			"bot", slug,
			"kind", ref.Kind,
			"sha256", ref.SHA256)
		return
	}
	if _, err := s.store.EnsureCacheEntry(ctx, slug, ref.SHA256, ref.Kind); err != nil {
		slog.Warn("Failed to ensure media cache row",
			"bot", slug,
			"sha256", ref.SHA256,
			"error", err)
	}
	s.warmer.Enqueue(b)
}
