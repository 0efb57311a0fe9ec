package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sendgate/sendgate/pkg/blob"
	"github.com/sendgate/sendgate/pkg/metrics"
	"github.com/sendgate/sendgate/pkg/models"
	"github.com/sendgate/sendgate/pkg/store"
	"github.com/sendgate/sendgate/pkg/upstream"
	"github.com/sendgate/sendgate/pkg/vault"
)

const (
	warmupCapacity = 500
	warmupWorkers  = 5

	// resortEvery is how many enqueues pass between score re-sorts of the
	// pending queue.
	resortEvery = 10
)

// ErrNoStagingChat fails a warm-up when neither the tenant nor the process
// configuration names a staging chat to upload through.
var ErrNoStagingChat = errors.New("no staging chat configured")

// warmupJob is one pending staging upload.
type warmupJob struct {
	id         string
	slug       string
	sha256     string
	kind       models.MediaKind
	key        string
	ext        string
	bytes      int64
	enqueuedAt time.Time
	score      float64
}

func warmupJobID(slug, sha string, kind models.MediaKind) string {
	return fmt.Sprintf("%s:%s:%s", slug, sha, kind)
}

// jobScore ranks pending warm-ups: photos beat videos beat the rest, larger
// payloads sink, and a small sequence bonus keeps fresh uploads from being
// starved behind an old backlog.
func jobScore(kind models.MediaKind, bytes int64, seq int64) float64 {
	var weight float64
	switch kind {
	case models.MediaPhoto:
		weight = 300
	case models.MediaVideo:
		weight = 200
	default:
		weight = 100
	}
	return weight - float64(bytes)/(1<<20) + float64(seq)*0.001
}

// Warmer uploads saved blobs to each tenant's staging chat to obtain the
// reusable remote file handle. It runs a fixed pool of workers over a scored
// pending queue and deduplicates by (tenant, sha256, kind) across both the
// queue and the jobs currently in flight.
type Warmer struct {
	media       *store.MediaStore
	bots        *store.BotStore
	vault       *vault.Vault
	upstream    *upstream.Client
	blob        *blob.Client
	downloads   *downloadCache
	stagingChat int64 // process-wide fallback, zero means none

	mu       sync.Mutex
	pending  []*warmupJob
	queued   map[string]struct{}
	inflight map[string]struct{}
	enqueues int64
	seq      int64

	kickCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// WarmerStats is a point-in-time snapshot for the health endpoint.
type WarmerStats struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
}

func NewWarmer(media *store.MediaStore, bots *store.BotStore, v *vault.Vault, up *upstream.Client, bc *blob.Client, fallbackStagingChat int64) *Warmer {
	return &Warmer{
		media:       media,
		bots:        bots,
		vault:       v,
		upstream:    up,
		blob:        bc,
		downloads:   newDownloadCache(),
		stagingChat: fallbackStagingChat,
		queued:      make(map[string]struct{}),
		inflight:    make(map[string]struct{}),
		kickCh:      make(chan struct{}, warmupWorkers),
		stopCh:      make(chan struct{}),
	}
}

// Start spawns the worker goroutines.
func (w *Warmer) Start(ctx context.Context) {
	for i := 0; i < warmupWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
	slog.Info("Media warm-up pool started",
		"workers", warmupWorkers,
		"capacity", warmupCapacity)
}

// Stop signals the workers and waits for in-flight uploads to finish.
// Pending jobs stay pending; the cache rows remain warming and a later send
// re-enqueues them.
func (w *Warmer) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	slog.Info("Media warm-up pool stopped", "pending", w.Stats().Pending)
}

// Enqueue schedules a warm-up for b unless one with the same
// (tenant, sha256, kind) is already queued or running. Returns false when
// deduplicated or when the queue is at capacity.
func (w *Warmer) Enqueue(b *models.MediaBlob) bool {
	id := warmupJobID(b.BotSlug, b.SHA256, b.Kind)

	w.mu.Lock()
	if _, ok := w.queued[id]; ok {
		w.mu.Unlock()
		return false
	}
	if _, ok := w.inflight[id]; ok {
		w.mu.Unlock()
		return false
	}
	if len(w.pending) >= warmupCapacity {
		w.mu.Unlock()
		metrics.WarmupJobs.WithLabelValues(string(b.Kind), "rejected").Inc()
		slog.Warn("Warm-up queue full, dropping job",
			"bot", b.BotSlug,
			"kind", b.Kind,
			"sha256", b.SHA256)
		return false
	}

	w.seq++
	job := &warmupJob{
		id:         id,
		slug:       b.BotSlug,
		sha256:     b.SHA256,
		kind:       b.Kind,
		key:        b.Key,
		ext:        b.Ext,
		bytes:      b.Bytes,
		enqueuedAt: time.Now(),
		score:      jobScore(b.Kind, b.Bytes, w.seq),
	}
	w.pending = append(w.pending, job)
	w.queued[id] = struct{}{}
	w.enqueues++
	if w.enqueues%resortEvery == 0 {
		sort.SliceStable(w.pending, func(i, j int) bool {
			return w.pending[i].score > w.pending[j].score
		})
	}
	w.mu.Unlock()

	w.kick()
	return true
}

func (w *Warmer) Stats() WarmerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WarmerStats{Pending: len(w.pending), InFlight: len(w.inflight)}
}

func (w *Warmer) kick() {
	select {
	case w.kickCh <- struct{}{}:
	default:
	}
}

// pop takes the best-scored pending job and moves it to the in-flight set.
func (w *Warmer) pop() *warmupJob {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	job := w.pending[0]
	w.pending = w.pending[1:]
	delete(w.queued, job.id)
	w.inflight[job.id] = struct{}{}
	return job
}

func (w *Warmer) done(id string) {
	w.mu.Lock()
	delete(w.inflight, id)
	w.mu.Unlock()
}

func (w *Warmer) run(ctx context.Context, id int) {
	defer w.wg.Done()
	log := slog.With("warmup_worker", id)
	log.Debug("Warm-up worker started")

	for {
		select {
		case <-w.stopCh:
			log.Debug("Warm-up worker shutting down")
			return
		case <-ctx.Done():
			return
		case <-w.kickCh:
		}
		for {
			job := w.pop()
			if job == nil {
				break
			}
			w.process(ctx, job)
		}
	}
}

func (w *Warmer) process(ctx context.Context, job *warmupJob) {
	defer w.done(job.id)

	started := time.Now()
	result, err := w.warm(ctx, job)
	if err != nil {
		metrics.WarmupJobs.WithLabelValues(string(job.kind), "error").Inc()
		slog.Error("Media warm-up failed",
			"bot", job.slug,
			"kind", job.kind,
			"sha256", job.sha256,
			"error", err)
		// Background context: the job must be recorded even mid-shutdown.
		if markErr := w.media.MarkCacheError(context.Background(), job.slug, job.sha256, job.kind, err.Error()); markErr != nil {
			slog.Error("Failed to record warm-up error",
				"bot", job.slug,
				"sha256", job.sha256,
				"error", markErr)
		}
		return
	}

	if err := w.media.MarkCacheReady(context.Background(), job.slug, job.sha256, job.kind,
		result.fileID, result.stagingChatID, result.stagingMessageID, time.Now()); err != nil {
		slog.Error("Failed to record warmed media",
			"bot", job.slug,
			"sha256", job.sha256,
			"error", err)
		return
	}

	metrics.WarmupJobs.WithLabelValues(string(job.kind), "ok").Inc()
	slog.Info("Media warmed",
		"bot", job.slug,
		"kind", job.kind,
		"sha256", job.sha256,
		"staging_chat", result.stagingChatID,
		"elapsed", time.Since(started))
}

type warmResult struct {
	fileID           string
	stagingChatID    int64
	stagingMessageID *int64
}

// warm downloads the blob and uploads it to the tenant's staging chat,
// returning the remote file handle the upstream assigned.
func (w *Warmer) warm(ctx context.Context, job *warmupJob) (*warmResult, error) {
	chatID, err := w.resolveStagingChat(ctx, job.slug)
	if err != nil {
		return nil, err
	}
	token, err := w.vault.Token(ctx, job.slug)
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	data, err := w.fetch(ctx, job.key)
	if err != nil {
		return nil, err
	}

	name := job.sha256
	if job.ext != "" {
		name += "." + job.ext
	}
	msg, err := sendByKind(ctx, w.upstream, token, chatID, job.kind, upstream.MediaInput{
		Upload: &upstream.Upload{Name: name, Data: data},
	})
	if err != nil {
		return nil, fmt.Errorf("uploading to staging chat: %w", err)
	}

	fileID := fileHandle(msg, job.kind)
	if fileID == "" {
		return nil, fmt.Errorf("upstream response carries no %s file handle", job.kind)
	}
	return &warmResult{
		fileID:           fileID,
		stagingChatID:    chatID,
		stagingMessageID: &msg.MessageID,
	}, nil
}

func (w *Warmer) resolveStagingChat(ctx context.Context, slug string) (int64, error) {
	chatID, err := w.bots.StagingChat(ctx, slug)
	if err != nil {
		return 0, fmt.Errorf("resolving staging chat: %w", err)
	}
	if chatID != nil && *chatID != 0 {
		return *chatID, nil
	}
	if w.stagingChat != 0 {
		return w.stagingChat, nil
	}
	return 0, ErrNoStagingChat
}

func (w *Warmer) fetch(ctx context.Context, key string) ([]byte, error) {
	if data, ok := w.downloads.get(key); ok {
		return data, nil
	}
	data, err := w.blob.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("downloading blob: %w", err)
	}
	w.downloads.put(key, data)
	return data, nil
}

// sendByKind dispatches to the upstream primitive matching the media kind.
func sendByKind(ctx context.Context, c *upstream.Client, token string, chatID int64, kind models.MediaKind, in upstream.MediaInput) (*upstream.Message, error) {
	switch kind {
	case models.MediaPhoto:
		return c.SendPhoto(ctx, token, chatID, in)
	case models.MediaVideo:
		return c.SendVideo(ctx, token, chatID, in)
	case models.MediaDocument:
		return c.SendDocument(ctx, token, chatID, in)
	case models.MediaAudio:
		return c.SendAudio(ctx, token, chatID, in)
	}
	return nil, fmt.Errorf("unknown media kind %q", kind)
}

// fileHandle extracts the reusable remote handle for the kind that was sent.
func fileHandle(m *upstream.Message, kind models.MediaKind) string {
	switch kind {
	case models.MediaPhoto:
		return m.LargestPhoto()
	case models.MediaVideo:
		if m.Video != nil {
			return m.Video.FileID
		}
	case models.MediaDocument:
		if m.Document != nil {
			return m.Document.FileID
		}
	case models.MediaAudio:
		if m.Audio != nil {
			return m.Audio.FileID
		}
	}
	return ""
}
