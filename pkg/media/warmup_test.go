package media

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendgate/sendgate/pkg/models"
	"github.com/sendgate/sendgate/pkg/upstream"
)

func testBlob(sha string, kind models.MediaKind, bytes int64) *models.MediaBlob {
	return &models.MediaBlob{
		BotSlug: "bot1",
		Kind:    kind,
		SHA256:  sha,
		Key:     fmt.Sprintf("bot1/%s/%s", kind, sha),
		Bytes:   bytes,
	}
}

func TestJobScoreOrdering(t *testing.T) {
	photo := jobScore(models.MediaPhoto, 1<<20, 1)
	video := jobScore(models.MediaVideo, 1<<20, 1)
	document := jobScore(models.MediaDocument, 1<<20, 1)

	assert.Greater(t, photo, video)
	assert.Greater(t, video, document)

	// Larger payloads sink within a kind.
	small := jobScore(models.MediaVideo, 1<<20, 1)
	large := jobScore(models.MediaVideo, 50<<20, 1)
	assert.Greater(t, small, large)

	// More recently enqueued wins on an otherwise equal job.
	older := jobScore(models.MediaPhoto, 1<<20, 1)
	newer := jobScore(models.MediaPhoto, 1<<20, 2)
	assert.Greater(t, newer, older)
}

func TestWarmerEnqueueDeduplicates(t *testing.T) {
	w := NewWarmer(nil, nil, nil, nil, nil, 0)
	b := testBlob("abc", models.MediaPhoto, 1024)

	assert.True(t, w.Enqueue(b))
	// Same (tenant, sha256, kind) already queued.
	assert.False(t, w.Enqueue(b))

	// A different kind of the same content is a distinct job.
	assert.True(t, w.Enqueue(testBlob("abc", models.MediaDocument, 1024)))

	// Queued → in-flight still deduplicates.
	job := w.pop()
	require.NotNil(t, job)
	assert.Equal(t, "bot1:abc:photo", job.id)
	assert.False(t, w.Enqueue(b))

	// Finished jobs may be warmed again.
	w.done(job.id)
	assert.True(t, w.Enqueue(b))
}

func TestWarmerEnqueueRejectsWhenFull(t *testing.T) {
	w := NewWarmer(nil, nil, nil, nil, nil, 0)

	for i := 0; i < warmupCapacity; i++ {
		require.True(t, w.Enqueue(testBlob(fmt.Sprintf("sha-%04d", i), models.MediaPhoto, 10)))
	}
	assert.False(t, w.Enqueue(testBlob("one-too-many", models.MediaPhoto, 10)))
	assert.Equal(t, warmupCapacity, w.Stats().Pending)
}

func TestWarmerResortsEveryTenEnqueues(t *testing.T) {
	w := NewWarmer(nil, nil, nil, nil, nil, 0)

	// Enqueued worst-first: descending size means ascending score.
	for i := 0; i < resortEvery; i++ {
		size := int64(resortEvery-i) << 20
		require.True(t, w.Enqueue(testBlob(fmt.Sprintf("sha-%02d", i), models.MediaPhoto, size)))
	}

	// The tenth enqueue re-sorted; the smallest payload moved to the front.
	job := w.pop()
	require.NotNil(t, job)
	assert.Equal(t, fmt.Sprintf("sha-%02d", resortEvery-1), job.sha256)
}

func TestWarmerStats(t *testing.T) {
	w := NewWarmer(nil, nil, nil, nil, nil, 0)
	w.Enqueue(testBlob("a", models.MediaPhoto, 1))
	w.Enqueue(testBlob("b", models.MediaPhoto, 1))

	stats := w.Stats()
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 0, stats.InFlight)

	w.pop()
	stats = w.Stats()
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.InFlight)
}

func TestFileHandle(t *testing.T) {
	msg := &upstream.Message{
		MessageID: 10,
		Photo: []upstream.PhotoSize{
			{FileID: "small", Width: 90, Height: 90},
			{FileID: "big", Width: 800, Height: 600},
		},
		Video:    &upstream.Video{FileID: "vid"},
		Document: &upstream.Document{FileID: "doc"},
		Audio:    &upstream.Audio{FileID: "aud"},
	}

	assert.Equal(t, "big", fileHandle(msg, models.MediaPhoto))
	assert.Equal(t, "vid", fileHandle(msg, models.MediaVideo))
	assert.Equal(t, "doc", fileHandle(msg, models.MediaDocument))
	assert.Equal(t, "aud", fileHandle(msg, models.MediaAudio))

	empty := &upstream.Message{MessageID: 11}
	assert.Empty(t, fileHandle(empty, models.MediaVideo))
	assert.Empty(t, fileHandle(empty, models.MediaPhoto))
}

func TestSendByKindRejectsUnknownKind(t *testing.T) {
	_, err := sendByKind(context.Background(), nil, "token", 1, models.MediaKind("gif"), upstream.MediaInput{})
	assert.Error(t, err)
}
