package e2e

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendgate/sendgate/pkg/models"
)

// TestMediaUploadWarmsThroughDefaultStagingChat walks the whole pipeline for
// a tenant without its own staging chat: upload, content-addressed storage,
// warm-up into the process-wide staging chat, and the cached file handle.
func TestMediaUploadWarmsThroughDefaultStagingChat(t *testing.T) {
	app := NewTestApp(t)
	app.SetupFunnelBot(t, "shop")

	payload := []byte("jpeg-bytes-0123456789-jpeg-bytes")
	sum := sha256.Sum256(payload)
	sha := hex.EncodeToString(sum[:])

	blob := app.UploadMedia(t, "shop", "photo", "promo.jpg", payload)
	assert.Equal(t, sha, blob["sha256"])
	assert.Equal(t, "shop/photo/"+sha+".jpg", blob["key"])
	assert.Equal(t, len(payload), toInt(blob["bytes"]))

	stored, ok := app.Blob.Object("shop/photo/" + sha + ".jpg")
	require.True(t, ok, "payload missing from the object store")
	assert.Equal(t, payload, stored)

	entry := app.WaitForMediaReady(t, "shop", sha, models.MediaPhoto)
	require.NotNil(t, entry.FileID)
	require.NotNil(t, entry.StagingChatID)
	assert.Equal(t, app.Config.DefaultStagingChatID, *entry.StagingChatID)

	// The warm-up pushed the original bytes into the staging chat; the cache
	// keeps the handle the upstream minted for them.
	sends := app.Upstream.SentTo(app.Config.DefaultStagingChatID)
	require.Len(t, sends, 1)
	assert.Equal(t, "sendPhoto", sends[0].Method)
	assert.True(t, sends[0].Upload, "warm-up must upload the payload")
	assert.Equal(t, *entry.FileID, sends[0].FileID)
}

// TestWarmupPrefersBotStagingChat verifies a tenant's own staging chat wins
// over the process default.
func TestWarmupPrefersBotStagingChat(t *testing.T) {
	app := NewTestApp(t)

	const staging = int64(-200123)
	app.adminJSON(t, http.MethodPost, "/api/v1/bots", map[string]interface{}{
		"slug":            "studio",
		"name":            "studio",
		"staging_chat_id": staging,
	}, http.StatusCreated)
	app.SetCredential(t, "studio", "100200300:studio-token")

	payload := []byte("mp4-bytes-for-staging-preference")
	sum := sha256.Sum256(payload)
	sha := hex.EncodeToString(sum[:])

	app.UploadMedia(t, "studio", "video", "clip.mp4", payload)

	entry := app.WaitForMediaReady(t, "studio", sha, models.MediaVideo)
	require.NotNil(t, entry.StagingChatID)
	assert.Equal(t, staging, *entry.StagingChatID)

	sends := app.Upstream.SentTo(staging)
	require.Len(t, sends, 1)
	assert.Equal(t, "sendVideo", sends[0].Method)
	assert.True(t, sends[0].Upload)
	assert.Empty(t, app.Upstream.SentTo(app.Config.DefaultStagingChatID))
}

// TestWelcomeDeliversWarmMediaByHandle verifies an outbound composition
// reuses the warmed file handle instead of re-uploading, and sends the media
// block before the text.
func TestWelcomeDeliversWarmMediaByHandle(t *testing.T) {
	app := NewTestApp(t)
	app.SetupFunnelBot(t, "gallery")

	payload := []byte("photo-payload-for-the-welcome-block")
	sum := sha256.Sum256(payload)
	sha := hex.EncodeToString(sum[:])

	app.UploadMedia(t, "gallery", "photo", "hero.png", payload)
	entry := app.WaitForMediaReady(t, "gallery", sha, models.MediaPhoto)

	app.SetWelcome(t, "gallery", map[string]interface{}{
		"media":    []map[string]interface{}{{"kind": "photo", "sha256": sha}},
		"messages": []map[string]interface{}{{"text": "Fresh drops below."}},
	})

	const chat = int64(8001)
	app.SendStart(t, "gallery", chat)
	app.WaitForTexts(t, chat, 1)

	sends := app.Upstream.SentTo(chat)
	require.Len(t, sends, 2)
	assert.Equal(t, "sendPhoto", sends[0].Method)
	assert.False(t, sends[0].Upload, "resend must reference the cached handle")
	assert.Equal(t, *entry.FileID, sends[0].FileID)
	assert.Equal(t, "Fresh drops below.", sends[1].Text)
}

// TestUploadValidation covers the request guards of the upload endpoint.
func TestUploadValidation(t *testing.T) {
	app := NewTestApp(t)
	app.SetupFunnelBot(t, "strict")

	// Unknown kind.
	status := app.rawUploadStatus(t, "strict", "gif", "x.gif", []byte("data"))
	assert.Equal(t, http.StatusBadRequest, status)

	// Media listing starts empty.
	assert.Empty(t, app.adminList(t, "/api/v1/bots/strict/media"))

	app.UploadMedia(t, "strict", "document", "terms.pdf", []byte("pdf-bytes"))
	assert.Len(t, app.adminList(t, "/api/v1/bots/strict/media"), 1)

	// Re-uploading identical bytes is a no-op on the listing.
	app.UploadMedia(t, "strict", "document", "terms.pdf", []byte("pdf-bytes"))
	assert.Len(t, app.adminList(t, "/api/v1/bots/strict/media"), 1)
}
