package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendgate/sendgate/pkg/config"
	"github.com/sendgate/sendgate/pkg/models"
)

func newTestBlobClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.BlobConfig{
		AccountID:       "acct",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		Bucket:          "media",
		Region:          "auto",
		Endpoint:        srv.URL,
	})
}

// Derivation test vector from the AWS SigV4 documentation.
func TestGetSignatureKey(t *testing.T) {
	key := getSignatureKey("wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY", "20150830", "us-east-1", "iam")
	assert.Equal(t,
		"c4afb1cc5771d871763a393e44b703571b55cc28424d1a5e86da6ed3c154a4b9",
		hex.EncodeToString(key))
}

func TestSigningKeyCache(t *testing.T) {
	cache := newSigningKeyCache(23 * time.Hour)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := cache.get(t0, "secret", "20260301", "auto", "s3")
	again := cache.get(t0.Add(time.Hour), "secret", "20260301", "auto", "s3")
	assert.Equal(t, first, again)

	// Date rollover changes the scope and forces a fresh derivation.
	next := cache.get(t0.Add(24*time.Hour), "secret", "20260302", "auto", "s3")
	assert.NotEqual(t, first, next)

	// Same scope after expiry re-derives to the same key material.
	expired := cache.get(t0.Add(25*time.Hour), "secret", "20260301", "auto", "s3")
	assert.Equal(t, first, expired)
}

func TestUpload(t *testing.T) {
	payload := []byte("image-bytes")
	wantHash := sha256.Sum256(payload)

	var gotReq *http.Request
	var gotBody []byte
	c := newTestBlobClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Clone(r.Context())
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
	})

	etag, err := c.Upload(t.Context(), "acme/photo/deadbeef.jpg", payload, "image/jpeg")
	require.NoError(t, err)

	assert.Equal(t, "abc123", etag)
	assert.Equal(t, http.MethodPut, gotReq.Method)
	assert.Equal(t, "/media/acme/photo/deadbeef.jpg", gotReq.URL.Path)
	assert.Equal(t, payload, gotBody)
	assert.Equal(t, hex.EncodeToString(wantHash[:]), gotReq.Header.Get("X-Amz-Content-Sha256"))

	auth := gotReq.Header.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/"), auth)
	assert.Contains(t, auth, "/auto/s3/aws4_request")
	assert.Contains(t, auth, "SignedHeaders=content-type;host;x-amz-content-sha256;x-amz-date")
	assert.Contains(t, auth, "Signature=")
}

func TestDownload(t *testing.T) {
	c := newTestBlobClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/media/acme/photo/cafe.jpg":
			w.Write([]byte("stored-bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	data, err := c.Download(t.Context(), "acme/photo/cafe.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("stored-bytes"), data)

	_, err = c.Download(t.Context(), "acme/photo/missing.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_MissingObjectIsNoOp(t *testing.T) {
	c := newTestBlobClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})
	assert.NoError(t, c.Delete(t.Context(), "acme/photo/gone.jpg"))
}

func TestDelete_ServerErrorSurfaces(t *testing.T) {
	c := newTestBlobClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	err := c.Delete(t.Context(), "acme/photo/x.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "acme/photo/deadbeef.jpg", ObjectKey("acme", models.MediaPhoto, "deadbeef", "jpg"))
	assert.Equal(t, "acme/photo/deadbeef.jpg", ObjectKey("acme", models.MediaPhoto, "deadbeef", ".jpg"))
	assert.Equal(t, "acme/document/deadbeef", ObjectKey("acme", models.MediaDocument, "deadbeef", ""))
}

func TestPublicURL(t *testing.T) {
	c := NewClient(config.BlobConfig{PublicBaseURL: "https://cdn.example.com/"})
	assert.Equal(t, "https://cdn.example.com/acme/photo/x.jpg", c.PublicURL("acme/photo/x.jpg"))

	bare := NewClient(config.BlobConfig{})
	assert.Empty(t, bare.PublicURL("k"))
}
