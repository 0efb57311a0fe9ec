// Package blob stores media bytes in an S3-compatible object store (R2 in
// production) over plain HTTP with hand-rolled SigV4 signing.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sendgate/sendgate/pkg/config"
	"github.com/sendgate/sendgate/pkg/models"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

const requestTimeout = 60 * time.Second

// Client talks to one bucket with path-style addressing.
type Client struct {
	cfg  config.BlobConfig
	http *http.Client
	keys *signingKeyCache
}

func NewClient(cfg config.BlobConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: requestTimeout},
		keys: newSigningKeyCache(signingKeyTTL),
	}
}

// ObjectKey builds the deterministic content address of a blob:
// {tenant}/{kind}/{sha256}[.{ext}].
func ObjectKey(tenant string, kind models.MediaKind, sha256Hex, ext string) string {
	key := fmt.Sprintf("%s/%s/%s", tenant, kind, sha256Hex)
	if ext != "" {
		key += "." + strings.TrimPrefix(ext, ".")
	}
	return key
}

// Upload puts an object and returns its ETag.
func (c *Client) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPut, key, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.ContentLength = int64(len(data))
	c.sign(req, hashSHA256(data), time.Now())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading %q: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", c.responseError("upload", key, resp)
	}
	return strings.Trim(resp.Header.Get("ETag"), `"`), nil
}

// Download fetches an object's bytes.
func (c *Client) Download(ctx context.Context, key string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, err
	}
	c.sign(req, hashSHA256(nil), time.Now())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %q: %w", key, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	default:
		return nil, c.responseError("download", key, resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", key, err)
	}
	return data, nil
}

// Delete removes an object. Deleting a missing object is a no-op.
func (c *Client) Delete(ctx context.Context, key string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, key, nil)
	if err != nil {
		return err
	}
	c.sign(req, hashSHA256(nil), time.Now())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return c.responseError("delete", key, resp)
	}
}

// PublicURL returns the public address of a stored key, empty when the bucket
// has no public base configured.
func (c *Client) PublicURL(key string) string {
	if c.cfg.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.cfg.PublicBaseURL, "/") + "/" + key
}

func (c *Client) newRequest(ctx context.Context, method, key string, body io.Reader) (*http.Request, error) {
	endpoint := strings.TrimRight(c.cfg.BlobEndpoint(), "/") + "/" + c.cfg.Bucket + "/" + key
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("building %s request for %q: %w", method, key, err)
	}
	return req, nil
}

func (c *Client) responseError(op, key string, resp *http.Response) error {
	// The body is an XML error document; keep just enough to diagnose.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	slog.Error("Object store request failed",
		"op", op, "key", key, "status", resp.StatusCode)
	return fmt.Errorf("%s %q: status %d: %s", op, key, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
