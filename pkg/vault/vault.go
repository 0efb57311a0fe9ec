// Package vault seals bot tokens with AES-256-GCM and caches the opened
// plaintext so hot paths do not pay a row fetch and a decrypt per send.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/sendgate/sendgate/pkg/store"
)

const (
	keyBytes   = 32
	nonceBytes = 12

	cacheSize = 100
	cacheTTL  = 10 * time.Minute
)

// CredentialSource loads sealed credential material. *store.BotStore satisfies
// this.
type CredentialSource interface {
	Credential(ctx context.Context, slug string) (store.CredentialRow, error)
	CredentialUpdatedAt(ctx context.Context, slug string) (*time.Time, error)
}

type cachedToken struct {
	token     string
	updatedAt time.Time
	fetchedAt time.Time
}

// Vault opens and seals bot tokens under a single master key.
type Vault struct {
	aead   cipher.AEAD
	source CredentialSource
	cache  *lru.Cache
	ttl    time.Duration
}

// New builds a vault from a hex-encoded 256-bit master key.
func New(keyHex string, source CredentialSource) (*Vault, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding vault key: %w", err)
	}
	if len(key) != keyBytes {
		return nil, fmt.Errorf("vault key must be %d bytes, got %d", keyBytes, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initializing GCM: %w", err)
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("initializing token cache: %w", err)
	}
	return &Vault{
		aead:   aead,
		source: source,
		cache:  cache,
		ttl:    cacheTTL,
	}, nil
}

// Seal encrypts a plaintext token and returns base64 ciphertext and nonce.
func (v *Vault) Seal(token string) (cipherText, nonce string, err error) {
	iv := make([]byte, nonceBytes)
	if _, err := rand.Read(iv); err != nil {
		return "", "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := v.aead.Seal(nil, iv, []byte(token), nil)
	return base64.StdEncoding.EncodeToString(sealed), base64.StdEncoding.EncodeToString(iv), nil
}

// Open decrypts sealed material produced by Seal.
func (v *Vault) Open(cipherText, nonce string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	iv, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(iv) != nonceBytes {
		return "", fmt.Errorf("%w: nonce is %d bytes", ErrMalformed, len(iv))
	}
	plain, err := v.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrMalformed)
	}
	return string(plain), nil
}

// Token returns the plaintext token of a bot, from cache when fresh. A cache
// hit is validated against the stored credential timestamp so rotation takes
// effect on the next call, not after the TTL.
func (v *Vault) Token(ctx context.Context, slug string) (string, error) {
	if hit, ok := v.cache.Get(slug); ok {
		entry := hit.(cachedToken)
		if time.Since(entry.fetchedAt) < v.ttl {
			current, err := v.source.CredentialUpdatedAt(ctx, slug)
			if err == nil && current != nil && current.Equal(entry.updatedAt) {
				return entry.token, nil
			}
		}
		v.cache.Remove(slug)
	}

	row, err := v.source.Credential(ctx, slug)
	if err != nil {
		return "", err
	}
	if !row.Present() {
		return "", ErrNoKey
	}
	token, err := v.Open(*row.Cipher, *row.IV)
	if err != nil {
		slog.Error("Failed to open stored credential", "bot", slug, "error", err)
		return "", err
	}
	entry := cachedToken{token: token, fetchedAt: time.Now()}
	if row.UpdatedAt != nil {
		entry.updatedAt = *row.UpdatedAt
	}
	v.cache.Add(slug, entry)
	return token, nil
}

// Invalidate drops a bot's cached token, called after credential updates and
// bot deletion.
func (v *Vault) Invalidate(slug string) {
	v.cache.Remove(slug)
}
