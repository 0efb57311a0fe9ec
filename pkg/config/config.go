// Package config loads process configuration from the environment.
//
// Only infrastructure settings live here (ports, endpoints, secrets). The
// rate plan governing the send pipeline is compiled in — see limits.go —
// and is deliberately not reachable from the environment.
package config

import (
	"encoding/hex"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the process-wide environment configuration.
type Config struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`

	// PublicBaseURL is the externally reachable base of this gateway,
	// used when binding webhook URLs upstream.
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	// WebhookSecret is compared (constant-time) against the secret header
	// the upstream attaches to webhook deliveries. Required in production.
	WebhookSecret string `env:"WEBHOOK_SECRET"`

	// AdminKey guards the admin surface. Empty disables the check, which
	// is acceptable only outside production.
	AdminKey string `env:"ADMIN_KEY"`

	// VaultKeyHex is the 64-hex-char (32-byte) AES-256-GCM master key for
	// the credential vault.
	VaultKeyHex string `env:"VAULT_KEY"`

	// UpstreamBaseURL is the chat API root, e.g. https://api.telegram.org.
	UpstreamBaseURL string `env:"UPSTREAM_BASE_URL" envDefault:"https://api.telegram.org"`

	// DefaultStagingChatID is the fallback staging chat for media warm-up
	// when a tenant has no staging chat of its own. Zero means none.
	DefaultStagingChatID int64 `env:"STAGING_CHAT_ID"`

	Blob BlobConfig `envPrefix:"R2_"`
}

// BlobConfig configures the S3-compatible object store client.
type BlobConfig struct {
	AccountID       string `env:"ACCOUNT_ID"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	Bucket          string `env:"BUCKET"`
	Region          string `env:"REGION" envDefault:"auto"`

	// Endpoint overrides the default https://{account}.r2.cloudflarestorage.com,
	// used for local stand-ins in tests.
	Endpoint string `env:"ENDPOINT"`

	// PublicBaseURL, when set, makes PublicURL resolve for stored keys.
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Production reports whether the process runs with production hardening.
func (c *Config) Production() bool {
	return c.Env == "production"
}

// Validate enforces the invariants that must hold before the process starts.
func (c *Config) Validate() error {
	if c.VaultKeyHex != "" {
		key, err := hex.DecodeString(c.VaultKeyHex)
		if err != nil {
			return fmt.Errorf("VAULT_KEY is not valid hex: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("VAULT_KEY must decode to 32 bytes, got %d", len(key))
		}
	}
	if c.Production() {
		if c.WebhookSecret == "" {
			return fmt.Errorf("WEBHOOK_SECRET is required in production")
		}
		if c.VaultKeyHex == "" {
			return fmt.Errorf("VAULT_KEY is required in production")
		}
		if c.AdminKey == "" {
			return fmt.Errorf("ADMIN_KEY is required in production")
		}
	}
	return nil
}

// BlobEndpoint returns the effective object-store endpoint.
func (c *BlobConfig) BlobEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.AccountID)
}
