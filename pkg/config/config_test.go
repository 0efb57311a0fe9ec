package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "https://api.telegram.org", cfg.UpstreamBaseURL)
	assert.False(t, cfg.Production())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("UPSTREAM_BASE_URL", "http://localhost:8081")
	t.Setenv("R2_ACCOUNT_ID", "acct")
	t.Setenv("R2_BUCKET", "media")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, "http://localhost:8081", cfg.UpstreamBaseURL)
	assert.Equal(t, "acct", cfg.Blob.AccountID)
	assert.Equal(t, "media", cfg.Blob.Bucket)
	assert.Equal(t, "https://acct.r2.cloudflarestorage.com", cfg.Blob.BlobEndpoint())
}

func TestValidate_VaultKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr string
	}{
		{
			name: "valid 64 hex chars",
			key:  strings.Repeat("ab", 32),
		},
		{
			name:    "not hex",
			key:     strings.Repeat("zz", 32),
			wantErr: "not valid hex",
		},
		{
			name:    "wrong length",
			key:     "abcd",
			wantErr: "32 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Env: "development", VaultKeyHex: tt.key}
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ProductionRequirements(t *testing.T) {
	cfg := &Config{Env: "production"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WEBHOOK_SECRET")

	cfg.WebhookSecret = "s3cret"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VAULT_KEY")

	cfg.VaultKeyHex = strings.Repeat("00", 32)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_KEY")

	cfg.AdminKey = "k"
	assert.NoError(t, cfg.Validate())
}

func TestBlobEndpoint_Override(t *testing.T) {
	b := &BlobConfig{AccountID: "acct", Endpoint: "http://127.0.0.1:9000"}
	assert.Equal(t, "http://127.0.0.1:9000", b.BlobEndpoint())
}
