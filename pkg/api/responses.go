package api

import (
	"github.com/sendgate/sendgate/pkg/database"
	"github.com/sendgate/sendgate/pkg/media"
	"github.com/sendgate/sendgate/pkg/sendqueue"
)

// StatusResponse is the generic acknowledgement body.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// CredentialResponse is returned by PUT /api/v1/bots/:slug/credential. The
// token never appears in full; only the display mask and the identity the
// upstream reported for it.
type CredentialResponse struct {
	Slug        string `json:"slug"`
	MaskedToken string `json:"masked_token"`
	BotID       int64  `json:"bot_id,omitempty"`
	BotUsername string `json:"bot_username,omitempty"`
}

// HealthCheck is one named probe inside the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Checks   map[string]HealthCheck `json:"checks"`
	Database *database.HealthStatus `json:"database,omitempty"`
	Queue    *sendqueue.Stats       `json:"queue,omitempty"`
	Warmup   *media.WarmerStats     `json:"warmup,omitempty"`
}
