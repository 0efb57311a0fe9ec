// Package api is the HTTP surface: the upstream webhook, the payment
// lifecycle webhooks, and the admin API. Handlers stay thin; everything they
// do is bind, validate, call a service, map the error.
package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/sendgate/sendgate/pkg/blob"
	"github.com/sendgate/sendgate/pkg/broadcast"
	"github.com/sendgate/sendgate/pkg/config"
	"github.com/sendgate/sendgate/pkg/database"
	"github.com/sendgate/sendgate/pkg/downsell"
	"github.com/sendgate/sendgate/pkg/media"
	"github.com/sendgate/sendgate/pkg/metrics"
	"github.com/sendgate/sendgate/pkg/sendqueue"
	"github.com/sendgate/sendgate/pkg/store"
	"github.com/sendgate/sendgate/pkg/upstream"
	"github.com/sendgate/sendgate/pkg/vault"
	"github.com/sendgate/sendgate/pkg/webhook"
)

// Server wires HTTP routes to the services behind them.
type Server struct {
	cfg       *config.Config
	db        *database.Client
	bots      *store.BotStore
	templates *store.TemplateStore
	schedules *store.ScheduleStore
	vault     *vault.Vault
	upstream  *upstream.Client
	blob      *blob.Client
	queue     *sendqueue.Queue
	media     *media.Service
	broadcast *broadcast.Service
	downsell  *downsell.Service
	processor *webhook.Processor
	sink      *metrics.Sink
}

// Deps carries everything the server needs. Optional fields may be nil in
// tests; routes touching a nil dependency are simply not exercised there.
type Deps struct {
	Config    *config.Config
	DB        *database.Client
	Bots      *store.BotStore
	Templates *store.TemplateStore
	Schedules *store.ScheduleStore
	Vault     *vault.Vault
	Upstream  *upstream.Client
	Blob      *blob.Client
	Queue     *sendqueue.Queue
	Media     *media.Service
	Broadcast *broadcast.Service
	Downsell  *downsell.Service
	Processor *webhook.Processor
	Sink      *metrics.Sink
}

func NewServer(d Deps) *Server {
	return &Server{
		cfg:       d.Config,
		db:        d.DB,
		bots:      d.Bots,
		templates: d.Templates,
		schedules: d.Schedules,
		vault:     d.Vault,
		upstream:  d.Upstream,
		blob:      d.Blob,
		queue:     d.Queue,
		media:     d.Media,
		broadcast: d.Broadcast,
		downsell:  d.Downsell,
		processor: d.Processor,
		sink:      d.Sink,
	}
}

// Router builds the echo instance with every route registered.
func (s *Server) Router() *echo.Echo {
	e := echo.New()
	e.Use(securityHeaders())
	e.Use(requestMetrics())

	// Unauthenticated surface.
	e.GET("/health", s.healthHandler)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// Upstream webhook; authenticated by the shared secret header.
	e.POST("/tg/:slug/webhook", s.telegramWebhookHandler)

	// Payment lifecycle webhooks; same shared secret.
	pay := e.Group("/api/payment/webhook")
	pay.POST("/pix-created", s.pixCreatedHandler)
	pay.POST("/payment-approved", s.paymentApprovedHandler)
	pay.POST("/pix-expired", s.pixExpiredHandler)

	// Admin surface.
	admin := e.Group("/api/v1", adminAuth(s.cfg.AdminKey))
	admin.POST("/bots", s.createBotHandler)
	admin.GET("/bots", s.listBotsHandler)
	admin.GET("/bots/:slug", s.getBotHandler)
	admin.PUT("/bots/:slug", s.updateBotHandler)
	admin.DELETE("/bots/:slug", s.deleteBotHandler)
	admin.PUT("/bots/:slug/welcome", s.updateWelcomeHandler)
	admin.PUT("/bots/:slug/credential", s.setCredentialHandler)
	admin.POST("/bots/:slug/webhook", s.bindWebhookHandler)

	admin.POST("/bots/:slug/templates", s.createTemplateHandler)
	admin.GET("/bots/:slug/templates", s.listTemplatesHandler)
	admin.PUT("/templates/:id", s.updateTemplateHandler)
	admin.DELETE("/templates/:id", s.deleteTemplateHandler)

	admin.POST("/bots/:slug/broadcasts", s.createBroadcastHandler)
	admin.GET("/bots/:slug/broadcasts", s.listBroadcastsHandler)
	admin.GET("/broadcasts/:id", s.getBroadcastHandler)
	admin.POST("/broadcasts/:id/populate", s.populateBroadcastHandler)
	admin.POST("/broadcasts/:id/start", s.startBroadcastHandler)
	admin.POST("/broadcasts/:id/pause", s.pauseBroadcastHandler)
	admin.POST("/broadcasts/:id/resume", s.resumeBroadcastHandler)
	admin.POST("/broadcasts/:id/cancel", s.cancelBroadcastHandler)

	admin.POST("/bots/:slug/media", s.uploadMediaHandler)
	admin.GET("/bots/:slug/media", s.listMediaHandler)

	admin.GET("/bots/:slug/downsells", s.listDownsellsHandler)
	admin.GET("/stats", s.statsHandler)

	return e
}

// HTTPServer wraps the router for ListenAndServe and graceful Shutdown.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:    ":" + s.cfg.HTTPPort,
		Handler: s.Router(),
	}
}
