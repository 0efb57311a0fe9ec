// sendgate gateway server — terminates provider webhooks, schedules downsell
// and broadcast delivery, and serves the admin API.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sendgate/sendgate/pkg/api"
	"github.com/sendgate/sendgate/pkg/blob"
	"github.com/sendgate/sendgate/pkg/broadcast"
	"github.com/sendgate/sendgate/pkg/config"
	"github.com/sendgate/sendgate/pkg/database"
	"github.com/sendgate/sendgate/pkg/downsell"
	"github.com/sendgate/sendgate/pkg/heartbeat"
	"github.com/sendgate/sendgate/pkg/media"
	"github.com/sendgate/sendgate/pkg/metrics"
	"github.com/sendgate/sendgate/pkg/sendqueue"
	"github.com/sendgate/sendgate/pkg/store"
	"github.com/sendgate/sendgate/pkg/upstream"
	"github.com/sendgate/sendgate/pkg/vault"
	"github.com/sendgate/sendgate/pkg/webhook"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ephemeralVaultKey generates a one-process master key for development runs
// without VAULT_KEY. Credentials sealed under it die with the process.
func ephemeralVaultKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "."),
		"Path to the directory holding the .env file")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting sendgate",
		"env", cfg.Env,
		"http_port", cfg.HTTPPort,
		"upstream", cfg.UpstreamBaseURL)

	// 2. Database (runs embedded migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	db, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("Connected to PostgreSQL database")

	// 3. Stores
	bots := store.NewBotStore(db.Pool())
	templates := store.NewTemplateStore(db.Pool())
	schedules := store.NewScheduleStore(db.Pool())
	funnel := store.NewFunnelStore(db.Pool())
	mediaStore := store.NewMediaStore(db.Pool())
	broadcasts := store.NewBroadcastStore(db.Pool())

	// Funnel partitions for this month and the next. The DEFAULT partition
	// absorbs inserts beyond that, so this is an optimization, not a gate.
	funnel.EnsureMonthPartition(ctx, time.Now())

	// 4. Credential vault
	vaultKey := cfg.VaultKeyHex
	if vaultKey == "" {
		vaultKey, err = ephemeralVaultKey()
		if err != nil {
			slog.Error("Failed to generate ephemeral vault key", "error", err)
			os.Exit(1)
		}
		slog.Warn("VAULT_KEY not set; using an ephemeral key — stored credentials will not survive a restart")
	}
	v, err := vault.New(vaultKey, bots)
	if err != nil {
		slog.Error("Failed to initialize vault", "error", err)
		os.Exit(1)
	}

	// 5. Upstream client, blob store, metrics sink
	up := upstream.NewClient(cfg.UpstreamBaseURL)
	blobClient := blob.NewClient(cfg.Blob)
	sink := metrics.NewSink()

	// 6. Send queue and media pipeline
	queue := sendqueue.NewQueue(sink)
	queue.Start(ctx)

	warmer := media.NewWarmer(mediaStore, bots, v, up, blobClient, cfg.DefaultStagingChatID)
	mediaSvc := media.NewService(mediaStore, blobClient, up, v, queue, warmer)
	mediaSvc.Start(ctx)

	// 7. Scanners
	downsellSvc := downsell.NewService(schedules, templates, funnel, mediaSvc)
	downsellSvc.Start(ctx)

	broadcastSvc := broadcast.NewService(broadcasts, mediaSvc)
	broadcastSvc.Start(ctx)

	// 8. Webhook processor and heartbeats
	processor := webhook.NewProcessor(bots, funnel, downsellSvc, mediaSvc)

	hb := heartbeat.NewService(bots, v, up, db.Pool())
	hb.Start(ctx)

	// 9. HTTP server (non-blocking)
	server := api.NewServer(api.Deps{
		Config:    cfg,
		DB:        db,
		Bots:      bots,
		Templates: templates,
		Schedules: schedules,
		Vault:     v,
		Upstream:  up,
		Blob:      blobClient,
		Queue:     queue,
		Media:     mediaSvc,
		Broadcast: broadcastSvc,
		Downsell:  downsellSvc,
		Processor: processor,
		Sink:      sink,
	})
	httpServer := server.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("sendgate started successfully")

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown. Intake first, then the scanners that feed the
	// queue, then the pools that drain it. In-flight sends settle their rows
	// on background contexts, so nothing here loses an outcome.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	downsellSvc.Stop()
	slog.Info("Downsell scanner stopped")

	broadcastSvc.Stop()
	slog.Info("Broadcast drain stopped")

	mediaSvc.Stop()
	slog.Info("Media warm-up pool stopped")

	queue.Stop()
	slog.Info("Send queue stopped")

	hb.Stop()

	slog.Info("Shutdown complete")
}
