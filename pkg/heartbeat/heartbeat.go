// Package heartbeat keeps upstream TLS sessions and the database pool warm so
// the first real send of a quiet period does not pay connection setup.
package heartbeat

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sendgate/sendgate/pkg/config"
	"github.com/sendgate/sendgate/pkg/database"
	"github.com/sendgate/sendgate/pkg/store"
	"github.com/sendgate/sendgate/pkg/upstream"
	"github.com/sendgate/sendgate/pkg/vault"
)

// Service runs the upstream and database heartbeat loops.
type Service struct {
	bots     *store.BotStore
	vault    *vault.Vault
	upstream *upstream.Client
	pool     *pgxpool.Pool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(bots *store.BotStore, v *vault.Vault, up *upstream.Client, pool *pgxpool.Pool) *Service {
	return &Service{
		bots:     bots,
		vault:    v,
		upstream: up,
		pool:     pool,
	}
}

// Start launches both heartbeat loops.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Heartbeats started",
		"upstream_interval", config.UpstreamHeartbeatInterval,
		"database_interval", config.DatabaseHeartbeatInterval)
}

// Stop signals the loops to exit and waits for them.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Heartbeats stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	upstreamTicker := time.NewTicker(config.UpstreamHeartbeatInterval)
	defer upstreamTicker.Stop()
	databaseTicker := time.NewTicker(config.DatabaseHeartbeatInterval)
	defer databaseTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-upstreamTicker.C:
			s.upstreamPass(ctx)
		case <-databaseTicker.C:
			s.pingDatabase(ctx)
		}
	}
}

// upstreamPass fires one getMe per credentialed tenant, each after its own
// jitter delay so tenants do not hit the upstream in lockstep.
func (s *Service) upstreamPass(ctx context.Context) {
	slugs, err := s.bots.ListWithCredentials(ctx)
	if err != nil {
		slog.Warn("Heartbeat could not list tenants", "error", err)
		return
	}
	for _, slug := range slugs {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitterDelay()):
			}
			s.ping(ctx, slug)
		}()
	}
}

func (s *Service) ping(ctx context.Context, slug string) {
	token, err := s.vault.Token(ctx, slug)
	if err != nil {
		slog.Warn("Heartbeat could not load credential", "bot", slug, "error", err)
		return
	}
	if _, err := s.upstream.GetMe(ctx, token); err != nil {
		slog.Warn("Upstream heartbeat failed", "bot", slug, "error", err)
		return
	}
	slog.Debug("Upstream heartbeat ok", "bot", slug)
}

func (s *Service) pingDatabase(ctx context.Context) {
	status, err := database.Health(ctx, s.pool)
	if err != nil {
		slog.Warn("Database heartbeat failed", "error", err)
		return
	}
	slog.Debug("Database heartbeat ok", "response_time_ms", status.ResponseTime)
}

// jitterDelay picks a uniform delay in [0, jitter).
func jitterDelay() time.Duration {
	return time.Duration(rand.Int64N(int64(config.UpstreamHeartbeatJitter)))
}
