// Package e2e boots the complete gateway against real PostgreSQL and fake
// upstream/object-store servers and drives it over HTTP.
package e2e

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sendgate/sendgate/pkg/api"
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
	testdb "github.com/sendgate/sendgate/test/database"
)

// testVaultKey is a fixed 32-byte master key (hex) for sealing test
// credentials. Real deployments generate their own.
const testVaultKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

// Shared secrets of the default test config.
const (
	testAdminKey      = "admin-key"
	testWebhookSecret = "hook-secret"
)

// TestApp boots a complete sendgate instance for e2e testing.
type TestApp struct {
	// Core
	Config *config.Config
	DB     *database.Client

	// Stores
	Bots       *store.BotStore
	Templates  *store.TemplateStore
	Schedules  *store.ScheduleStore
	Funnel     *store.FunnelStore
	MediaStore *store.MediaStore
	Broadcasts *store.BroadcastStore

	// Fakes standing in for the outside world
	Upstream *FakeUpstream
	Blob     *FakeBlobStore

	// Real infrastructure
	Vault     *vault.Vault
	Queue     *sendqueue.Queue
	Media     *media.Service
	Downsell  *downsell.Service
	Broadcast *broadcast.Service
	Processor *webhook.Processor
	Server    *api.Server

	// Runtime
	BaseURL string // e.g. "http://127.0.0.1:54321"

	t         *testing.T
	updateSeq atomic.Int64
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	cfg      *config.Config
	upstream *FakeUpstream
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig sets a custom config. The harness still points the upstream and
// object-store endpoints at the test fakes afterwards.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithUpstream injects a pre-scripted fake upstream.
func WithUpstream(f *FakeUpstream) TestAppOption {
	return func(c *testAppConfig) { c.upstream = f }
}

// NewTestApp creates and starts a full sendgate test instance.
// Shutdown is registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.cfg == nil {
		tc.cfg = defaultTestConfig()
	}
	if tc.upstream == nil {
		tc.upstream = NewFakeUpstream()
	}

	// 1. Fakes. The config must point at them before any client is built.
	fakeBlob := NewFakeBlobStore(tc.cfg.Blob.Bucket)
	tc.cfg.UpstreamBaseURL = tc.upstream.URL()
	tc.cfg.Blob.Endpoint = fakeBlob.URL()

	// 2. Database with embedded migrations applied, schema-per-test.
	ctx := context.Background()
	db := testdb.NewTestClient(t)
	pool := db.Pool()

	// 3. Stores.
	bots := store.NewBotStore(pool)
	templates := store.NewTemplateStore(pool)
	schedules := store.NewScheduleStore(pool)
	funnel := store.NewFunnelStore(pool)
	mediaStore := store.NewMediaStore(pool)
	broadcasts := store.NewBroadcastStore(pool)
	funnel.EnsureMonthPartition(ctx, time.Now())

	// 4. Credential vault.
	v, err := vault.New(tc.cfg.VaultKeyHex, bots)
	require.NoError(t, err)

	// 5. Upstream client, blob client, metrics sink — all real, all talking
	// to the fakes.
	up := upstream.NewClient(tc.cfg.UpstreamBaseURL)
	blobClient := blob.NewClient(tc.cfg.Blob)
	sink := metrics.NewSink()

	// 6. Send queue and media pipeline.
	queue := sendqueue.NewQueue(sink)
	queue.Start(ctx)

	warmer := media.NewWarmer(mediaStore, bots, v, up, blobClient, tc.cfg.DefaultStagingChatID)
	mediaSvc := media.NewService(mediaStore, blobClient, up, v, queue, warmer)
	mediaSvc.Start(ctx)

	// 7. Scanners.
	downsellSvc := downsell.NewService(schedules, templates, funnel, mediaSvc)
	downsellSvc.Start(ctx)

	broadcastSvc := broadcast.NewService(broadcasts, mediaSvc)
	broadcastSvc.Start(ctx)

	// 8. Webhook processor.
	processor := webhook.NewProcessor(bots, funnel, downsellSvc, mediaSvc)

	// 9. HTTP server on a random port.
	server := api.NewServer(api.Deps{
		Config:    tc.cfg,
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
	httpSrv := httptest.NewServer(server.Router())

	app := &TestApp{
		Config:     tc.cfg,
		DB:         db,
		Bots:       bots,
		Templates:  templates,
		Schedules:  schedules,
		Funnel:     funnel,
		MediaStore: mediaStore,
		Broadcasts: broadcasts,
		Upstream:   tc.upstream,
		Blob:       fakeBlob,
		Vault:      v,
		Queue:      queue,
		Media:      mediaSvc,
		Downsell:   downsellSvc,
		Broadcast:  broadcastSvc,
		Processor:  processor,
		Server:     server,
		BaseURL:    httpSrv.URL,
		t:          t,
	}

	// Register cleanup in reverse-creation order: intake first, then the
	// scanners feeding the queue, then the pools draining it. The schema drop
	// registered by SetupTestDatabase runs after all of this.
	t.Cleanup(func() {
		httpSrv.Close()
		downsellSvc.Stop()
		broadcastSvc.Stop()
		mediaSvc.Stop()
		queue.Stop()
		tc.upstream.Close()
		fakeBlob.Close()
	})

	return app
}

// defaultTestConfig is a production-shaped config with every secret pinned to
// a test value. NewTestApp overwrites the endpoints with the fakes' addresses.
func defaultTestConfig() *config.Config {
	return &config.Config{
		Env:                  "test",
		HTTPPort:             "0",
		PublicBaseURL:        "https://gate.test",
		WebhookSecret:        testWebhookSecret,
		AdminKey:             testAdminKey,
		VaultKeyHex:          testVaultKey,
		DefaultStagingChatID: -100900900,
		Blob: config.BlobConfig{
			AccessKeyID:     "test-access",
			SecretAccessKey: "test-secret",
			Bucket:          "media-test",
			Region:          "auto",
		},
	}
}
