package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendgate/sendgate/pkg/models"
	"github.com/sendgate/sendgate/test/util"
)

func TestFunnelInsertIdempotency(t *testing.T) {
	pool := util.SetupTestDatabase(t)
	ctx := context.Background()
	bots := NewBotStore(pool)
	funnel := NewFunnelStore(pool)

	require.NoError(t, bots.Create(ctx, &models.Bot{Slug: "bot1", Name: "Bot One"}))
	day1 := time.Date(2026, time.August, 20, 12, 0, 0, 0, time.UTC)

	t.Run("first insert lands", func(t *testing.T) {
		inserted, err := funnel.Insert(ctx, &models.FunnelEvent{
			EventID:    "st:bot1:42:20260820",
			BotSlug:    "bot1",
			ChatID:     42,
			Kind:       models.FunnelStart,
			OccurredAt: day1,
		})
		require.NoError(t, err)
		assert.True(t, inserted)
	})

	t.Run("redelivery on the same day is a no-op", func(t *testing.T) {
		inserted, err := funnel.Insert(ctx, &models.FunnelEvent{
			EventID:    "st:bot1:42:20260820",
			BotSlug:    "bot1",
			ChatID:     42,
			Kind:       models.FunnelStart,
			OccurredAt: day1.Add(3 * time.Hour),
		})
		require.NoError(t, err)
		assert.False(t, inserted)
	})

	t.Run("the unique key is per day", func(t *testing.T) {
		inserted, err := funnel.Insert(ctx, &models.FunnelEvent{
			EventID:    "st:bot1:42:20260820",
			BotSlug:    "bot1",
			ChatID:     42,
			Kind:       models.FunnelStart,
			OccurredAt: day1.AddDate(0, 0, 1),
		})
		require.NoError(t, err)
		assert.True(t, inserted)
	})

	t.Run("zero occurred_at defaults to now", func(t *testing.T) {
		ev := &models.FunnelEvent{
			EventID: "st:bot1:43:now",
			BotSlug: "bot1",
			ChatID:  43,
			Kind:    models.FunnelStart,
		}
		inserted, err := funnel.Insert(ctx, ev)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.WithinDuration(t, time.Now().UTC(), ev.OccurredAt, time.Minute)
	})
}

func TestFunnelHasUnpaidPix(t *testing.T) {
	pool := util.SetupTestDatabase(t)
	ctx := context.Background()
	bots := NewBotStore(pool)
	funnel := NewFunnelStore(pool)

	require.NoError(t, bots.Create(ctx, &models.Bot{Slug: "bot1", Name: "Bot One"}))

	now := time.Now().UTC()
	since := now.Add(-24 * time.Hour)
	tx1 := "tx-1"
	txOld := "tx-old"

	insert := func(eventID string, chatID int64, kind models.FunnelKind, tx *string, at time.Time) {
		t.Helper()
		inserted, err := funnel.Insert(ctx, &models.FunnelEvent{
			EventID:       eventID,
			BotSlug:       "bot1",
			ChatID:        chatID,
			Kind:          kind,
			TransactionID: tx,
			OccurredAt:    at,
		})
		require.NoError(t, err)
		require.True(t, inserted)
	}

	t.Run("no events means no unpaid pix", func(t *testing.T) {
		unpaid, err := funnel.HasUnpaidPix(ctx, "bot1", 42, since)
		require.NoError(t, err)
		assert.False(t, unpaid)
	})

	t.Run("a fresh pix with no payment counts", func(t *testing.T) {
		insert("px:bot1:tx-1", 42, models.FunnelPixCreated, &tx1, now.Add(-time.Hour))
		unpaid, err := funnel.HasUnpaidPix(ctx, "bot1", 42, since)
		require.NoError(t, err)
		assert.True(t, unpaid)
	})

	t.Run("other recipients are unaffected", func(t *testing.T) {
		unpaid, err := funnel.HasUnpaidPix(ctx, "bot1", 7, since)
		require.NoError(t, err)
		assert.False(t, unpaid)
	})

	t.Run("payment clears the gate", func(t *testing.T) {
		insert("pa:bot1:tx-1", 42, models.FunnelPaymentApproved, &tx1, now.Add(-30*time.Minute))
		unpaid, err := funnel.HasUnpaidPix(ctx, "bot1", 42, since)
		require.NoError(t, err)
		assert.False(t, unpaid)
	})

	t.Run("pix before the cutoff is ignored", func(t *testing.T) {
		insert("px:bot1:tx-old", 42, models.FunnelPixCreated, &txOld, now.Add(-48*time.Hour))
		unpaid, err := funnel.HasUnpaidPix(ctx, "bot1", 42, since)
		require.NoError(t, err)
		assert.False(t, unpaid)
	})
}

func TestFunnelTransactionUnpaid(t *testing.T) {
	pool := util.SetupTestDatabase(t)
	ctx := context.Background()
	bots := NewBotStore(pool)
	funnel := NewFunnelStore(pool)

	require.NoError(t, bots.Create(ctx, &models.Bot{Slug: "bot1", Name: "Bot One"}))

	now := time.Now().UTC()
	tx1 := "tx-1"
	tx2 := "tx-2"

	t.Run("unknown transaction is not unpaid", func(t *testing.T) {
		unpaid, err := funnel.TransactionUnpaid(ctx, "bot1", "tx-ghost")
		require.NoError(t, err)
		assert.False(t, unpaid)
	})

	t.Run("single pix_created with no payment is unpaid", func(t *testing.T) {
		inserted, err := funnel.Insert(ctx, &models.FunnelEvent{
			EventID:       "px:bot1:tx-1",
			BotSlug:       "bot1",
			ChatID:        42,
			Kind:          models.FunnelPixCreated,
			TransactionID: &tx1,
			OccurredAt:    now,
		})
		require.NoError(t, err)
		require.True(t, inserted)

		unpaid, err := funnel.TransactionUnpaid(ctx, "bot1", "tx-1")
		require.NoError(t, err)
		assert.True(t, unpaid)
	})

	t.Run("a cross-day duplicate of the same event does not flip the gate", func(t *testing.T) {
		// The per-day unique key lets the same event_id in again on the next
		// day; distinct ids keep the count at one.
		inserted, err := funnel.Insert(ctx, &models.FunnelEvent{
			EventID:       "px:bot1:tx-1",
			BotSlug:       "bot1",
			ChatID:        42,
			Kind:          models.FunnelPixCreated,
			TransactionID: &tx1,
			OccurredAt:    now.AddDate(0, 0, 1),
		})
		require.NoError(t, err)
		require.True(t, inserted)

		unpaid, err := funnel.TransactionUnpaid(ctx, "bot1", "tx-1")
		require.NoError(t, err)
		assert.True(t, unpaid)
	})

	t.Run("payment settles the transaction", func(t *testing.T) {
		inserted, err := funnel.Insert(ctx, &models.FunnelEvent{
			EventID:       "pa:bot1:tx-1",
			BotSlug:       "bot1",
			ChatID:        42,
			Kind:          models.FunnelPaymentApproved,
			TransactionID: &tx1,
			OccurredAt:    now,
		})
		require.NoError(t, err)
		require.True(t, inserted)

		unpaid, err := funnel.TransactionUnpaid(ctx, "bot1", "tx-1")
		require.NoError(t, err)
		assert.False(t, unpaid)
	})

	t.Run("two genuinely distinct pix events fail closed", func(t *testing.T) {
		for _, eventID := range []string{"px:bot1:tx-2", "px:bot1:tx-2:retry"} {
			inserted, err := funnel.Insert(ctx, &models.FunnelEvent{
				EventID:       eventID,
				BotSlug:       "bot1",
				ChatID:        42,
				Kind:          models.FunnelPixCreated,
				TransactionID: &tx2,
				OccurredAt:    now,
			})
			require.NoError(t, err)
			require.True(t, inserted)
		}

		unpaid, err := funnel.TransactionUnpaid(ctx, "bot1", "tx-2")
		require.NoError(t, err)
		assert.False(t, unpaid)
	})
}

func TestFunnelEnsureMonthPartition(t *testing.T) {
	pool := util.SetupTestDatabase(t)
	ctx := context.Background()
	bots := NewBotStore(pool)
	funnel := NewFunnelStore(pool)

	require.NoError(t, bots.Create(ctx, &models.Bot{Slug: "bot1", Name: "Bot One"}))

	at := time.Date(2030, time.March, 15, 10, 0, 0, 0, time.UTC)
	funnel.EnsureMonthPartition(ctx, at)
	funnel.EnsureMonthPartition(ctx, at) // repeat calls are harmless

	t.Run("creates this month and the next", func(t *testing.T) {
		for _, name := range []string{"funnel_events_y2030m03", "funnel_events_y2030m04"} {
			var regclass *string
			require.NoError(t, pool.QueryRow(ctx, `SELECT to_regclass($1)::text`, name).Scan(&regclass))
			assert.NotNil(t, regclass, "partition %s should exist", name)
		}
	})

	t.Run("events inside the range land in the named partition", func(t *testing.T) {
		inserted, err := funnel.Insert(ctx, &models.FunnelEvent{
			EventID:    "st:bot1:42:20300315",
			BotSlug:    "bot1",
			ChatID:     42,
			Kind:       models.FunnelStart,
			OccurredAt: at,
		})
		require.NoError(t, err)
		require.True(t, inserted)

		var partition string
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT tableoid::regclass::text FROM funnel_events WHERE event_id = $1`,
			"st:bot1:42:20300315").Scan(&partition))
		assert.Equal(t, "funnel_events_y2030m03", partition)
	})

	t.Run("events outside every range fall into the default partition", func(t *testing.T) {
		inserted, err := funnel.Insert(ctx, &models.FunnelEvent{
			EventID:    "st:bot1:42:20010101",
			BotSlug:    "bot1",
			ChatID:     42,
			Kind:       models.FunnelStart,
			OccurredAt: time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		require.True(t, inserted)

		var partition string
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT tableoid::regclass::text FROM funnel_events WHERE event_id = $1`,
			"st:bot1:42:20010101").Scan(&partition))
		assert.Equal(t, "funnel_events_default", partition)
	})
}
