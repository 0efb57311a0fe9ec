package e2e

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendgate/sendgate/pkg/models"
)

// TestStartDeliversWelcome drives the full happy path: a registered bot with
// a sealed credential and a welcome sequence receives a /start and the
// recipient gets every configured message, in order.
func TestStartDeliversWelcome(t *testing.T) {
	app := NewTestApp(t)

	app.CreateBotWithWelcome(t, "alpha", map[string]interface{}{
		"messages": []map[string]interface{}{
			{"text": "Welcome aboard!"},
			{"text": "Tap the menu to get started."},
		},
	})
	app.SetCredential(t, "alpha", "100200300:alpha-token")

	const chat = int64(1001)
	app.SendStart(t, "alpha", chat)

	texts := app.WaitForTexts(t, chat, 2)
	require.Equal(t, []string{"Welcome aboard!", "Tap the menu to get started."}, texts[:2])

	// One start event in the funnel log.
	assert.Equal(t, 1, app.CountFunnelEvents(t, "alpha", models.FunnelStart))
}

// TestRepeatStartDeliversAgain verifies that the welcome goes out on every
// start while the funnel event stays deduplicated per recipient per day.
func TestRepeatStartDeliversAgain(t *testing.T) {
	app := NewTestApp(t)

	app.CreateBotWithWelcome(t, "beta", map[string]interface{}{
		"messages": []map[string]interface{}{{"text": "Hello again."}},
	})
	app.SetCredential(t, "beta", "100200300:beta-token")

	const chat = int64(1002)
	app.SendStart(t, "beta", chat)
	app.WaitForTexts(t, chat, 1)

	app.SendStart(t, "beta", chat)
	texts := app.WaitForTexts(t, chat, 2)
	assert.Equal(t, []string{"Hello again.", "Hello again."}, texts[:2])

	assert.Equal(t, 1, app.CountFunnelEvents(t, "beta", models.FunnelStart))
}

// TestNonStartUpdatesIgnored verifies the gateway drops conversational
// messages: no send, no funnel event.
func TestNonStartUpdatesIgnored(t *testing.T) {
	app := NewTestApp(t)

	app.CreateBotWithWelcome(t, "gamma", map[string]interface{}{
		"messages": []map[string]interface{}{{"text": "Hi."}},
	})
	app.SetCredential(t, "gamma", "100200300:gamma-token")

	const chat = int64(1003)
	app.SendText(t, "gamma", chat, "can you help me with my order?")
	app.SendStart(t, "gamma", chat)

	texts := app.WaitForTexts(t, chat, 1)
	require.Equal(t, "Hi.", texts[0])

	// Only the welcome reached the chat; the question produced nothing.
	assert.Len(t, app.Upstream.SentTo(chat), 1)
	assert.Equal(t, 1, app.CountFunnelEvents(t, "gamma", models.FunnelStart))
}

// TestWebhookIntakeRejections covers the ack-phase guards: a wrong shared
// secret and a malformed slug are rejected, while a well-formed slug that
// matches no bot is acked and dropped so the upstream stops redelivering.
func TestWebhookIntakeRejections(t *testing.T) {
	app := NewTestApp(t)

	app.CreateBotWithWelcome(t, "delta", map[string]interface{}{
		"messages": []map[string]interface{}{{"text": "Yo."}},
	})
	app.SetCredential(t, "delta", "100200300:delta-token")

	update := map[string]interface{}{
		"update_id": 999001,
		"message": map[string]interface{}{
			"message_id": 999001,
			"chat":       map[string]interface{}{"id": 1004, "type": "private"},
			"text":       "/start",
		},
	}

	status := app.rawStatus(t, http.MethodPost, "/tg/delta/webhook", map[string]string{
		"X-Telegram-Bot-Api-Secret-Token": "not-the-secret",
	}, update)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = app.rawStatus(t, http.MethodPost, "/tg/-nope/webhook", map[string]string{
		"X-Telegram-Bot-Api-Secret-Token": app.Config.WebhookSecret,
	}, update)
	assert.Equal(t, http.StatusBadRequest, status)

	// Unknown slug: acked with 200, dropped in the background phase.
	app.SendStart(t, "ghost", 1005)

	// Drive a real delivery through the same pipeline as a settle point.
	app.SendStart(t, "delta", 1006)
	app.WaitForTexts(t, 1006, 1)

	assert.Empty(t, app.Upstream.SentTo(1005))
	assert.Equal(t, 0, app.CountFunnelEvents(t, "ghost", models.FunnelStart))
}
