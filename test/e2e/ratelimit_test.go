package e2e

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestRateLimitedSendBacksOffAndRetries scripts one 429 with a retry_after
// hint and verifies the queue backs the recipient off and re-attempts the
// send instead of dropping it.
func TestRateLimitedSendBacksOffAndRetries(t *testing.T) {
	app := NewTestApp(t)

	app.CreateBotWithWelcome(t, "throttle", map[string]interface{}{
		"messages": []map[string]interface{}{{"text": "Eventually delivered."}},
	})
	app.SetCredential(t, "throttle", "100200300:throttle-token")

	const chat = int64(9001)
	app.Upstream.RateLimitNextSend(chat, 1)

	app.SendStart(t, "throttle", chat)

	texts := app.WaitForTexts(t, chat, 1)
	assert.Equal(t, "Eventually delivered.", texts[0])

	// The throttled attempt was rejected by the upstream, not recorded; only
	// the retry landed.
	assert.Len(t, app.Upstream.SentTo(chat), 1)
}
