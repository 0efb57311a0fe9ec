package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sendgate/sendgate/pkg/config"
)

func TestJitterDelayStaysInWindow(t *testing.T) {
	for i := 0; i < 1000; i++ {
		d := jitterDelay()
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, config.UpstreamHeartbeatJitter)
	}
}

func TestServiceStartStopIdempotent(t *testing.T) {
	s := NewService(nil, nil, nil, nil)

	// Tickers are long; nothing fires before Stop.
	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()

	assert.NotPanics(t, s.Stop)
}
