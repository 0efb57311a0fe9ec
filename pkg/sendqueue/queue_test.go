package sendqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendgate/sendgate/pkg/upstream"
)

func waitSettled(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("send did not settle in time")
	}
}

func TestQueueStrictPriorityOrder(t *testing.T) {
	q := newTestQueue()

	ok := func(ctx context.Context) error { return nil }

	// Enqueued out of priority order on purpose.
	hA := q.Enqueue(PriorityDownsell, "bot", 1, "downsell", ok)
	hB := q.Enqueue(PriorityShot, "bot", 2, "shot", ok)
	hC := q.Enqueue(PriorityStart, "bot", 3, "welcome", ok)
	hD := q.Enqueue(PriorityDownsell, "bot", 4, "downsell", ok)

	q.Start(context.Background())
	defer q.Stop()

	for _, h := range []*Handle{hA, hB, hC, hD} {
		waitSettled(t, h)
		require.NoError(t, h.Err())
	}

	// Dispatch sequence: START first, then SHOT, then the two DOWNSELLs
	// in enqueue order.
	assert.Less(t, hC.Seq(), hB.Seq())
	assert.Less(t, hB.Seq(), hA.Seq())
	assert.Less(t, hA.Seq(), hD.Seq())
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := newTestQueue()

	ok := func(ctx context.Context) error { return nil }
	h1 := q.Enqueue(PriorityShot, "bot", 1, "shot", ok)
	h2 := q.Enqueue(PriorityShot, "bot", 2, "shot", ok)
	h3 := q.Enqueue(PriorityShot, "bot", 3, "shot", ok)

	q.Start(context.Background())
	defer q.Stop()

	for _, h := range []*Handle{h1, h2, h3} {
		waitSettled(t, h)
	}
	assert.Less(t, h1.Seq(), h2.Seq())
	assert.Less(t, h2.Seq(), h3.Seq())
}

func TestQueueRateLimitedDefersNextSend(t *testing.T) {
	q := newTestQueue()

	var mu sync.Mutex
	var calls []time.Time
	cb := func(ctx context.Context) error {
		mu.Lock()
		calls = append(calls, time.Now())
		n := len(calls)
		mu.Unlock()
		if n == 1 {
			return &upstream.Error{Kind: upstream.KindRateLimited, RetryAfter: 2 * time.Second}
		}
		return nil
	}

	h := q.Enqueue(PriorityStart, "bot", 42, "welcome", cb)
	q.Start(context.Background())
	defer q.Stop()

	waitSettled(t, h)
	require.NoError(t, h.Err())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 2)
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 2*time.Second)
}

func TestQueueBackoffDoesNotBlockOtherRecipients(t *testing.T) {
	q := newTestQueue()

	var mu sync.Mutex
	var slowSettled, fastSettled time.Time

	slowCalls := 0
	slow := func(ctx context.Context) error {
		mu.Lock()
		slowCalls++
		n := slowCalls
		mu.Unlock()
		if n == 1 {
			return &upstream.Error{Kind: upstream.KindRateLimited, RetryAfter: 500 * time.Millisecond}
		}
		mu.Lock()
		slowSettled = time.Now()
		mu.Unlock()
		return nil
	}
	fast := func(ctx context.Context) error {
		mu.Lock()
		fastSettled = time.Now()
		mu.Unlock()
		return nil
	}

	hSlow := q.Enqueue(PriorityShot, "bot", 1, "shot", slow)
	hFast := q.Enqueue(PriorityShot, "bot", 2, "shot", fast)

	q.Start(context.Background())
	defer q.Stop()

	waitSettled(t, hSlow)
	waitSettled(t, hFast)
	require.NoError(t, hSlow.Err())
	require.NoError(t, hFast.Err())

	// The backed-off head yields to the other recipient instead of
	// blocking the level until its delay expires.
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, fastSettled.Before(slowSettled),
		"other recipient should settle while the first backs off")
}

func TestRateLimitedRepushesToHead(t *testing.T) {
	q := newTestQueue()

	noop := func(ctx context.Context) error { return nil }
	q.Enqueue(PriorityDownsell, "bot", 1, "downsell", noop)
	q.Enqueue(PriorityDownsell, "bot", 2, "downsell", noop)

	idx := PriorityDownsell.index()
	q.mu.Lock()
	it := q.fifos[idx][0]
	q.fifos[idx] = q.fifos[idx][1:]
	q.mu.Unlock()

	q.rateLimited(it, 0)

	q.mu.Lock()
	defer q.mu.Unlock()
	require.Len(t, q.fifos[idx], 2)
	assert.Same(t, it, q.fifos[idx][0])
	assert.Equal(t, 1, it.attempts429)
}

func TestRateLimitedDropsAfterMaxAttempts(t *testing.T) {
	q := newTestQueue()

	h := q.Enqueue(PriorityShot, "bot", 7, "shot", func(ctx context.Context) error { return nil })
	idx := PriorityShot.index()

	for i := 0; i < maxRateLimitAttempts; i++ {
		q.mu.Lock()
		require.NotEmpty(t, q.fifos[idx])
		it := q.fifos[idx][0]
		q.fifos[idx] = q.fifos[idx][1:]
		q.mu.Unlock()
		q.rateLimited(it, 0)
	}

	select {
	case <-h.Done():
	default:
		t.Fatal("handle should settle once the item is dropped")
	}
	_, limited := upstream.IsRateLimited(h.Err())
	assert.True(t, limited)

	q.mu.Lock()
	assert.Empty(t, q.fifos[idx])
	q.mu.Unlock()
	assert.Equal(t, int64(1), q.dropped.Load())
}

func TestEnqueueCoercesUnknownPriority(t *testing.T) {
	q := newTestQueue()
	q.Enqueue(Priority(9), "bot", 1, "misc", func(ctx context.Context) error { return nil })

	stats := q.Stats()
	assert.Equal(t, 1, stats.DepthByPriority[PriorityDownsell.String()])
}

func TestQueueStats(t *testing.T) {
	q := newTestQueue()

	noop := func(ctx context.Context) error { return nil }
	q.Enqueue(PriorityStart, "bot", 1, "welcome", noop)
	q.Enqueue(PriorityShot, "bot", 2, "shot", noop)
	q.Enqueue(PriorityShot, "bot", 3, "shot", noop)

	assert.Equal(t, 3, q.Depth())

	stats := q.Stats()
	assert.Equal(t, 3, stats.Depth)
	assert.Equal(t, 1, stats.DepthByPriority["start"])
	assert.Equal(t, 2, stats.DepthByPriority["shot"])
	assert.Equal(t, 0, stats.DepthByPriority["downsell"])
}

func TestQueueStopTwiceDoesNotPanic(t *testing.T) {
	q := newTestQueue()
	q.Start(context.Background())

	q.Stop()
	assert.NotPanics(t, q.Stop)
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "start", PriorityStart.String())
	assert.Equal(t, "shot", PriorityShot.String())
	assert.Equal(t, "downsell", PriorityDownsell.String())
	assert.Equal(t, "priority(9)", Priority(9).String())
	assert.False(t, Priority(0).Valid())
	assert.True(t, PriorityShot.Valid())
}
