package sendqueue

import "time"

// tokenBucket is a lazily refilled token bucket. It carries no clock of its
// own: callers pass now and the effective refill rate on every touch, which
// keeps the math testable and lets the drain vary a recipient's rate while
// fallback throttling is active.
type tokenBucket struct {
	tokens   float64
	capacity float64
	last     time.Time
}

func newTokenBucket(rate, burst float64, now time.Time) *tokenBucket {
	cap := rate + burst
	return &tokenBucket{tokens: cap, capacity: cap, last: now}
}

func (b *tokenBucket) refill(now time.Time, rate float64) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}

func (b *tokenBucket) take() bool {
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
