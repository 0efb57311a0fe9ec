package sendqueue

import "time"

// backoffRecord holds the rate-limit state of one recipient. It outlives the
// until deadline so a follow-up 429 can double the previous delay; only a
// successful send (or the GC, after long idleness) removes it.
type backoffRecord struct {
	until       time.Time
	last        time.Duration
	consecutive int
}

// fallbackRecord marks a recipient that answered with three consecutive 429s.
// While present the recipient refills at a reduced rate that recovers by one
// token per second for every full window elapsed since startedAt.
type fallbackRecord struct {
	startedAt time.Time
}

// applyBackoff records a 429 for key and returns the delay before the next
// attempt. The upstream retry-after hint wins when present; otherwise the
// previous delay is doubled up to backoffCap, starting from backoffInitial.
// Caller holds q.mu.
func (q *Queue) applyBackoff(key string, retryAfter time.Duration, now time.Time) time.Duration {
	rec, ok := q.backoffs[key]
	if !ok {
		rec = &backoffRecord{}
		q.backoffs[key] = rec
	}

	var delay time.Duration
	switch {
	case retryAfter > 0:
		delay = retryAfter
	case rec.last > 0:
		delay = rec.last * 2
		if delay > backoffCap {
			delay = backoffCap
		}
	default:
		delay = backoffInitial
	}

	rec.last = delay
	rec.until = now.Add(delay)
	rec.consecutive++

	if rec.consecutive >= fallbackTrigger {
		if _, exists := q.fallbacks[key]; !exists {
			q.fallbacks[key] = &fallbackRecord{startedAt: now}
		}
	}
	return delay
}

// clearBackoff forgets the 429 history of key after a successful send. The
// fallback record is left alone: it recovers on its own schedule.
// Caller holds q.mu.
func (q *Queue) clearBackoff(key string) {
	delete(q.backoffs, key)
}

// effectiveChatRate returns the refill rate for key, honoring an active
// fallback. Recovery adds one token per second for each full window since
// the fallback began; once the nominal rate is reached again the record is
// dropped. Caller holds q.mu.
func (q *Queue) effectiveChatRate(key string, now time.Time) float64 {
	fb, ok := q.fallbacks[key]
	if !ok {
		return chatRate
	}
	steps := now.Sub(fb.startedAt) / fallbackWindow
	rate := fallbackRate + float64(steps)
	if rate >= chatRate {
		delete(q.fallbacks, key)
		return chatRate
	}
	return rate
}
