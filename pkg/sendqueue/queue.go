package sendqueue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sendgate/sendgate/pkg/config"
	"github.com/sendgate/sendgate/pkg/metrics"
	"github.com/sendgate/sendgate/pkg/upstream"
)

// Local aliases for the compiled-in rate plan (config/limits.go).
const (
	globalRate = config.GlobalSendRate
	chatRate   = config.ChatSendRate
	burst      = config.SendBurst

	backoffInitial  = config.RateLimitBackoffInitial
	backoffCap      = config.RateLimitBackoffCap
	fallbackTrigger = config.FallbackTrigger
	fallbackRate    = config.FallbackRate
	fallbackWindow  = config.FallbackRecoveryWindow
)

const (
	// An item rate-limited this many times is dropped rather than retried.
	maxRateLimitAttempts = 5

	drainRetryDelay = 100 * time.Millisecond
	gcInterval      = 5 * time.Minute
	gcIdleTTL       = 10 * time.Minute
)

// Queue is the priority send queue every outbound message passes through.
// A single drain goroutine enforces the global and per-recipient token
// buckets and the strict priority order; callbacks then perform their
// upstream I/O concurrently, so a slow send never stalls the drain.
type Queue struct {
	mu        sync.Mutex
	fifos     [3][]*item
	global    *tokenBucket
	chats     map[string]*tokenBucket
	backoffs  map[string]*backoffRecord
	fallbacks map[string]*fallbackRecord
	seq       int64

	sink     *metrics.Sink
	inFlight atomic.Int64
	dropped  atomic.Int64

	drainCh  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	cbWg     sync.WaitGroup
}

// Stats is a point-in-time snapshot for the health endpoint.
type Stats struct {
	Depth           int            `json:"depth"`
	DepthByPriority map[string]int `json:"depth_by_priority"`
	InFlight        int64          `json:"in_flight"`
	Dropped         int64          `json:"dropped"`
	Recipients      int            `json:"recipients"`
	Backoffs        int            `json:"backoffs"`
	Fallbacks       int            `json:"fallbacks"`
}

func NewQueue(sink *metrics.Sink) *Queue {
	return &Queue{
		global:    newTokenBucket(globalRate, burst, time.Now()),
		chats:     make(map[string]*tokenBucket),
		backoffs:  make(map[string]*backoffRecord),
		fallbacks: make(map[string]*fallbackRecord),
		sink:      sink,
		drainCh:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the drain and GC goroutines. The context is handed to every
// callback; cancel it only after Stop so in-flight sends can finish cleanly.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(2)
	go q.run(ctx)
	go q.gcLoop()
	slog.Info("Send queue started",
		"global_rate", globalRate,
		"chat_rate", chatRate,
		"burst", burst)
}

// Stop halts the drain, then waits for callbacks already handed out.
// Items still queued stay queued and are lost with the process.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})
	q.wg.Wait()
	q.cbWg.Wait()
	slog.Info("Send queue stopped", "remaining", q.Depth())
}

// Enqueue appends a send to the FIFO of its priority and returns a handle
// that settles when the callback ran or the item was dropped.
func (q *Queue) Enqueue(priority Priority, bot string, chatID int64, purpose string, cb Callback) *Handle {
	if !priority.Valid() {
		priority = PriorityDownsell
	}
	it := &item{
		priority:   priority,
		key:        recipientKey(bot, chatID),
		bot:        bot,
		chatID:     chatID,
		purpose:    purpose,
		callback:   cb,
		enqueuedAt: time.Now(),
		handle:     newHandle(),
	}

	q.mu.Lock()
	q.fifos[priority.index()] = append(q.fifos[priority.index()], it)
	depth := len(q.fifos[priority.index()])
	q.mu.Unlock()

	metrics.QueueDepth.WithLabelValues(priority.String()).Set(float64(depth))
	q.kick()
	return it.handle
}

// Depth is the number of queued items across all priorities, excluding
// callbacks currently in flight.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fifos[0]) + len(q.fifos[1]) + len(q.fifos[2])
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Depth: len(q.fifos[0]) + len(q.fifos[1]) + len(q.fifos[2]),
		DepthByPriority: map[string]int{
			PriorityStart.String():    len(q.fifos[0]),
			PriorityShot.String():     len(q.fifos[1]),
			PriorityDownsell.String(): len(q.fifos[2]),
		},
		InFlight:   q.inFlight.Load(),
		Dropped:    q.dropped.Load(),
		Recipients: len(q.chats),
		Backoffs:   len(q.backoffs),
		Fallbacks:  len(q.fallbacks),
	}
}

func (q *Queue) kick() {
	select {
	case q.drainCh <- struct{}{}:
	default:
	}
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		dispatched, wait := q.drainStep(ctx)
		if dispatched {
			continue
		}
		if wait == 0 {
			// Queue idle, wait for work.
			select {
			case <-q.stopCh:
				return
			case <-ctx.Done():
				return
			case <-q.drainCh:
			}
			continue
		}
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-q.drainCh:
		case <-time.After(wait):
		}
	}
}

// drainStep performs at most one dispatch. It returns dispatched=true when a
// callback was handed out, otherwise the delay before the next attempt
// (zero means the queue is empty and the drain should sleep until kicked).
func (q *Queue) drainStep(ctx context.Context) (dispatched bool, wait time.Duration) {
	q.mu.Lock()

	now := time.Now()
	q.global.refill(now, globalRate)
	if q.global.tokens < 1 {
		q.mu.Unlock()
		return false, drainRetryDelay
	}

	idx := -1
	for i := range q.fifos {
		if len(q.fifos[i]) > 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false, 0
	}

	it := q.fifos[idx][0]
	q.fifos[idx] = q.fifos[idx][1:]

	// A recipient still backing off is re-appended to the tail and the
	// whole queue reschedules rather than skipping ahead within the level.
	if rec, ok := q.backoffs[it.key]; ok && now.Before(rec.until) {
		q.fifos[idx] = append(q.fifos[idx], it)
		q.mu.Unlock()
		return false, drainRetryDelay
	}

	bucket, ok := q.chats[it.key]
	if !ok {
		bucket = newTokenBucket(chatRate, burst, now)
		q.chats[it.key] = bucket
	}
	bucket.refill(now, q.effectiveChatRate(it.key, now))
	if !bucket.take() {
		q.fifos[idx] = append(q.fifos[idx], it)
		q.mu.Unlock()
		return false, drainRetryDelay
	}
	q.global.take()

	q.seq++
	it.handle.setSeq(q.seq)
	queueWait := now.Sub(it.enqueuedAt)
	depth := len(q.fifos[idx])
	q.mu.Unlock()

	prio := it.priority.String()
	metrics.QueueDepth.WithLabelValues(prio).Set(float64(depth))
	metrics.QueueWait.WithLabelValues(prio).Observe(queueWait.Seconds())
	q.sink.Observe("queue_wait_ms", float64(queueWait.Milliseconds()), map[string]string{
		"priority": prio,
		"purpose":  it.purpose,
	})

	q.inFlight.Add(1)
	q.cbWg.Add(1)
	go q.dispatch(ctx, it)
	return true, 0
}

func (q *Queue) dispatch(ctx context.Context, it *item) {
	defer q.cbWg.Done()
	defer q.inFlight.Add(-1)

	started := time.Now()
	err := it.callback(ctx)
	elapsed := time.Since(started)

	prio := it.priority.String()
	metrics.SendLatency.WithLabelValues(prio).Observe(elapsed.Seconds())
	q.sink.Observe("send_latency_ms", float64(elapsed.Milliseconds()), map[string]string{
		"bot":      it.bot,
		"priority": prio,
	})

	if retryAfter, limited := upstream.IsRateLimited(err); limited {
		q.rateLimited(it, retryAfter)
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	} else {
		q.mu.Lock()
		q.clearBackoff(it.key)
		q.mu.Unlock()
	}
	metrics.SendsTotal.WithLabelValues(it.bot, prio, outcome).Inc()
	it.handle.finish(err)
}

// rateLimited applies the recipient backoff and either re-pushes the item to
// the head of its FIFO or, after maxRateLimitAttempts, drops it.
func (q *Queue) rateLimited(it *item, retryAfter time.Duration) {
	metrics.RateLimitHits.WithLabelValues(it.bot).Inc()

	q.mu.Lock()
	now := time.Now()
	delay := q.applyBackoff(it.key, retryAfter, now)
	it.attempts429++
	attempts := it.attempts429
	if attempts < maxRateLimitAttempts {
		idx := it.priority.index()
		q.fifos[idx] = append([]*item{it}, q.fifos[idx]...)
		q.mu.Unlock()

		slog.Info("Send rate limited, backing off",
			"bot", it.bot,
			"chat_id", it.chatID,
			"purpose", it.purpose,
			"backoff", delay,
			"attempt", attempts)
		q.kick()
		return
	}
	q.mu.Unlock()

	q.dropped.Add(1)
	metrics.SendsTotal.WithLabelValues(it.bot, it.priority.String(), "dropped").Inc()
	slog.Warn("Dropping send after repeated rate limits",
		"bot", it.bot,
		"chat_id", it.chatID,
		"purpose", it.purpose,
		"attempts", attempts)
	it.handle.finish(&upstream.Error{
		Kind:        upstream.KindRateLimited,
		Description: "dropped after repeated rate limits",
		RetryAfter:  delay,
	})
}

func (q *Queue) gcLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.gc(time.Now())
		}
	}
}

// gc evicts per-recipient state that has been idle past gcIdleTTL so the
// maps do not grow with every chat ever messaged.
func (q *Queue) gc(now time.Time) {
	recoveryHorizon := time.Duration((chatRate-fallbackRate)/1) * fallbackWindow

	q.mu.Lock()
	var buckets, backoffs, fallbacks int
	for key, b := range q.chats {
		if now.Sub(b.last) > gcIdleTTL {
			delete(q.chats, key)
			buckets++
		}
	}
	for key, rec := range q.backoffs {
		if now.Sub(rec.until) > gcIdleTTL {
			delete(q.backoffs, key)
			backoffs++
		}
	}
	for key, fb := range q.fallbacks {
		if now.Sub(fb.startedAt) > recoveryHorizon {
			delete(q.fallbacks, key)
			fallbacks++
		}
	}
	remaining := len(q.chats)
	q.mu.Unlock()

	if buckets+backoffs+fallbacks > 0 {
		slog.Debug("Queue GC evicted idle recipient state",
			"buckets", buckets,
			"backoffs", backoffs,
			"fallbacks", fallbacks,
			"remaining", remaining)
	}
}
