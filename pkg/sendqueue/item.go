package sendqueue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Priority orders outbound sends. Smaller is dispatched first, strictly: a
// queued start message always beats any broadcast or downsell.
type Priority int

const (
	PriorityStart    Priority = 1
	PriorityShot     Priority = 2
	PriorityDownsell Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityStart:
		return "start"
	case PriorityShot:
		return "shot"
	case PriorityDownsell:
		return "downsell"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Valid reports whether p is a known priority level.
func (p Priority) Valid() bool {
	return p >= PriorityStart && p <= PriorityDownsell
}

func (p Priority) index() int {
	return int(p) - 1
}

// Callback performs one upstream send. A rate-limit result must be returned
// as an error satisfying upstream.IsRateLimited so the queue can back off.
type Callback func(ctx context.Context) error

type item struct {
	priority    Priority
	key         string
	bot         string
	chatID      int64
	purpose     string
	callback    Callback
	enqueuedAt  time.Time
	attempts429 int
	handle      *Handle
}

// Handle tracks one enqueued send. Done is closed when the callback settles
// or the item is dropped after repeated rate limiting.
type Handle struct {
	mu   sync.Mutex
	seq  int64
	err  error
	done chan struct{}
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Done returns a channel closed once the send settled.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the callback's result, meaningful only after Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Seq is the global dispatch sequence number, assigned when the drain hands
// the item to its callback. Re-dispatch after a 429 assigns a fresh value.
func (h *Handle) Seq() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

func (h *Handle) setSeq(seq int64) {
	h.mu.Lock()
	h.seq = seq
	h.mu.Unlock()
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

func recipientKey(bot string, chatID int64) string {
	return fmt.Sprintf("%s:%d", bot, chatID)
}
