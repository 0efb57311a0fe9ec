package blob

import (
	"sync"
	"time"
)

// signingKeyTTL is slightly under a day because the derived key embeds the
// date stamp and rotates with it.
const signingKeyTTL = 23 * time.Hour

// signingKeyCache memoizes the HMAC chain of getSignatureKey. One entry
// suffices: the scope only changes at the UTC date boundary. The entry
// self-evicts after the TTL so key material does not outlive its use.
type signingKeyCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	scope     string
	key       []byte
	expiresAt time.Time
	evict     *time.Timer
}

func newSigningKeyCache(ttl time.Duration) *signingKeyCache {
	return &signingKeyCache{ttl: ttl}
}

func (c *signingKeyCache) get(now time.Time, secret, dateStamp, region, service string) []byte {
	scope := dateStamp + "/" + region + "/" + service
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scope == scope && now.Before(c.expiresAt) {
		return c.key
	}
	c.scope = scope
	c.key = getSignatureKey(secret, dateStamp, region, service)
	c.expiresAt = now.Add(c.ttl)
	if c.evict != nil {
		c.evict.Stop()
	}
	c.evict = time.AfterFunc(c.ttl, c.clear)
	return c.key
}

func (c *signingKeyCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Now().Before(c.expiresAt) {
		// A newer entry re-armed the timer.
		return
	}
	c.scope = ""
	c.key = nil
}
