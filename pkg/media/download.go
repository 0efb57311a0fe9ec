package media

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const (
	downloadCacheSize = 50
	downloadCacheTTL  = 5 * time.Minute

	// pruneDivisor drops a fifth of the cache per sweep.
	pruneDivisor = 5
)

type cachedPayload struct {
	data     []byte
	storedAt time.Time
}

// downloadCache keeps recently fetched blob payloads in memory so a burst of
// warm-ups over the same content does not re-download from the object store.
// When an insert pushes the cache past its size, the oldest fifth is dropped
// in one sweep instead of one entry at a time.
type downloadCache struct {
	entries *lru.Cache
	ttl     time.Duration
}

func newDownloadCache() *downloadCache {
	// Twice the nominal size so the library never evicts on its own; the
	// sweep in put is the only eviction besides TTL expiry.
	entries, err := lru.New(downloadCacheSize * 2)
	if err != nil {
		panic(err) // only fails on a non-positive size
	}
	return &downloadCache{entries: entries, ttl: downloadCacheTTL}
}

func (c *downloadCache) get(key string) ([]byte, bool) {
	hit, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	entry := hit.(cachedPayload)
	if time.Since(entry.storedAt) > c.ttl {
		c.entries.Remove(key)
		return nil, false
	}
	return entry.data, true
}

func (c *downloadCache) put(key string, data []byte) {
	c.entries.Add(key, cachedPayload{data: data, storedAt: time.Now()})
	if c.entries.Len() <= downloadCacheSize {
		return
	}
	for i := 0; i < downloadCacheSize/pruneDivisor; i++ {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			break
		}
	}
}
