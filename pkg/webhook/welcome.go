package webhook

import (
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/sendgate/sendgate/pkg/models"
)

const (
	welcomeCacheSize = 256
	welcomeCacheTTL  = 60 * time.Second
)

type welcomeEntry struct {
	cfg       models.WelcomeConfig
	fetchedAt time.Time
}

// welcomeCache keeps per-tenant welcome configuration hot for a minute so a
// start burst does not turn into a bot-row read per update. Admin welcome
// updates invalidate eagerly; the TTL catches out-of-band edits.
type welcomeCache struct {
	entries *lru.Cache
	ttl     time.Duration
}

func newWelcomeCache() *welcomeCache {
	entries, err := lru.New(welcomeCacheSize)
	if err != nil {
		panic(err)
	}
	return &welcomeCache{entries: entries, ttl: welcomeCacheTTL}
}

func (c *welcomeCache) get(slug string) (models.WelcomeConfig, bool) {
	v, ok := c.entries.Get(slug)
	if !ok {
		return models.WelcomeConfig{}, false
	}
	e := v.(welcomeEntry)
	if time.Since(e.fetchedAt) > c.ttl {
		c.entries.Remove(slug)
		return models.WelcomeConfig{}, false
	}
	return e.cfg, true
}

func (c *welcomeCache) put(slug string, cfg models.WelcomeConfig) {
	c.entries.Add(slug, welcomeEntry{cfg: cfg, fetchedAt: time.Now()})
}

func (c *welcomeCache) remove(slug string) {
	c.entries.Remove(slug)
}
