package api

import (
	"context"
	"sync"
	"time"
)

// defaultProbeTTL bounds how often /health/detailed reaches the database
const defaultProbeTTL = 5 * time.Second

// probeCache holds the last result of a dependency probe for a TTL so
// frequent health scrapes do not each open a connection.
type probeCache struct {
	mu        sync.Mutex
	err       error
	checkedAt time.Time
	ttl       time.Duration
	now       func() time.Time
}

// newProbeCache creates a cache; a TTL of 0 disables caching.
func newProbeCache(ttl time.Duration) *probeCache {
	return &probeCache{ttl: ttl, now: time.Now}
}

// check returns the cached result while it is fresh, otherwise runs probe.
// Callers serialize on the lock so a burst of scrapes probes once.
func (c *probeCache) check(ctx context.Context, probe func(context.Context) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.checkedAt.IsZero() && c.now().Sub(c.checkedAt) < c.ttl {
		return c.err
	}
	c.err = probe(ctx)
	c.checkedAt = c.now()
	return c.err
}
