package maker

import (
	"sync"
	"time"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// dedupCache drops push updates already applied. Keys are
// (order id, status, cumulative filled size), so a larger fill always passes.
type dedupCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	last time.Time // last sweep
}

func newDedupCache(ttl time.Duration) *dedupCache {
	return &dedupCache{ttl: ttl, seen: make(map[string]time.Time)}
}

func dedupKey(st domain.OrderState) string {
	return st.OrderID + "|" + string(st.Status) + "|" + st.FilledSize.String()
}

// firstSeen records st and reports whether it was new within the TTL.
func (c *dedupCache) firstSeen(st domain.OrderState, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.last) > c.ttl {
		for k, at := range c.seen {
			if now.Sub(at) > c.ttl {
				delete(c.seen, k)
			}
		}
		c.last = now
	}

	key := dedupKey(st)
	if at, ok := c.seen[key]; ok && now.Sub(at) <= c.ttl {
		return false
	}
	c.seen[key] = now
	return true
}

// forget removes st so that it can be applied again, e.g. after a failed save.
func (c *dedupCache) forget(st domain.OrderState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, dedupKey(st))
}
