package router

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shadowbook/execd/internal/model"
)

// decisionCache memoizes routing decisions for a few seconds so a burst
// of same-sized slices for the same symbol doesn't re-run candidate
// scoring on every call. Bounded size with FIFO eviction, matching the
// "≤1000 entries, 5s TTL" cache described for the router's backpressure.
type decisionCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	entries map[string]cacheEntry
	order   []string
}

type cacheEntry struct {
	decision model.RoutingDecision
	expires  time.Time
}

func newDecisionCache(maxSize int, ttl time.Duration) *decisionCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &decisionCache{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func cacheKey(sym model.Symbol, side model.Side, qty decimal.Decimal, strategy Strategy) string {
	// Round qty to a coarse bucket so near-identical slice sizes share a
	// cache entry instead of each missing individually.
	bucket := qty.Round(4).String()
	return string(sym) + "|" + string(side) + "|" + bucket + "|" + string(strategy)
}

func (c *decisionCache) lookup(sym model.Symbol, side model.Side, qty decimal.Decimal, strategy Strategy) (model.RoutingDecision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(sym, side, qty, strategy)
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expires) {
		return model.RoutingDecision{}, false
	}
	return entry.decision, true
}

func (c *decisionCache) store(sym model.Symbol, side model.Side, qty decimal.Decimal, strategy Strategy, decision model.RoutingDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(sym, side, qty, strategy)
	if _, exists := c.entries[key]; !exists {
		if len(c.order) >= c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{decision: decision, expires: time.Now().Add(c.ttl)}
}
