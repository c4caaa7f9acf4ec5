package governance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long a loaded rule set is reused.
const DefaultCacheTTL = 60 * time.Second

// fetchTimeout bounds a shared rule-store fetch.
const fetchTimeout = 10 * time.Second

// RuleCache holds the active rule set for a bounded time. Refresh is lazy and
// blocks the caller; concurrent refreshes share one store fetch.
type RuleCache struct {
	store RuleStore
	clock Clock
	ttl   time.Duration
	group singleflight.Group

	mu       sync.RWMutex
	cached   []FoundationalVeredict
	cachedAt time.Time
	valid    bool
	gen      uint64
}

// NewRuleCache creates a cache. ttl <= 0 selects DefaultCacheTTL.
func NewRuleCache(store RuleStore, ttl time.Duration) *RuleCache {
	return NewRuleCacheWithClock(store, realClock{}, ttl)
}

// NewRuleCacheWithClock creates a cache with a custom clock (for testing).
func NewRuleCacheWithClock(store RuleStore, clock Clock, ttl time.Duration) *RuleCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RuleCache{store: store, clock: clock, ttl: ttl}
}

// Rules returns the active rules. A store failure yields an empty set for
// this call and is not cached.
func (c *RuleCache) Rules(ctx context.Context) []FoundationalVeredict {
	c.mu.RLock()
	if c.fresh() {
		out := copyRules(c.cached)
		c.mu.RUnlock()
		return out
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("rules", func() (interface{}, error) {
		c.mu.RLock()
		if c.fresh() {
			out := c.cached
			c.mu.RUnlock()
			return out, nil
		}
		gen := c.gen
		c.mu.RUnlock()

		// Waiters share this fetch, so one caller's cancellation must not
		// leave the others without rules.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		rules, err := c.store.ActiveVeredicts(fetchCtx)
		if err != nil {
			return nil, err
		}
		active := make([]FoundationalVeredict, 0, len(rules))
		for _, r := range rules {
			if r.IsActive {
				active = append(active, r)
			}
		}

		c.mu.Lock()
		// An Invalidate during the fetch wins; serve this result uncached.
		if c.gen == gen {
			c.cached = active
			c.cachedAt = c.clock.Now()
			c.valid = true
		}
		c.mu.Unlock()
		return active, nil
	})
	if err != nil {
		slog.Warn("loading foundational veredicts failed, enforcing none", "error", err)
		return nil
	}
	return copyRules(v.([]FoundationalVeredict))
}

// Invalidate drops the cached set so the next call reloads.
func (c *RuleCache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.cached = nil
	c.gen++
	c.mu.Unlock()
	c.group.Forget("rules")
}

// fresh must be called with mu held.
func (c *RuleCache) fresh() bool {
	return c.valid && c.clock.Now().Before(c.cachedAt.Add(c.ttl))
}

func copyRules(rules []FoundationalVeredict) []FoundationalVeredict {
	out := make([]FoundationalVeredict, len(rules))
	copy(out, rules)
	return out
}
