// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

package authz

import (
	"context"
	"sync"
	"time"

	"github.com/visdata/gatekeeper/internal/metrics"
)

// DecisionCache caches authorization decisions keyed by
// (subject, method, object, org) with a TTL and an entry cap. When the
// cap is reached the oldest-inserted entry is evicted first. Entries
// keep their subject and object so invalidation can target either
// dimension without scanning key strings.
type DecisionCache struct {
	ttl        time.Duration
	maxEntries int

	mu    sync.RWMutex
	items map[string]*decisionEntry
	// order tracks insertion order for capacity eviction.
	order []string
}

type decisionEntry struct {
	allowed   bool
	subject   string
	object    string
	expiresAt time.Time
}

// NewDecisionCache creates a decision cache. Zero or negative ttl
// defaults to 5 minutes; maxEntries below 1 defaults to 10000.
func NewDecisionCache(ttl time.Duration, maxEntries int) *DecisionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxEntries < 1 {
		maxEntries = 10000
	}
	return &DecisionCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		items:      make(map[string]*decisionEntry),
	}
}

func cacheKey(subject, method, object, orgID string) string {
	return subject + "|" + method + "|" + object + "|" + orgID
}

// Get retrieves a cached decision. The second return reports whether a
// live entry was found.
func (c *DecisionCache) Get(subject, method, object, orgID string) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.items[cacheKey(subject, method, object, orgID)]
	if !ok {
		metrics.RecordCacheMiss()
		return false, false
	}
	// An entry whose age has reached the TTL is already dead;
	// expiry at exactly T0+TTL counts as a miss.
	if !time.Now().Before(entry.expiresAt) {
		metrics.RecordCacheMiss()
		return false, false
	}

	metrics.RecordCacheHit()
	return entry.allowed, true
}

// Set stores a decision, evicting the oldest-inserted entry when at
// capacity.
func (c *DecisionCache) Set(subject, method, object, orgID string, allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(subject, method, object, orgID)
	if _, exists := c.items[key]; !exists {
		for len(c.items) >= c.maxEntries && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			if _, live := c.items[oldest]; live {
				delete(c.items, oldest)
				metrics.CacheEvictions.WithLabelValues("capacity").Inc()
			}
		}
		c.order = append(c.order, key)
	}

	c.items[key] = &decisionEntry{
		allowed:   allowed,
		subject:   subject,
		object:    object,
		expiresAt: time.Now().Add(c.ttl),
	}
	metrics.CacheEntries.Set(float64(len(c.items)))
}

// InvalidateSubject removes every cached decision for a subject.
func (c *DecisionCache) InvalidateSubject(subject string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.items {
		if entry.subject == subject {
			delete(c.items, key)
			removed++
		}
	}
	c.afterInvalidate("subject", removed)
	return removed
}

// InvalidateObject removes every cached decision touching an object.
func (c *DecisionCache) InvalidateObject(object string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.items {
		if entry.object == object {
			delete(c.items, key)
			removed++
		}
	}
	c.afterInvalidate("object", removed)
	return removed
}

// InvalidateAll clears the cache.
func (c *DecisionCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := len(c.items)
	c.items = make(map[string]*decisionEntry)
	c.order = nil
	c.afterInvalidate("all", removed)
}

func (c *DecisionCache) afterInvalidate(scope string, removed int) {
	metrics.CacheInvalidations.WithLabelValues(scope).Inc()
	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues("invalidated").Add(float64(removed))
	}
	metrics.CacheEntries.Set(float64(len(c.items)))
}

// Len returns the current number of live entries.
func (c *DecisionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// StartJanitor periodically removes expired entries and compacts the
// insertion-order slice, until the context is cancelled.
func (c *DecisionCache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *DecisionCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range c.items {
		if !now.Before(entry.expiresAt) {
			delete(c.items, key)
			removed++
		}
	}
	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues("expired").Add(float64(removed))
	}

	// Drop order entries whose items are gone so the slice cannot grow
	// unbounded across invalidations.
	if removed > 0 || len(c.order) > len(c.items) {
		compacted := c.order[:0]
		for _, key := range c.order {
			if _, live := c.items[key]; live {
				compacted = append(compacted, key)
			}
		}
		c.order = compacted
	}
	metrics.CacheEntries.Set(float64(len(c.items)))
}
