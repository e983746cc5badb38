package core

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/loliloopp/PassDesk-sub001/internal/metrics"
)

// Cache defaults.
const (
	DefaultCacheSize = 10000
	DefaultCacheTTL  = 5 * time.Minute
)

type cacheEntry struct {
	employee  PersistedEmployee
	found     bool
	expiresAt time.Time
}

// EmployeeCache remembers tax ID lookups, including misses, for a bounded time.
// It is an explicit object handed to the ConflictDetector; the clock is injectable
// so expiry is testable.
type EmployeeCache struct {
	entries *lru.Cache[string, cacheEntry]
	ttl     time.Duration
	now     func() time.Time
}

// NewEmployeeCache creates a cache holding up to size entries for ttl each.
// A nil clock means time.Now.
func NewEmployeeCache(size int, ttl time.Duration, now func() time.Time) (*EmployeeCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create employee cache: %w", err)
	}
	return &EmployeeCache{entries: entries, ttl: ttl, now: now}, nil
}

// Get returns the cached lookup for taxID. ok is false on a miss or an expired
// entry; found tells whether the cached lookup matched an employee.
func (c *EmployeeCache) Get(taxID string) (emp PersistedEmployee, found, ok bool) {
	e, hit := c.entries.Get(taxID)
	if hit && c.now().Before(e.expiresAt) {
		metrics.CacheHits.Inc()
		return e.employee, e.found, true
	}
	if hit {
		c.entries.Remove(taxID)
	}
	metrics.CacheMisses.Inc()
	return PersistedEmployee{}, false, false
}

// Put stores a lookup result. A nil employee records that no employee exists.
func (c *EmployeeCache) Put(taxID string, emp *PersistedEmployee) {
	e := cacheEntry{expiresAt: c.now().Add(c.ttl)}
	if emp != nil {
		e.employee = *emp
		e.found = true
	}
	c.entries.Add(taxID, e)
}

// Invalidate drops the given tax IDs.
func (c *EmployeeCache) Invalidate(taxIDs ...string) {
	for _, id := range taxIDs {
		c.entries.Remove(id)
	}
}

// Purge drops everything.
func (c *EmployeeCache) Purge() {
	c.entries.Purge()
}

// Len returns the number of entries, expired ones included.
func (c *EmployeeCache) Len() int {
	return c.entries.Len()
}
