package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/asteroid-dashboard/internal/models"
	"github.com/kjstillabower/asteroid-dashboard/internal/observability"
)

// DefaultMaxEntries bounds the in-memory cache when no size is configured.
// One entry is one date range.
const DefaultMaxEntries = 64

// Cache memoizes normalized feeds by date-range key.
// A ttl <= 0 keeps the entry for the lifetime of the backend.
type Cache interface {
	Get(ctx context.Context, key string) (models.Feed, bool, error)
	Set(ctx context.Context, key string, value models.Feed, ttl time.Duration) error
}

// InMemoryCache implements Cache as a bounded LRU. Expired entries are
// removed on access; once maxEntries is reached the least recently used
// entry is evicted. Safe for concurrent use; last writer wins.
type InMemoryCache struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]*list.Element
	order      *list.List // front is most recently used
	clock      clockwork.Clock
}

type cacheEntry struct {
	key       string
	value     models.Feed
	expiresAt time.Time // zero means no expiry
}

// NewInMemoryCache creates an empty cache of DefaultMaxEntries using the real clock.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithClock(clockwork.NewRealClock(), DefaultMaxEntries)
}

// NewInMemoryCacheWithClock creates an empty cache holding at most maxEntries
// feeds, using clock for expiry. maxEntries <= 0 means DefaultMaxEntries.
func NewInMemoryCacheWithClock(clock clockwork.Clock, maxEntries int) *InMemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &InMemoryCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		clock:      clock,
	}
}

// Get returns (feed, true, nil) on hit and (zero, false, nil) on miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Feed, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return models.Feed{}, false, nil
	}
	entry := el.Value.(*cacheEntry)
	if !entry.expiresAt.IsZero() && c.clock.Now().After(entry.expiresAt) {
		c.removeLocked(el)
		return models.Feed{}, false, nil
	}
	c.order.MoveToFront(el)
	return entry.value, true, nil
}

// Set stores the feed under key, evicting the least recently used entry when full.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.Feed, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.clock.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return nil
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, value: value, expiresAt: expiresAt})
	for len(c.entries) > c.maxEntries {
		c.removeLocked(c.order.Back())
		observability.CacheEvictionsTotal.Inc()
	}
	return nil
}

func (c *InMemoryCache) removeLocked(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*cacheEntry).key)
}

// Len returns the number of stored entries, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
