package cache

import (
	"container/list"
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	// ErrInvalidMaxSize is returned when the max size parameter is invalid.
	ErrInvalidMaxSize = errors.New("max size must be at least 1")
	// ErrInvalidTTL is returned when the TTL parameter is invalid.
	ErrInvalidTTL = errors.New("ttl must be greater than zero")
)

// entry is one memoized result. createdAt drives TTL expiry and never
// changes after insertion; recency is tracked by position in the order list.
type entry struct {
	key       string
	value     any
	createdAt time.Time
}

// Cache memoizes the results of idempotent operations, keyed by fingerprint,
// with a hard entry cap (LRU eviction) and per-entry TTL. Expiry is lazy:
// an expired entry still occupies capacity until the next lookup finds it or
// the LRU policy evicts it.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently touched
	maxSize int
	ttl     time.Duration

	hits   atomic.Int64
	misses atomic.Int64

	now    func() time.Time
	logger *zap.Logger
}

// Stats is a snapshot of cache effectiveness counters.
type Stats struct {
	Size           int     `json:"size"`
	MaxSize        int     `json:"max_size"`
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	TotalRequests  int64   `json:"total_requests"`
	HitRatePercent float64 `json:"hit_rate_percent"`
	TTLSeconds     float64 `json:"ttl_seconds"`
}

// New creates a Cache holding at most maxSize entries, each valid for ttl.
func New(maxSize int, ttl time.Duration, logger *zap.Logger) (*Cache, error) {
	if maxSize < 1 {
		return nil, ErrInvalidMaxSize
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}, nil
}

// GetOrCompute returns the cached value for key, or invokes compute and
// caches its result. The internal lock is released while compute runs, so
// misses on unrelated keys never serialize behind a remote call. Concurrent
// misses for the same key are NOT deduplicated: both compute, and the later
// insert overwrites the earlier one. Errors from compute propagate to the
// caller and insert nothing.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	now := c.now()
	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*entry)
		if now.Sub(ent.createdAt) < c.ttl {
			c.order.MoveToFront(el)
			c.mu.Unlock()
			c.hits.Inc()
			c.logger.Debug("cache hit", zap.String("key", shortKey(key)))
			return ent.value, nil
		}
		c.removeLocked(el)
		c.logger.Debug("cache entry expired", zap.String("key", shortKey(key)))
	}
	c.mu.Unlock()
	c.misses.Inc()

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.insertLocked(key, value)
	c.mu.Unlock()
	return value, nil
}

// insertLocked stores key, refreshing recency and creation time if it is
// already present, and evicts the least recently touched entry when the
// store overflows. Callers must hold mu.
func (c *Cache) insertLocked(key string, value any) {
	now := c.now()
	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*entry)
		ent.value = value
		ent.createdAt = now
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&entry{key: key, value: value, createdAt: now})

	if c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.removeLocked(oldest)
			c.logger.Debug("cache evicted oldest entry",
				zap.String("key", shortKey(oldest.Value.(*entry).key)))
		}
	}
}

// removeLocked unlinks an element from both structures. Callers must hold mu.
func (c *Cache) removeLocked(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*entry).key)
}

// Invalidate removes a single entry. Missing keys are a no-op.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
		c.logger.Info("cache invalidated", zap.String("key", shortKey(key)))
	}
}

// InvalidateAll clears the whole store. Counters are preserved.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.logger.Info("cache cleared")
}

// Stats reports cache size and hit/miss counters. The hit rate is rounded
// to two decimal places.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	var rate float64
	if total > 0 {
		rate = math.Round(float64(hits)/float64(total)*100*100) / 100
	}

	return Stats{
		Size:           size,
		MaxSize:        c.maxSize,
		Hits:           hits,
		Misses:         misses,
		TotalRequests:  total,
		HitRatePercent: rate,
		TTLSeconds:     c.ttl.Seconds(),
	}
}

// shortKey truncates fingerprints for logging.
func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
