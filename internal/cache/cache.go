package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Cache holds hot, expendable copies of store data. Entries may be
// dropped at any time and rebuilt from the relational store without
// data loss.
//
// Expiration is sliding: each access re-arms the TTL, bounded by an
// absolute lifetime cap so staleness cannot persist indefinitely even
// under constant access.
type Cache struct {
	inner       *ristretto.Cache
	slidingTTL  time.Duration
	absoluteTTL time.Duration
}

// entry wraps a cached value with its first-set time, which anchors
// the absolute lifetime cap across TTL re-arms.
type entry struct {
	value    interface{}
	firstSet time.Time
}

// Options configures New.
type Options struct {
	MaxCost     int64
	NumCounters int64
	SlidingTTL  time.Duration
	AbsoluteTTL time.Duration
}

// New creates a cache.
func New(opts Options) (*Cache, error) {
	if opts.MaxCost <= 0 {
		opts.MaxCost = 10000
	}
	if opts.NumCounters <= 0 {
		opts.NumCounters = opts.MaxCost * 10
	}
	if opts.SlidingTTL <= 0 {
		opts.SlidingTTL = 15 * time.Minute
	}
	if opts.AbsoluteTTL < opts.SlidingTTL {
		opts.AbsoluteTTL = opts.SlidingTTL
	}

	inner, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: opts.NumCounters,
		MaxCost:     opts.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	return &Cache{
		inner:       inner,
		slidingTTL:  opts.SlidingTTL,
		absoluteTTL: opts.AbsoluteTTL,
	}, nil
}

// Get returns the cached value for key, re-arming its sliding TTL.
// Entries past their absolute lifetime are dropped regardless of use.
func (c *Cache) Get(key string) (interface{}, bool) {
	v, ok := c.inner.Get(key)
	if !ok {
		return nil, false
	}
	e, ok := v.(entry)
	if !ok {
		return nil, false
	}

	age := time.Since(e.firstSet)
	if age >= c.absoluteTTL {
		c.inner.Del(key)
		return nil, false
	}

	// Slide the TTL forward, but never past the absolute cap.
	ttl := c.slidingTTL
	if remaining := c.absoluteTTL - age; remaining < ttl {
		ttl = remaining
	}
	c.inner.SetWithTTL(key, e, 1, ttl)

	return e.value, true
}

// Set stores value under key with the sliding TTL. The write is
// synchronous with respect to subsequent Gets.
func (c *Cache) Set(key string, value interface{}) {
	c.inner.SetWithTTL(key, entry{value: value, firstSet: time.Now()}, 1, c.slidingTTL)
	// Ristretto applies writes asynchronously; wait so read-through
	// callers observe their own write, as the write-through contract
	// requires.
	c.inner.Wait()
}

// Invalidate removes key. Invalidating an absent key is a no-op.
func (c *Cache) Invalidate(key string) {
	c.inner.Del(key)
}

// Close releases the cache's internal resources.
func (c *Cache) Close() {
	c.inner.Close()
}
