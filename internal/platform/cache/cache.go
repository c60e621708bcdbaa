package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader fetches the value for a key on a cache miss.
type Loader[V any] func(ctx context.Context) (V, error)

// Stats is a point-in-time view of a cache.
type Stats struct {
	Name       string        `json:"name"`
	Size       int           `json:"size"`
	MaxEntries int           `json:"max_entries"`
	TTL        time.Duration `json:"ttl"`
	Hits       uint64        `json:"hits"`
	Misses     uint64        `json:"misses"`
	Evictions  uint64        `json:"evictions"`
	Expired    uint64        `json:"expired"`
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
	seq       uint64
}

// TTLCache is a goroutine-safe, size-bounded cache with lazy expiration.
// When full, the least recently inserted entry is evicted. Concurrent misses
// for one key share a single load.
type TTLCache[V any] struct {
	name       string
	ttl        time.Duration
	maxEntries int
	now         func() time.Time
	observe     func(hit bool)
	loadTimeout time.Duration

	mu      sync.RWMutex
	entries map[string]*entry[V]
	seq     uint64
	stats   Stats

	group singleflight.Group
}

// Option configures a TTLCache.
type Option func(*options)

type options struct {
	maxEntries  int
	now         func() time.Time
	observe     func(hit bool)
	loadTimeout time.Duration
}

// WithMaxEntries bounds the cache size. Zero or negative means unbounded.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithObserver registers a callback invoked on every lookup.
func WithObserver(fn func(hit bool)) Option {
	return func(o *options) { o.observe = fn }
}

// WithLoadTimeout bounds a shared GetOrLoad load. Zero means the load runs
// until the loader returns.
func WithLoadTimeout(d time.Duration) Option {
	return func(o *options) { o.loadTimeout = d }
}

// New creates a TTLCache. name is used in stats and metrics.
func New[V any](name string, ttl time.Duration, opts ...Option) *TTLCache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTLCache[V]{
		name:        name,
		ttl:         ttl,
		maxEntries:  o.maxEntries,
		now:         o.now,
		observe:     o.observe,
		loadTimeout: o.loadTimeout,
		entries:     make(map[string]*entry[V]),
	}
}

// Name returns the cache name.
func (c *TTLCache[V]) Name() string { return c.name }

// Get returns the live value for key. An expired entry is removed and
// reported as a miss.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && c.now().Before(e.expiresAt) {
		c.record(true)
		return e.value, true
	}
	if ok {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur == e {
			delete(c.entries, key)
			c.stats.Expired++
		}
		c.mu.Unlock()
	}
	c.record(false)
	var zero V
	return zero, false
}

// Set stores value under key with the cache TTL, evicting the oldest
// inserted entry when the cache is full.
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.seq++
	c.entries[key] = &entry[V]{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
		seq:       c.seq,
	}
}

func (c *TTLCache[V]) evictOldestLocked() {
	var (
		oldestKey string
		oldestSeq uint64
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.seq < oldestSeq {
			oldestKey, oldestSeq, found = k, e.seq, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
		c.stats.Evictions++
	}
}

// GetOrLoad returns the cached value for key, or calls load once for all
// concurrent callers missing the same key and caches a successful result.
// Errors are returned to every waiting caller and are not cached.
//
// The load is shared, so it runs detached from the cancellation of whichever
// caller started it: a caller that gives up returns ctx.Err() while the
// others keep waiting for the result. Values carried by ctx are kept.
func (c *TTLCache[V]) GetOrLoad(ctx context.Context, key string, load Loader[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		var zero V
		return zero, err
	}
	loadCtx := context.WithoutCancel(ctx)

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// A caller that lost the race may find the value already stored.
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && c.now().Before(e.expiresAt) {
			return e.value, nil
		}
		lctx := loadCtx
		if c.loadTimeout > 0 {
			var cancel context.CancelFunc
			lctx, cancel = context.WithTimeout(loadCtx, c.loadTimeout)
			defer cancel()
		}
		v, err := load(lctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	}
}

// Delete removes key.
func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries. Counters are kept.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
}

// CleanExpired removes every expired entry and returns how many were removed.
func (c *TTLCache[V]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	c.stats.Expired += uint64(removed)
	return removed
}

// Stats returns a snapshot of the cache counters.
func (c *TTLCache[V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Name = c.name
	s.Size = len(c.entries)
	s.MaxEntries = c.maxEntries
	s.TTL = c.ttl
	return s
}

// StartCleanup runs a background goroutine that periodically removes expired
// entries. It stops when the context is cancelled.
func (c *TTLCache[V]) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.CleanExpired()
			}
		}
	}()
}

func (c *TTLCache[V]) record(hit bool) {
	c.mu.Lock()
	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.mu.Unlock()
	if c.observe != nil {
		c.observe(hit)
	}
}
