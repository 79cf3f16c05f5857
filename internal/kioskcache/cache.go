// Package kioskcache caches upstream kiosk metadata by quantized search area.
// It never holds status: that is recomputed from reports on every query.
package kioskcache

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/kiosk-status/internal/model"
)

const (
	// DefaultTTL is how long fetched metadata is served without refetching.
	DefaultTTL = 5 * time.Minute
	// DefaultPrecision is the number of decimals coordinates are rounded to.
	DefaultPrecision = 3
)

// FetchFunc loads kiosk metadata from the upstream provider.
type FetchFunc func(ctx context.Context) ([]model.Kiosk, error)

// Cache is a concurrent-safe TTL cache of kiosk metadata.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]entry
	ttl       time.Duration
	precision int
	group     singleflight.Group
	hits      atomic.Int64
	misses    atomic.Int64

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

type entry struct {
	kiosks    []model.Kiosk
	fetchedAt time.Time
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries int     `json:"entries"`
	TTLSecs float64 `json:"ttl_secs"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithPrecision overrides DefaultPrecision.
func WithPrecision(decimals int) Option {
	return func(c *Cache) {
		if decimals >= 0 {
			c.precision = decimals
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.nowFunc = now
	}
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:   make(map[string]entry),
		ttl:       DefaultTTL,
		precision: DefaultPrecision,
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds the cache key for a search area. Nearby queries within the
// rounding precision share a key.
func (c *Cache) Key(lat, lng float64, radius int) string {
	return fmt.Sprintf("%.*f_%.*f_%d", c.precision, quantize(lat, c.precision), c.precision, quantize(lng, c.precision), radius)
}

// quantize rounds half away from zero and folds -0 into 0 so both render
// the same key.
func quantize(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	q := math.Round(v*p) / p
	if q == 0 {
		return 0
	}
	return q
}

// Lookup returns cached metadata for the area. An absent or expired entry
// is a miss.
func (c *Cache) Lookup(lat, lng float64, radius int) ([]model.Kiosk, bool) {
	key := c.Key(lat, lng, radius)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.nowFunc().Sub(e.fetchedAt) >= c.ttl {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return cloneKiosks(e.kiosks), true
}

// Store records metadata for the area, replacing any prior entry.
func (c *Cache) Store(lat, lng float64, radius int, kiosks []model.Kiosk) {
	key := c.Key(lat, lng, radius)
	e := entry{kiosks: cloneKiosks(kiosks), fetchedAt: c.nowFunc()}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// GetOrFetch serves the area from cache, or calls fetch on a miss.
// Concurrent misses on one key share a single fetch. The fetch is detached
// from ctx: if the caller gives up, the fetch still completes and warms the
// cache, but GetOrFetch returns ctx.Err() immediately.
func (c *Cache) GetOrFetch(ctx context.Context, lat, lng float64, radius int, fetch FetchFunc) ([]model.Kiosk, error) {
	if kiosks, ok := c.Lookup(lat, lng, radius); ok {
		return kiosks, nil
	}

	key := c.Key(lat, lng, radius)
	detached := context.WithoutCancel(ctx)

	ch := c.group.DoChan(key, func() (any, error) {
		kiosks, err := fetch(detached)
		if err != nil {
			return nil, err
		}
		c.Store(lat, lng, radius, kiosks)
		return kiosks, nil
	})

	select {
	case <-ctx.Done():
		zap.L().Debug("kioskcache: caller gave up, fetch continues", zap.String("key", key))
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			zap.L().Debug("kioskcache: shared in-flight fetch", zap.String("key", key))
		}
		return cloneKiosks(res.Val.([]model.Kiosk)), nil
	}
}

// Stats returns cache performance statistics.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Entries: entries,
		TTLSecs: c.ttl.Seconds(),
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

func cloneKiosks(in []model.Kiosk) []model.Kiosk {
	if in == nil {
		return []model.Kiosk{}
	}
	return append([]model.Kiosk(nil), in...)
}
