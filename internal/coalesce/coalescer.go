// Package coalesce deduplicates concurrent identical reads and serves recent
// results from a short-lived cache.
package coalesce

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Producer performs the underlying call for a key.
type Producer func(ctx context.Context) (any, error)

// CacheEntry is a successful result kept for TTL.
type CacheEntry struct {
	Value     any
	CreatedAt time.Time
	TTL       time.Duration
}

// ValidAt reports whether the entry may be served at now.
func (e *CacheEntry) ValidAt(now time.Time) bool {
	return now.Before(e.CreatedAt.Add(e.TTL))
}

type flight struct {
	stale bool
}

// Coalescer runs at most one producer per key at a time and caches successes.
type Coalescer struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
	// inflight holds the running producer per key. Invalidation marks the
	// matching flights stale so their results are returned but not stored.
	inflight map[string]*flight

	group singleflight.Group
	now   func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	shared    atomic.Int64
	failures  atomic.Int64
	abandoned atomic.Int64
	pending   atomic.Int64

	logger zerolog.Logger
}

type Option func(*Coalescer)

func WithClock(now func() time.Time) Option {
	return func(c *Coalescer) {
		c.now = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coalescer) {
		c.logger = logger
	}
}

func New(opts ...Option) *Coalescer {
	c := &Coalescer{
		entries:  make(map[string]*CacheEntry),
		inflight: make(map[string]*flight),
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute returns the cached value for key when still valid, joins an in-flight
// call for key when there is one, and otherwise runs producer exactly once for
// every caller that arrives meanwhile. Only successes are cached; ttl <= 0
// disables caching for the call. A caller whose ctx ends stops waiting with
// ctx.Err() while the producer keeps running for the others.
func (c *Coalescer) Execute(ctx context.Context, key string, ttl time.Duration, producer Producer) (any, error) {
	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		c.logger.Debug().Str("key", key).Msg("cache hit")
		return v, nil
	}
	c.misses.Add(1)

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// A call that finished between lookup and DoChan already stored its value.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}

		f := c.begin(key)
		c.pending.Add(1)
		defer c.pending.Add(-1)

		v, err := run(detached, producer)
		var e *CacheEntry
		if err == nil && ttl > 0 {
			e = &CacheEntry{Value: v, CreatedAt: c.now(), TTL: ttl}
		}
		c.finish(key, f, e)
		if err != nil {
			c.failures.Add(1)
			return nil, err
		}
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.shared.Add(1)
		}
		return res.Val, res.Err
	case <-ctx.Done():
		c.abandoned.Add(1)
		return nil, ctx.Err()
	}
}

func run(ctx context.Context, producer Producer) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = fmt.Errorf("coalesce: producer panic: %v", r)
		}
	}()
	return producer(ctx)
}

func (c *Coalescer) lookup(key string) (any, bool) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !e.ValidAt(now) {
		return nil, false
	}
	return e.Value, true
}

func (c *Coalescer) begin(key string) *flight {
	f := &flight{}
	c.mu.Lock()
	c.inflight[key] = f
	c.mu.Unlock()
	return f
}

// finish retires f and stores e unless f was invalidated while running.
func (c *Coalescer) finish(key string, f *flight, e *CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight[key] == f {
		delete(c.inflight, key)
	}
	if e == nil {
		return
	}
	if f.stale {
		c.logger.Debug().Str("key", key).Msg("result dropped, cache invalidated while in flight")
		return
	}
	c.entries[key] = e
}

// Invalidate drops the cached entry for key. An in-flight call for key keeps
// serving the callers already joined to it, including later ones, but does not
// store its result.
func (c *Coalescer) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	if f, ok := c.inflight[key]; ok {
		f.stale = true
	}
	c.mu.Unlock()
}

// InvalidatePrefix drops every cached entry whose key starts with prefix.
func (c *Coalescer) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	n := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			n++
		}
	}
	for key, f := range c.inflight {
		if strings.HasPrefix(key, prefix) {
			f.stale = true
		}
	}
	c.mu.Unlock()
	return n
}

// Clear drops every cached entry.
func (c *Coalescer) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*CacheEntry)
	for _, f := range c.inflight {
		f.stale = true
	}
	c.mu.Unlock()
}

// Sweep removes expired entries and returns how many were removed.
func (c *Coalescer) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, e := range c.entries {
		if !e.ValidAt(now) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (c *Coalescer) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats is a point-in-time capture of coalescer statistics.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	// Shared counts callers that received a result produced for several callers.
	Shared    int64 `json:"shared"`
	Failures  int64 `json:"failures"`
	Abandoned int64 `json:"abandoned"`
	Entries   int   `json:"entries"`
	Pending   int64 `json:"pending"`
}

func (c *Coalescer) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Shared:    c.shared.Load(),
		Failures:  c.failures.Load(),
		Abandoned: c.abandoned.Load(),
		Entries:   c.Len(),
		Pending:   c.pending.Load(),
	}
}
