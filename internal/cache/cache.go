// Package cache provides a bounded, TTL-aware result cache with per-key
// single-flight computation.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/helixir/research-integrator/internal/domain"
)

// DefaultCapacity is used when Options.Capacity is not positive.
const DefaultCapacity = 1024

// Recorder receives hit/miss telemetry. observability.Metrics implements it.
type Recorder interface {
	RecordCacheLookup(cache string, hit bool)
	RecordCacheEviction(cache string)
}

type nopRecorder struct{}

func (nopRecorder) RecordCacheLookup(string, bool) {}
func (nopRecorder) RecordCacheEviction(string)     {}

// Options configures a Cache.
type Options[V any] struct {
	// Capacity bounds the number of entries; the least recently used entry
	// is evicted first.
	Capacity int

	// Name labels the cache in metrics and logs.
	Name string

	// Admit, when set, decides whether a computed value may be stored.
	// Refused values are still returned to the caller.
	Admit func(V) bool

	// Recorder receives hit/miss telemetry.
	Recorder Recorder

	// Now overrides the clock used for expiry.
	Now func() time.Time
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Stats is a point-in-time snapshot of cache counters. Evictions counts every
// entry dropped from the LRU, whether for capacity, expiry or Delete.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Computes  int64
	Errors    int64
	Size      int
}

// ComputeError wraps a failed computation. Failed computations are never stored.
type ComputeError struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e *ComputeError) Error() string {
	return fmt.Sprintf("%v for %q: %v", domain.ErrCacheComputeFailed, e.Key, e.Err)
}

// Unwrap exposes domain.ErrCacheComputeFailed and the computation's error.
func (e *ComputeError) Unwrap() []error {
	return []error{domain.ErrCacheComputeFailed, e.Err}
}

// Cache is a generic LRU cache with per-entry TTL. At most one computation per
// key runs at a time; concurrent GetOrCompute callers for that key share its
// result. It is safe for concurrent use.
type Cache[V any] struct {
	name     string
	entries  *lru.Cache[string, entry[V]]
	flight   singleflight.Group
	admit    func(V) bool
	recorder Recorder
	now      func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	computes  atomic.Int64
	errors    atomic.Int64
}

// New creates a Cache.
func New[V any](opts Options[V]) (*Cache[V], error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Cache[V]{
		name:     opts.Name,
		admit:    opts.Admit,
		recorder: opts.Recorder,
		now:      opts.Now,
	}

	entries, err := lru.NewWithEvict(opts.Capacity, func(string, entry[V]) {
		c.evictions.Add(1)
		c.recorder.RecordCacheEviction(c.name)
	})
	if err != nil {
		return nil, fmt.Errorf("create %s cache: %w", opts.Name, err)
	}
	c.entries = entries
	return c, nil
}

// Name returns the cache label.
func (c *Cache[V]) Name() string {
	return c.name
}

// Get returns the live value for key. Expired entries are removed and
// reported as misses.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.lookup(key)
	c.recorder.RecordCacheLookup(c.name, ok)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

func (c *Cache[V]) lookup(key string) (V, bool) {
	var zero V

	e, ok := c.entries.Get(key)
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		c.entries.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Set stores v under key for ttl, replacing any previous entry. A
// non-positive ttl removes the key instead.
func (c *Cache[V]) Set(key string, v V, ttl time.Duration) {
	if ttl <= 0 {
		c.entries.Remove(key)
		return
	}
	c.entries.Add(key, entry[V]{value: v, expiresAt: c.now().Add(ttl)})
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.entries.Remove(key)
}

// Len returns the number of stored entries, including expired ones that have
// not been read since they expired.
func (c *Cache[V]) Len() int {
	return c.entries.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Computes:  c.computes.Load(),
		Errors:    c.errors.Load(),
		Size:      c.entries.Len(),
	}
}

// GetOrCompute returns the live value for key, computing and storing it on a
// miss.
//
// Only one computation per key is in flight; other callers wait for it. The
// computation runs detached from any single caller's cancellation so that
// a waiter giving up does not fail the others. A caller whose ctx ends
// while waiting returns ctx.Err() and the computation carries on. Errors are
// returned as *ComputeError and are not stored.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) (V, error)) (V, error) {
	var zero V

	if v, ok := c.Get(key); ok {
		return v, nil
	}

	computeCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		// A racing caller may have filled the entry between our miss and
		// joining the flight.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}

		c.computes.Add(1)
		v, err := compute(computeCtx)
		if err != nil {
			c.errors.Add(1)
			return nil, &ComputeError{Key: key, Err: err}
		}

		if c.admit == nil || c.admit(v) {
			c.Set(key, v, ttl)
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	}
}
