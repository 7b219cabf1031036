// Package cache holds classification results keyed by image contents.
//
// A Cache guarantees at most one computation in flight per key: the first
// caller to miss starts the computation and later callers for the same key
// wait for its outcome. Counters and the entry map share one mutex so a
// Stats snapshot always matches the entries actually held.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
)

// Outcome tells a caller of Do how its value was obtained.
type Outcome int

const (
	// Miss means this caller ran the computation.
	Miss Outcome = iota
	// Hit means a stored value was returned.
	Hit
	// Shared means the caller joined a computation started by someone else.
	Shared
	// Failed means the computation returned an error. Nothing was stored.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Miss:
		return "miss"
	case Hit:
		return "hit"
	case Shared:
		return "shared"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type entry[V any] struct {
	key   Key
	value V
}

// call is the in-flight marker parked in place of a missing entry.
type call[V any] struct {
	done  chan struct{}
	value V
	err   error
}

type Cache[V any] struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[Key]*list.Element
	order      *list.List // front is most recently used
	inflight   map[Key]*call[V]

	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates a cache. maxEntries <= 0 means unbounded; otherwise the least
// recently used entry is evicted once the bound is exceeded.
func New[V any](maxEntries int) *Cache[V] {
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &Cache[V]{
		maxEntries: maxEntries,
		entries:    make(map[Key]*list.Element),
		order:      list.New(),
		inflight:   make(map[Key]*call[V]),
	}
}

// Get returns the stored value for key and records a hit or a miss.
// It never waits for an in-flight computation.
func (c *Cache[V]) Get(key Key) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.hits++
		c.order.MoveToFront(el)
		return el.Value.(*entry[V]).value, true
	}
	c.misses++
	var zero V
	return zero, false
}

// Put stores value under key, replacing any previous value.
func (c *Cache[V]) Put(key Key, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, value)
}

// Stats returns the counters as one consistent snapshot.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Size:      uint64(len(c.entries)),
		Evictions: c.evictions,
	}
}

// Do returns the value for key, computing it with fn on a miss.
//
// Concurrent callers for the same key share one invocation of fn. fn runs
// outside the cache lock and detached from ctx: if ctx ends first only this
// caller's wait is abandoned and the computation still completes and fills
// the cache for everyone else. Errors from fn are handed to every waiter and
// never stored, so the next caller retries.
func (c *Cache[V]) Do(ctx context.Context, key Key, fn func(context.Context) (V, error)) (V, Outcome, error) {
	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.hits++
		c.order.MoveToFront(el)
		v := el.Value.(*entry[V]).value
		c.mu.Unlock()
		return v, Hit, nil
	}
	c.misses++

	outcome := Shared
	cl, ok := c.inflight[key]
	if !ok {
		outcome = Miss
		cl = &call[V]{done: make(chan struct{})}
		c.inflight[key] = cl
		go c.compute(context.WithoutCancel(ctx), key, cl, fn)
	}
	c.mu.Unlock()

	select {
	case <-cl.done:
		if cl.err != nil {
			var zero V
			return zero, Failed, cl.err
		}
		return cl.value, outcome, nil
	case <-ctx.Done():
		var zero V
		return zero, outcome, ctx.Err()
	}
}

// InFlight reports how many keys are currently being computed.
func (c *Cache[V]) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

func (c *Cache[V]) compute(ctx context.Context, key Key, cl *call[V], fn func(context.Context) (V, error)) {
	defer func() {
		if r := recover(); r != nil {
			cl.err = fmt.Errorf("cache: computation for %s panicked: %v", key.Short(), r)
		}

		c.mu.Lock()
		delete(c.inflight, key)
		if cl.err == nil {
			c.store(key, cl.value)
		}
		c.mu.Unlock()
		close(cl.done)
	}()

	cl.value, cl.err = fn(ctx)
}

// store must be called with mu held.
func (c *Cache[V]) store(key Key, value V) {
	if el, ok := c.entries[key]; ok {
		el.Value.(*entry[V]).value = value
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&entry[V]{key: key, value: value})

	if c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry[V]).key)
		c.evictions++
	}
}
