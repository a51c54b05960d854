// Package cache holds a bounded, TTL-evicted, in-memory cache of parse
// results keyed by file content — a fast xxhash lookup consulted only once
// the SHA-256 disk fingerprint spec §4.4 uses as the correctness-critical
// change test has said the bytes need parsing. A cache hit here just skips re-running
// Parser.ParseTops on bytes this process has already parsed; it is purely
// an optimization and is never consulted for correctness.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/loomkit/compileworker/internal/frontend"
)

const (
	// DefaultMaxEntries bounds memory use for very large workspaces.
	DefaultMaxEntries = 512
	// DefaultTTL expires entries from files that haven't been touched in
	// a while, so a long-running worker doesn't retain parse trees for
	// files the editor closed and forgot about.
	DefaultTTL = 30 * time.Minute
)

// Key is the fast content-hash key this cache is indexed by. It is
// deliberately distinct from the SHA-256 fingerprint filestate.DiskData
// carries: xxhash is for "have I already parsed these exact bytes in this
// process", not for the disk-change-detection invariant.
type Key uint64

// KeyOf hashes text with xxhash for use as a cache key.
func KeyOf(text string) Key {
	return Key(xxhash.Sum64String(text))
}

type entry struct {
	tree       *frontend.ParseTree
	errs       []frontend.ParseError
	lastAccess int64 // unix nano, atomic
}

// Cache is a bounded, concurrency-safe parse-result cache.
type Cache struct {
	entries sync.Map // map[Key]*entry

	maxEntries int
	ttl        time.Duration

	count int64 // approximate; atomic

	hits   int64
	misses int64
}

// New creates a Cache with the given bounds. Zero values fall back to the
// package defaults.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{maxEntries: maxEntries, ttl: ttl}
}

// Get returns the cached parse result for key, if present and not
// expired.
func (c *Cache) Get(key Key) (*frontend.ParseTree, []frontend.ParseError, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, nil, false
	}
	e := v.(*entry)
	if time.Since(time.Unix(0, atomic.LoadInt64(&e.lastAccess))) > c.ttl {
		c.entries.Delete(key)
		atomic.AddInt64(&c.count, -1)
		atomic.AddInt64(&c.misses, 1)
		return nil, nil, false
	}
	atomic.StoreInt64(&e.lastAccess, time.Now().UnixNano())
	atomic.AddInt64(&c.hits, 1)
	return e.tree, e.errs, true
}

// Put installs a parse result under key, evicting nothing proactively —
// Sweep (run periodically through RunSweeper, started by
// cmd/compileworker) reclaims expired and over-budget entries.
func (c *Cache) Put(key Key, tree *frontend.ParseTree, errs []frontend.ParseError) {
	e := &entry{tree: tree, errs: errs, lastAccess: time.Now().UnixNano()}
	if _, loaded := c.entries.LoadOrStore(key, e); !loaded {
		atomic.AddInt64(&c.count, 1)
	} else {
		c.entries.Store(key, e)
	}
}

// Sweep removes expired entries and, if the cache is still over its
// entry budget, evicts the least-recently-used remainder. Runs on a ticker
// via RunSweeper (started by cmd/compileworker), the same way the
// teacher's MetricsCache ran periodic cleanup.
func (c *Cache) Sweep() {
	now := time.Now()
	type scored struct {
		key        Key
		lastAccess int64
	}
	var live []scored

	c.entries.Range(func(k, v interface{}) bool {
		e := v.(*entry)
		if now.Sub(time.Unix(0, atomic.LoadInt64(&e.lastAccess))) > c.ttl {
			c.entries.Delete(k)
			atomic.AddInt64(&c.count, -1)
			return true
		}
		live = append(live, scored{key: k.(Key), lastAccess: atomic.LoadInt64(&e.lastAccess)})
		return true
	})

	if len(live) <= c.maxEntries {
		return
	}
	excess := len(live) - c.maxEntries
	// Simple partial selection: sort ascending by lastAccess, evict the
	// oldest `excess` entries. The cache is a pure optimization so an
	// O(n·excess) selection sweep on an occasional ticker is an acceptable
	// trade for simplicity over a full LRU list.
	for i := 0; i < len(live); i++ {
		for j := i + 1; j < len(live); j++ {
			if live[j].lastAccess < live[i].lastAccess {
				live[i], live[j] = live[j], live[i]
			}
		}
		if i >= excess {
			break
		}
	}
	for i := 0; i < excess; i++ {
		c.entries.Delete(live[i].key)
		atomic.AddInt64(&c.count, -1)
	}
}

// Stats reports hit/miss/entry counts for diagnostics.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int64
}

// Stats snapshots the cache's counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:    atomic.LoadInt64(&c.hits),
		Misses:  atomic.LoadInt64(&c.misses),
		Entries: atomic.LoadInt64(&c.count),
	}
}

// RunSweeper starts a goroutine that calls Sweep every interval until stop
// is closed.
func (c *Cache) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}
