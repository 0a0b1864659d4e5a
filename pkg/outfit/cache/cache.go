// Package cache provides the checksum-keyed content cache used while applying
// changes. Identical files are read from the source once; every other path
// with the same checksum is written from memory (or from the optional
// persistent Badger tier).
package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jamesainslie/outfit/pkg/outfit/logging"
	"github.com/jamesainslie/outfit/pkg/outfit/manifest"
	"github.com/jamesainslie/outfit/pkg/outfit/types"
)

// Defaults for Options.
const (
	DefaultMemoryBudget = 64 * types.MiB
	DefaultMaxEntrySize = 8 * types.MiB
)

// Options configures a Cache.
type Options struct {
	// Algorithm is the hash the cached checksums were computed with.
	// Persistent entries are verified with it on every read.
	Algorithm manifest.Algorithm

	// MemoryBudget bounds the bytes held in memory. Zero means
	// DefaultMemoryBudget; negative disables the memory tier.
	MemoryBudget int64

	// MaxEntrySize is the largest file either tier will hold.
	// Zero means DefaultMaxEntrySize.
	MaxEntrySize int64

	// Store is the optional persistent tier. The cache does not close it.
	Store *Store

	Logger *logging.Logger
}

// Validate checks the options and fills in defaults.
func (o *Options) Validate() error {
	if o.Algorithm == "" {
		o.Algorithm = manifest.AlgorithmSHA256
	}
	if !o.Algorithm.Valid() {
		return fmt.Errorf("unknown checksum algorithm %q", o.Algorithm)
	}
	if o.MemoryBudget == 0 {
		o.MemoryBudget = DefaultMemoryBudget
	}
	if o.MaxEntrySize == 0 {
		o.MaxEntrySize = DefaultMaxEntrySize
	}
	if o.MaxEntrySize < 0 {
		return fmt.Errorf("max entry size must not be negative: %d", o.MaxEntrySize)
	}
	o.Logger = logging.OrDiscard(o.Logger)
	return nil
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Stores      int64 `json:"stores"`
	Rejected    int64 `json:"rejected"`
	MemoryBytes int64 `json:"memory_bytes"`
}

// Cache is safe for concurrent use. Reads run in parallel; for each checksum
// only the first PutIfAbsent stores anything.
type Cache struct {
	opts Options

	mu      sync.RWMutex
	entries map[string][]byte
	claimed map[string]struct{}
	used    int64

	hits     atomic.Int64
	misses   atomic.Int64
	stores   atomic.Int64
	rejected atomic.Int64
}

// New returns an empty cache.
func New(opts Options) (*Cache, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Cache{
		opts:    opts,
		entries: make(map[string][]byte),
		claimed: make(map[string]struct{}),
	}, nil
}

// Algorithm returns the hash the cache's keys are computed with.
func (c *Cache) Algorithm() manifest.Algorithm {
	return c.opts.Algorithm
}

// MaxEntrySize returns the largest cacheable file size.
func (c *Cache) MaxEntrySize() int64 {
	return c.opts.MaxEntrySize
}

// Get returns the bytes cached for sum. The returned slice is shared and must
// not be modified.
func (c *Cache) Get(sum string) ([]byte, bool) {
	c.mu.RLock()
	data, ok := c.entries[sum]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return data, true
	}

	if data, ok := c.getPersistent(sum); ok {
		c.hits.Add(1)
		c.storeMemory(sum, data)
		return data, true
	}

	c.misses.Add(1)
	return nil, false
}

func (c *Cache) getPersistent(sum string) ([]byte, bool) {
	if c.opts.Store == nil {
		return nil, false
	}
	data, err := c.opts.Store.Get(c.opts.Algorithm, sum)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.opts.Logger.Warn("persistent cache read failed", "checksum", sum, "error", err)
		}
		return nil, false
	}
	if got := c.opts.Algorithm.Sum(data); got != sum {
		c.rejected.Add(1)
		c.opts.Logger.Warn("discarding corrupt cache entry", "checksum", sum, "actual", got)
		if err := c.opts.Store.Delete(c.opts.Algorithm, sum); err != nil {
			c.opts.Logger.Warn("deleting corrupt cache entry failed", "checksum", sum, "error", err)
		}
		return nil, false
	}
	return data, true
}

// PutIfAbsent stores data under sum unless another caller already did. It
// reports whether this call stored the entry. Oversized data is never stored.
// The caller must not modify data afterwards.
func (c *Cache) PutIfAbsent(sum string, data []byte) bool {
	if int64(len(data)) > c.opts.MaxEntrySize {
		return false
	}

	c.mu.Lock()
	if _, ok := c.claimed[sum]; ok {
		c.mu.Unlock()
		return false
	}
	c.claimed[sum] = struct{}{}
	c.mu.Unlock()

	c.storeMemory(sum, data)
	if c.opts.Store != nil {
		if err := c.opts.Store.Put(c.opts.Algorithm, sum, data); err != nil {
			c.opts.Logger.Warn("persistent cache write failed", "checksum", sum, "error", err)
		}
	}
	c.stores.Add(1)
	return true
}

func (c *Cache) storeMemory(sum string, data []byte) {
	if c.opts.MemoryBudget < 0 {
		return
	}
	size := int64(len(data))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.claimed[sum] = struct{}{}
	if _, ok := c.entries[sum]; ok || c.used+size > c.opts.MemoryBudget {
		return
	}
	c.entries[sum] = data
	c.used += size
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	used := c.used
	c.mu.RUnlock()
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Stores:      c.stores.Load(),
		Rejected:    c.rejected.Load(),
		MemoryBytes: used,
	}
}

// Clear drops every memory entry and, when present, every persistent entry.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.entries = make(map[string][]byte)
	c.claimed = make(map[string]struct{})
	c.used = 0
	c.mu.Unlock()

	if c.opts.Store != nil {
		if err := c.opts.Store.Clear(); err != nil {
			return fmt.Errorf("clearing persistent cache: %w", err)
		}
	}
	return nil
}
