// Package indexcache implements the bounded in-memory LRU of spatial
// indexes (IndexEntry), each built by parsing one cached annotation
// file. Two eviction bounds are enforced jointly: entry count and
// aggregate estimated memory (spec.md §4.2).
package indexcache

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pioneerbio/labelcache/internal/cacheerr"
	"github.com/pioneerbio/labelcache/internal/geometry"
	"github.com/pioneerbio/labelcache/internal/lru"
	"github.com/pioneerbio/labelcache/internal/metrics"
)

// Cache is a bounded LRU of built spatial indexes.
type Cache struct {
	maxIndexes  int
	maxMemoryMB float64
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu            sync.Mutex
	entries       *lru.Ordered[string, *Entry]
	totalMemoryMB float64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for build/eviction events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithMetrics attaches Prometheus counters/histograms for hits,
// misses, evictions, and build latency. Nil-safe.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates an index cache bounded at maxIndexes entries and
// maxMemoryMB aggregate estimated memory.
func New(maxIndexes int, maxMemoryMB float64, opts ...Option) *Cache {
	c := &Cache{
		maxIndexes:  maxIndexes,
		maxMemoryMB: maxMemoryMB,
		entries:     lru.New[string, *Entry](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

func (c *Cache) recordHit() {
	if c.metrics != nil {
		c.metrics.IndexCacheHits.Inc()
	}
}

func (c *Cache) recordMiss() {
	if c.metrics != nil {
		c.metrics.IndexCacheMisses.Inc()
	}
}

// GetOrBuild returns the existing entry for key (bumped to MRU,
// last-accessed refreshed) or builds one from localPath.
//
// Building is not serialized by a per-key lock: concurrent first
// queries for the same key may redundantly parse. This is intentional
// (spec.md §4.2/§9) since parsing is CPU-bound and rare, not a
// correctness concern.
func (c *Cache) GetOrBuild(key, localPath string) (*Entry, error) {
	if entry, ok := c.bump(key); ok {
		c.recordHit()
		return entry, nil
	}
	c.recordMiss()

	c.log().Info("indexcache building", "key", key)
	start := time.Now()
	entry, err := build(key, localPath)
	if c.metrics != nil {
		c.metrics.BuildDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}

	if entry.MemoryEstimateMB > c.maxMemoryMB {
		c.log().Warn("indexcache reject: entry alone exceeds memory cap", "key", key, "mb", entry.MemoryEstimateMB)
		return nil, cacheerr.New(cacheerr.KindOutOfMemory, "indexcache.build", key, cacheerr.ErrOutOfMemory)
	}

	c.insert(entry)
	c.log().Info("indexcache built", "key", key, "labels", entry.LabelCount, "mb", entry.MemoryEstimateMB)
	return entry, nil
}

func (c *Cache) bump(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries.GetAndBump(key)
	if ok {
		entry.LastAccessed = time.Now()
	}
	return entry, ok
}

func (c *Cache) insert(entry *Entry) {
	c.mu.Lock()
	c.entries.Set(entry.Key, entry)
	c.totalMemoryMB += entry.MemoryEstimateMB
	c.mu.Unlock()
	c.evict()
}

// evict drops least-recently-used entries while either bound is
// violated and at least one entry remains, synchronously with insert.
func (c *Cache) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.entries.Len() > 0 && (c.entries.Len() > c.maxIndexes || c.totalMemoryMB > c.maxMemoryMB) {
		key, entry, ok := c.entries.Oldest()
		if !ok {
			return
		}
		c.entries.Delete(key)
		c.totalMemoryMB -= entry.MemoryEstimateMB
		if c.metrics != nil {
			c.metrics.IndexCacheEvicted.Inc()
		}
		c.log().Info("indexcache evicted", "key", key)
	}
}

// Query returns the labels of key whose stored bbox intersects bbox, in
// insertion order. If key is not present, returns an empty (nil)
// sequence — callers must have ensured the index was built (spec.md
// §4.2).
func (c *Cache) Query(key string, bbox geometry.BBox) ([]json.RawMessage, error) {
	entry, ok := c.bump(key)
	if !ok {
		return nil, nil
	}

	ids, err := entry.Tree.Intersection(bbox)
	if err != nil {
		return nil, cacheerr.New(cacheerr.KindParse, "indexcache.query", key, err)
	}

	// ids are unordered as returned by the spatial index; label ID is
	// position in the source sequence, so sorting ascending restores
	// insertion order (spec.md §4.2 query contract).
	sortInts(ids)

	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, entry.Labels[id])
	}
	return out, nil
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

// Invalidate drops key's entry if present. Never errors.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries.Get(key); ok {
		c.totalMemoryMB -= entry.MemoryEstimateMB
		c.entries.Delete(key)
	}
}

// Contains reports whether key currently has a resident index, without
// bumping MRU or refreshing last-accessed — used by the cheap
// /labels/stats probe (spec.md §9).
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries.Get(key)
	return ok
}

// Stats reports indexed entry count, total labels across all entries,
// and total estimated memory in MB.
func (c *Cache) Stats() (indexedCount, totalLabels int, totalMemoryMB float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.entries.Keys() {
		entry, _ := c.entries.Get(key)
		totalLabels += entry.LabelCount
	}
	return c.entries.Len(), totalLabels, c.totalMemoryMB
}
