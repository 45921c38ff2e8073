// Package blobcache implements a bounded on-disk LRU of raw blobs fetched
// from an ObjectFetcher, with single-flight download coordination so
// concurrent callers for the same key share one download.
//
// Download dedup uses golang.org/x/sync/singleflight, the teacher's own
// mechanism for this concern (core/cache/disk/blockcache.go's
// fetchGroup). A separate cache-wide mutex protects the LRU ordering
// and the running total-bytes accounting. Network I/O never runs under
// the cache-wide mutex.
package blobcache

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pioneerbio/labelcache/internal/cacheerr"
	"github.com/pioneerbio/labelcache/internal/lru"
	"github.com/pioneerbio/labelcache/internal/metrics"
)

// diskEntry tracks one cached file's size for the aggregate-bytes bound.
type diskEntry struct {
	size int64
}

// Cache is a bounded disk LRU of files fetched through an ObjectFetcher.
type Cache struct {
	dir      string
	maxBytes int64
	fetcher  ObjectFetcher
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu         sync.Mutex // guards entries and totalBytes
	entries    *lru.Ordered[string, diskEntry]
	totalBytes int64

	fetchGroup singleflight.Group // deduplicates concurrent downloads for the same key
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for download/eviction events. If nil
// (the default), a discard logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithMetrics attaches Prometheus counters/histograms for hits, misses,
// evictions, and download latency. Nil-safe: a Cache without this
// option simply skips instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a disk cache rooted at dir, backed by fetcher, bounded at
// maxBytes total. It performs startup reconciliation: every regular file
// under dir (other than *.tmp leftovers) is registered as a disk entry,
// ordered oldest-accessed first so it becomes the first eviction target.
func New(dir string, fetcher ObjectFetcher, maxBytes int64, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("blobcache: dir is empty")
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("blobcache: maxBytes must be positive")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobcache: create cache dir: %w", err)
	}

	c := &Cache{
		dir:      dir,
		maxBytes: maxBytes,
		fetcher:  fetcher,
		entries:  lru.New[string, diskEntry](),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.reconcile(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

func (c *Cache) recordHit() {
	if c.metrics != nil {
		c.metrics.BlobCacheHits.Inc()
	}
}

func (c *Cache) recordMiss() {
	if c.metrics != nil {
		c.metrics.BlobCacheMisses.Inc()
	}
}

type scannedFile struct {
	key        string
	size       int64
	accessedAt int64 // unix nanoseconds, for deterministic sort
}

// reconcile walks dir and rebuilds LRU tracking from files present on
// disk, ordered by access time ascending (oldest first = first eviction
// candidate). It never deletes anything; reconciliation is observational.
func (c *Cache) reconcile() error {
	var found []scannedFile
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".tmp" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr // skip unreadable entries rather than fail startup
		}
		rel, err := filepath.Rel(c.dir, path)
		if err != nil {
			return nil //nolint:nilerr
		}
		found = append(found, scannedFile{
			key:        filepath.ToSlash(rel),
			size:       info.Size(),
			accessedAt: accessTime(info).UnixNano(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("blobcache: reconcile: %w", err)
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].accessedAt == found[j].accessedAt {
			return found[i].key < found[j].key
		}
		return found[i].accessedAt < found[j].accessedAt
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range found {
		c.entries.Set(f.key, diskEntry{size: f.size})
		c.totalBytes += f.size
	}
	c.log().Info("blobcache reconciled", "files", len(found), "bytes", c.totalBytes)
	return nil
}

func (c *Cache) localPath(key string) string {
	return filepath.Join(c.dir, filepath.FromSlash(key))
}

// Get returns the local path to key's cached file, downloading it through
// the fetcher if absent. On success the key is registered (or bumped) as
// the most-recently-used disk entry.
//
// Concurrent callers for the same key share one download via
// fetchGroup.DoChan. If ctx is canceled while this call is merely
// awaiting another caller's in-flight download, only this call returns
// early (spec.md §5) — the leader's download keeps running under its
// own background context and still populates the cache for whoever
// asks next.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	local := c.localPath(key)

	if _, err := os.Stat(local); err == nil {
		c.bump(key)
		c.recordHit()
		return local, nil
	}

	c.recordMiss()
	resultCh := c.fetchGroup.DoChan(key, func() (any, error) {
		return nil, c.fetchAndStore(key, local)
	})

	select {
	case res := <-resultCh:
		if res.Err != nil {
			return "", res.Err
		}
		c.bump(key)
		return local, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// fetchAndStore downloads key to local and registers it as a disk
// entry. Runs once per concurrent batch of Get callers for key,
// regardless of how many of those callers' contexts are later
// canceled, since golang.org/x/sync/singleflight shares one invocation
// across all of them.
func (c *Cache) fetchAndStore(key, local string) error {
	// Re-check: another caller may have completed the download between
	// the fast-path stat above and becoming the singleflight leader.
	if _, err := os.Stat(local); err == nil {
		return nil
	}

	c.log().Info("blobcache downloading", "key", key)
	start := time.Now()
	size, err := c.download(context.Background(), key, local)
	if c.metrics != nil {
		c.metrics.DownloadDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.entries.Set(key, diskEntry{size: size})
	c.totalBytes += size
	c.mu.Unlock()

	c.evict()
	c.log().Info("blobcache cached", "key", key, "bytes", size)
	return nil
}

// bump registers key as MRU if it is already tracked; Get's fast path
// does this without holding the cache-wide mutex across any I/O.
func (c *Cache) bump(key string) {
	c.mu.Lock()
	c.entries.MoveToFront(key)
	c.mu.Unlock()
}

func (c *Cache) download(ctx context.Context, key, local string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return 0, cacheerr.New(cacheerr.KindIO, "blobcache.download", key, err)
	}

	tmp := local + ".tmp"
	f, err := os.Create(tmp) //nolint:gosec // path derived from the cache's own key namespace
	if err != nil {
		return 0, cacheerr.New(cacheerr.KindIO, "blobcache.download", key, err)
	}

	fetchErr := c.fetcher.Fetch(ctx, key, f)
	closeErr := f.Close()

	if fetchErr != nil {
		_ = os.Remove(tmp)
		if kind := cacheerr.KindOf(fetchErr); kind != cacheerr.KindUnknown {
			return 0, fetchErr
		}
		return 0, cacheerr.New(cacheerr.KindTransport, "blobcache.download", key, fetchErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return 0, cacheerr.New(cacheerr.KindIO, "blobcache.download", key, closeErr)
	}

	if err := os.Rename(tmp, local); err != nil {
		_ = os.Remove(tmp)
		return 0, cacheerr.New(cacheerr.KindIO, "blobcache.download", key, err)
	}

	info, err := os.Stat(local)
	if err != nil {
		return 0, cacheerr.New(cacheerr.KindIO, "blobcache.download", key, err)
	}
	return info.Size(), nil
}

// evict drops least-recently-used entries while the total exceeds
// maxBytes. Eviction failure on a single file is logged and skipped; the
// tracking record is forgotten regardless so accounting stays consistent.
func (c *Cache) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.totalBytes > c.maxBytes {
		key, entry, ok := c.entries.Oldest()
		if !ok {
			break
		}
		path := c.localPath(key)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.log().Warn("blobcache evict failed", "key", key, "error", err)
		} else {
			c.pruneEmptyDirs(filepath.Dir(path))
		}
		c.entries.Delete(key)
		c.totalBytes -= entry.size
		if c.metrics != nil {
			c.metrics.BlobCacheEvicted.Inc()
		}
		c.log().Info("blobcache evicted", "key", key)
	}
}

// pruneEmptyDirs removes now-empty parent directories up to, but
// excluding, the cache root.
func (c *Cache) pruneEmptyDirs(dir string) {
	for dir != c.dir && len(dir) > len(c.dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Remove is a best-effort delete of both the tracking record and the
// file. It never errors, matching the original's swallow-OSError remove.
func (c *Cache) Remove(key string) {
	local := c.localPath(key)
	_ = os.Remove(local)

	c.mu.Lock()
	if entry, ok := c.entries.Get(key); ok {
		c.totalBytes -= entry.size
		c.entries.Delete(key)
	}
	c.mu.Unlock()
}

// Stats reports the current file count and aggregate byte total.
func (c *Cache) Stats() (fileCount int, totalBytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len(), c.totalBytes
}

// EntrySize reports the cached size of key, without affecting MRU
// order. Used by the cheap /labels/stats probe (spec.md §6).
func (c *Cache) EntrySize(key string) (size int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries.Get(key)
	if !ok {
		return 0, false
	}
	return entry.size, true
}
