package blobcache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pioneerbio/labelcache/internal/cacheerr"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int32
	data  map[string][]byte
	delay time.Duration
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{data: make(map[string][]byte)}
}

func (f *fakeFetcher) put(key string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = content
}

func (f *fakeFetcher) Fetch(ctx context.Context, key string, w io.Writer) error {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	content, ok := f.data[key]
	f.mu.Unlock()
	if !ok {
		return cacheerr.New(cacheerr.KindNotFound, "fake.Fetch", key, cacheerr.ErrNotFound)
	}
	_, err := w.Write(content)
	return err
}

func TestGetDownloadsAndCaches(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f := newFakeFetcher()
	f.put("a/b.json.gz", []byte("hello world"))

	c, err := New(dir, f, 1<<30)
	require.NoError(t, err)

	path, err := c.Get(context.Background(), "a/b.json.gz")
	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(content))

	fileCount, totalBytes := c.Stats()
	require.Equal(t, 1, fileCount)
	require.Equal(t, int64(len("hello world")), totalBytes)

	// Second Get is a cache hit, no further fetch call.
	path2, err := c.Get(context.Background(), "a/b.json.gz")
	require.NoError(t, err)
	require.Equal(t, path, path2)
	require.EqualValues(t, 1, atomic.LoadInt32(&f.calls))
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f := newFakeFetcher()
	c, err := New(dir, f, 1<<30)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "missing")
	require.Error(t, err)
	require.Equal(t, cacheerr.KindNotFound, cacheerr.KindOf(err))

	fileCount, _ := c.Stats()
	require.Zero(t, fileCount, "failed download must not register the key")
}

func TestSingleFlightOneDownloadPerKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f := newFakeFetcher()
	f.delay = 50 * time.Millisecond
	f.put("k", []byte("payload"))

	c, err := New(dir, f, 1<<30)
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Get(context.Background(), "k")
		}(i)
	}
	wg.Wait()

	for _, e := range errs {
		require.NoError(t, e)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&f.calls), "expected exactly one fetch for N concurrent callers")
}

func TestWaiterCancellationDoesNotAbortLeaderDownload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f := newFakeFetcher()
	f.delay = 100 * time.Millisecond
	f.put("k", []byte("payload"))

	c, err := New(dir, f, 1<<30)
	require.NoError(t, err)

	leaderDone := make(chan struct{})
	go func() {
		_, _ = c.Get(context.Background(), "k")
		close(leaderDone)
	}()
	time.Sleep(10 * time.Millisecond) // let the leader become the singleflight owner

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Get(ctx, "k")
	require.ErrorIs(t, err, context.Canceled, "a waiter whose ctx is already canceled must return promptly, not block on the leader's download")

	<-leaderDone
	fileCount, _ := c.Stats()
	require.Equal(t, 1, fileCount, "leader's download must still complete and populate the cache")
	require.EqualValues(t, 1, atomic.LoadInt32(&f.calls), "the canceled waiter must not trigger a second fetch")
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f := newFakeFetcher()
	payload := make([]byte, 800*1024)
	f.put("p", payload)
	f.put("q", payload)

	c, err := New(dir, f, 1<<20) // 1 MB cap, two 800 KB blobs cannot coexist
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "p")
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "q")
	require.NoError(t, err)

	fileCount, totalBytes := c.Stats()
	require.Equal(t, 1, fileCount)
	require.LessOrEqual(t, totalBytes, int64(1<<20))

	require.NoFileExists(t, filepath.Join(dir, "p"))
	require.FileExists(t, filepath.Join(dir, "q"))
}

func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f := newFakeFetcher()
	f.put("k", []byte("x"))
	c, err := New(dir, f, 1<<30)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "k")
	require.NoError(t, err)

	c.Remove("k")
	fileCount, totalBytes := c.Stats()
	require.Zero(t, fileCount)
	require.Zero(t, totalBytes)

	// Removing again (or removing a never-cached key) must not error or panic.
	c.Remove("k")
	c.Remove("never-cached")
}

func TestReconcileOrdersByAccessTimeOldestFirst(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old"), []byte("11"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "new"), []byte("2222"), 0o644))

	oldTime := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old"), oldTime, oldTime))

	f := newFakeFetcher()
	c, err := New(dir, f, 1<<30)
	require.NoError(t, err)

	fileCount, totalBytes := c.Stats()
	require.Equal(t, 2, fileCount)
	require.Equal(t, int64(6), totalBytes)

	key, _, ok := c.entries.Oldest()
	require.True(t, ok)
	require.Equal(t, "old", key)
}

func TestConcurrentGetsOnDistinctKeysDoNotRace(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f := newFakeFetcher()
	for i := 0; i < 10; i++ {
		f.put(fmt.Sprintf("key-%d", i), []byte("content"))
	}
	c, err := New(dir, f, 1<<30)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Get(context.Background(), fmt.Sprintf("key-%d", i))
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	fileCount, _ := c.Stats()
	require.Equal(t, 10, fileCount)
}
