package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pioneerbio/labelcache/internal/cacheerr"
)

// FSFetcher fetches annotation blobs from a local directory tree,
// treating key as a slash-separated path relative to root. It backs
// tests and single-node/dev deployments where no object store is
// configured (SPEC_FULL.md §6.4).
type FSFetcher struct {
	root string
}

// NewFSFetcher creates a fetcher rooted at dir.
func NewFSFetcher(dir string) *FSFetcher {
	return &FSFetcher{root: dir}
}

// Fetch copies the file at key (relative to root) into w.
func (f *FSFetcher) Fetch(_ context.Context, key string, w io.Writer) error {
	path := filepath.Join(f.root, filepath.FromSlash(key))
	if !isWithinRoot(f.root, path) {
		return cacheerr.New(cacheerr.KindBadRequest, "fsfetcher.fetch", key, fmt.Errorf("key escapes root: %q", key))
	}

	src, err := os.Open(path) //nolint:gosec // path is joined+validated against root above
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cacheerr.New(cacheerr.KindNotFound, "fsfetcher.fetch", key, cacheerr.ErrNotFound)
		}
		return cacheerr.New(cacheerr.KindIO, "fsfetcher.fetch", key, err)
	}
	defer src.Close()

	if _, err := io.Copy(w, src); err != nil {
		return cacheerr.New(cacheerr.KindIO, "fsfetcher.fetch", key, fmt.Errorf("copy: %w", err))
	}
	return nil
}

func isWithinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
