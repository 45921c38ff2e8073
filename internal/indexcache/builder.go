package indexcache

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/pioneerbio/labelcache/internal/cacheerr"
	"github.com/pioneerbio/labelcache/internal/geometry"
	"github.com/pioneerbio/labelcache/internal/spatial"
)

const (
	// compressedMemoryMultiplier and plainMemoryMultiplier are the
	// heuristic constants from spec.md §4.2. They are load-bearing only
	// for eviction pacing, not exact accounting.
	compressedMemoryMultiplier = 8.0
	plainMemoryMultiplier      = 2.0
	bytesPerMB                 = 1024 * 1024
)

// documentShape accepts either a top-level object with a "labels" field
// or a bare top-level array, per spec.md §4.4 step 2.
type documentShape struct {
	Labels []json.RawMessage `json:"labels"`
}

// build parses localPath (transparently decompressing .gz files) and
// constructs a fresh spatial index over the labels it contains.
func build(key, localPath string) (*Entry, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, cacheerr.New(cacheerr.KindIO, "indexbuilder.build", key, err)
	}

	labels, err := readLabels(localPath)
	if err != nil {
		return nil, err
	}

	tree := spatial.New()
	for i, raw := range labels {
		bb, ok := geometry.Extract(raw)
		if !ok {
			continue
		}
		if err := tree.Insert(i, bb); err != nil {
			return nil, cacheerr.New(cacheerr.KindParse, "indexbuilder.build", key, fmt.Errorf("insert label %d: %w", i, err))
		}
	}

	return &Entry{
		Key:              key,
		Labels:           labels,
		Tree:             tree,
		LabelCount:       len(labels),
		MemoryEstimateMB: memoryEstimateMB(info.Size(), isCompressed(localPath)),
		LastAccessed:     time.Now(),
	}, nil
}

func isCompressed(localPath string) bool {
	return strings.EqualFold(filepath.Ext(localPath), ".gz")
}

func memoryEstimateMB(fileBytes int64, compressed bool) float64 {
	mult := plainMemoryMultiplier
	if compressed {
		mult = compressedMemoryMultiplier
	}
	return float64(fileBytes) * mult / bytesPerMB
}

func readLabels(localPath string) ([]json.RawMessage, error) {
	f, err := os.Open(localPath) //nolint:gosec // path derived from the cache's own key namespace
	if err != nil {
		return nil, cacheerr.New(cacheerr.KindIO, "indexbuilder.read", localPath, err)
	}
	defer f.Close()

	var r io.Reader = f
	if isCompressed(localPath) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, cacheerr.New(cacheerr.KindIO, "indexbuilder.read", localPath, fmt.Errorf("open gzip stream: %w", err))
		}
		defer gz.Close()
		r = gz
	}

	dec := json.NewDecoder(r)
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, cacheerr.New(cacheerr.KindParse, "indexbuilder.read", localPath, fmt.Errorf("decode json: %w", err))
	}

	trimmed := strings.TrimLeft(string(raw), " \t\r\n")
	if strings.HasPrefix(trimmed, "[") {
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, cacheerr.New(cacheerr.KindParse, "indexbuilder.read", localPath, fmt.Errorf("decode label array: %w", err))
		}
		return arr, nil
	}

	var doc documentShape
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, cacheerr.New(cacheerr.KindParse, "indexbuilder.read", localPath, fmt.Errorf("decode label document: %w", err))
	}
	return doc.Labels, nil
}
