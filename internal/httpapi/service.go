// Package httpapi wires BlobCache and IndexCache into the QueryService
// (spec.md §4.5) and exposes it over the HTTP surface spec.md §6
// enumerates, grounded on marmos91-dittofs's handlers/router split.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pioneerbio/labelcache/internal/blobcache"
	"github.com/pioneerbio/labelcache/internal/geometry"
	"github.com/pioneerbio/labelcache/internal/indexcache"
	"github.com/pioneerbio/labelcache/internal/metrics"
	"github.com/pioneerbio/labelcache/internal/workerpool"
)

// Service composes the disk and memory tiers into the single
// get-or-build-then-query flow spec.md §4.5 describes.
type Service struct {
	blobs   *blobcache.Cache
	indexes *indexcache.Cache
	pool    *workerpool.Pool
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService composes a QueryService from its two cache tiers.
func NewService(blobs *blobcache.Cache, indexes *indexcache.Cache, pool *workerpool.Pool, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{blobs: blobs, indexes: indexes, pool: pool, metrics: m, logger: logger}
}

// ensureIndexed resolves blobPath to a local file via the disk tier and
// guarantees an index exists for it, offloading the (possibly CPU-heavy)
// parse/build step to the worker pool so downloads aren't starved.
// indexcache.GetOrBuild itself skips rebuilding when the index is
// already resident, regardless of localPath.
func (s *Service) ensureIndexed(ctx context.Context, blobPath string) (*indexcache.Entry, error) {
	localPath, err := s.blobs.Get(ctx, blobPath)
	if err != nil {
		return nil, err
	}

	return workerpool.Submit(ctx, s.pool, func() (*indexcache.Entry, error) {
		return s.indexes.GetOrBuild(blobPath, localPath)
	})
}

// Query returns the labels of blobPath intersecting bbox, downloading
// and indexing it first if necessary. The R-tree query and the JSON
// encoding run on the worker pool, like the build.
func (s *Service) Query(ctx context.Context, blobPath string, bbox geometry.BBox) ([]byte, error) {
	if _, err := s.ensureIndexed(ctx, blobPath); err != nil {
		return nil, err
	}
	return workerpool.Submit(ctx, s.pool, func() ([]byte, error) {
		labels, err := s.indexes.Query(blobPath, bbox)
		if err != nil {
			return nil, err
		}
		return encodeLabelArray(labels)
	})
}

// Stats reports the combined health snapshot for GET /health.
func (s *Service) Stats() HealthStats {
	files, bytes := s.blobs.Stats()
	jobs, labels, mb := s.indexes.Stats()
	return HealthStats{
		Status:          "ok",
		CachedFiles:     files,
		CachedMB:        float64(bytes) / (1024 * 1024),
		IndexedJobs:     jobs,
		TotalLabels:     labels,
		TotalMemoryMB:   mb,
	}
}

// BlobStats reports per-blob status for GET /labels/stats: the cached
// file size in MB (0 if not cached) and whether it currently has a
// resident spatial index.
func (s *Service) BlobStats(blobPath string) (compressedSizeMB float64, isIndexed bool) {
	size, _ := s.blobs.EntrySize(blobPath)
	return float64(size) / (1024 * 1024), s.indexes.Contains(blobPath)
}

// Invalidate drops blobPath from the index tier; never errors
// (spec.md §4.2).
func (s *Service) Invalidate(blobPath string) {
	s.indexes.Invalidate(blobPath)
}

func encodeLabelArray(labels []json.RawMessage) ([]byte, error) {
	if labels == nil {
		labels = []json.RawMessage{}
	}
	return json.Marshal(labels)
}

// HealthStats is the GET /health response body.
type HealthStats struct {
	Status        string  `json:"status"`
	CachedFiles   int     `json:"cached_files"`
	CachedMB      float64 `json:"cached_mb"`
	IndexedJobs   int     `json:"indexed_jobs"`
	TotalLabels   int     `json:"total_labels"`
	TotalMemoryMB float64 `json:"total_memory_mb"`
}
