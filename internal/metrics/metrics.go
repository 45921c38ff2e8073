// Package metrics defines the Prometheus instrumentation surface
// exposed at GET /metrics, grounded on marmos91-dittofs's per-subsystem
// metrics structs ("dittofs_gss_"-prefixed CounterVec/Gauge fields
// registered once via promauto).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks request, cache, and index counters for the label
// cache server. All metrics use the "labelcache_" prefix.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	BlobCacheHits    prometheus.Counter
	BlobCacheMisses  prometheus.Counter
	BlobCacheEvicted prometheus.Counter

	IndexCacheHits    prometheus.Counter
	IndexCacheMisses  prometheus.Counter
	IndexCacheEvicted prometheus.Counter

	DownloadDuration prometheus.Histogram
	BuildDuration    prometheus.Histogram
}

// New creates and registers the label cache server's metrics against
// registerer. Pass prometheus.DefaultRegisterer for production use and
// a fresh prometheus.NewRegistry() in tests to avoid collisions
// between parallel test registrations.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "labelcache_http_requests_total",
			Help: "Total HTTP requests by route and status.",
		}, []string{"route", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "labelcache_http_request_duration_seconds",
			Help: "HTTP request latency by route.",
		}, []string{"route"}),
		BlobCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "labelcache_blob_cache_hits_total",
			Help: "Disk-tier cache hits.",
		}),
		BlobCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "labelcache_blob_cache_misses_total",
			Help: "Disk-tier cache misses requiring a remote download.",
		}),
		BlobCacheEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "labelcache_blob_cache_evictions_total",
			Help: "Disk-tier entries evicted.",
		}),
		IndexCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "labelcache_index_cache_hits_total",
			Help: "Memory-tier index cache hits.",
		}),
		IndexCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "labelcache_index_cache_misses_total",
			Help: "Memory-tier index cache misses requiring a build.",
		}),
		IndexCacheEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "labelcache_index_cache_evictions_total",
			Help: "Memory-tier entries evicted.",
		}),
		DownloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "labelcache_download_duration_seconds",
			Help: "Remote object store download latency.",
		}),
		BuildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "labelcache_index_build_duration_seconds",
			Help: "Spatial index build latency.",
		}),
	}
}
