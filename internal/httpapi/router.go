package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pioneerbio/labelcache/internal/metrics"
)

// AuthMiddleware is the narrow contract httpapi needs from
// internal/authmw, so this package doesn't depend on JWT/bearer
// details directly.
type AuthMiddleware interface {
	Handler(next http.Handler) http.Handler
}

// NewRouter builds the chi router for the label cache server: health,
// label query/stats/invalidate, and Prometheus metrics, grounded on
// 2lar-b2's router.Setup (RequestID/RealIP/Recoverer/CORS stack) and
// marmos91-dittofs's custom slog request logger.
func NewRouter(svc *Service, auth AuthMiddleware, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(logger, m))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(auth.Handler)

	r.Get("/health", svc.handleHealth)
	r.Get("/labels", svc.handleLabels)
	r.Get("/labels/stats", svc.handleLabelsStats)
	r.Post("/labels/invalidate", svc.handleInvalidate)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func requestLogger(logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", duration.String(),
			)

			if m != nil {
				status := strconv.Itoa(ww.Status())
				m.RequestsTotal.WithLabelValues(r.URL.Path, status).Inc()
				m.RequestDuration.WithLabelValues(r.URL.Path).Observe(duration.Seconds())
			}
		})
	}
}
