// Command labelcached runs the annotation label cache server: a
// two-tier cache (disk blobs, in-memory spatial indexes) fronted by an
// HTTP query surface, per spec.md.
//
// Wiring follows marmos91-dittofs's cmd/dittofs/commands/start.go:
// load config, build the dependency graph bottom-up, start the HTTP
// server in a goroutine, and wait on either a shutdown signal or a
// fatal server error for graceful shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pioneerbio/labelcache/internal/authmw"
	"github.com/pioneerbio/labelcache/internal/blobcache"
	labelconfig "github.com/pioneerbio/labelcache/internal/config"
	"github.com/pioneerbio/labelcache/internal/httpapi"
	"github.com/pioneerbio/labelcache/internal/indexcache"
	"github.com/pioneerbio/labelcache/internal/metrics"
	"github.com/pioneerbio/labelcache/internal/objectstore"
	"github.com/pioneerbio/labelcache/internal/workerpool"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional; env vars and defaults otherwise)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("labelcached exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := labelconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	fetcher, err := newObjectFetcher(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("build object fetcher: %w", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	blobs, err := blobcache.New(cfg.CacheDir, fetcher, cfg.CacheMaxSizeBytes(),
		blobcache.WithLogger(logger), blobcache.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("build blob cache: %w", err)
	}

	indexes := indexcache.New(cfg.MaxIndexedJobs, cfg.MaxIndexMemoryMB,
		indexcache.WithLogger(logger), indexcache.WithMetrics(m))
	pool := workerpool.New(cfg.WorkerPoolSize)

	svc := httpapi.NewService(blobs, indexes, pool, m, logger)
	auth := authmw.New(cfg.APIKey, cfg.JWTSecret, cfg.JWTIssuer, cfg.OpenPaths)
	router := httpapi.NewRouter(svc, auth, m, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverDone := make(chan error, 1)
	go func() {
		logger.Info("labelcached listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
			return
		}
		serverDone <- nil
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		<-serverDone
		logger.Info("labelcached stopped")
		return nil
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newObjectFetcher(ctx context.Context, cfg *labelconfig.Config) (blobcache.ObjectFetcher, error) {
	switch cfg.ObjectStoreProvider {
	case "fs":
		return objectstore.NewFSFetcher(cfg.ObjectStoreConnection), nil
	case "s3":
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		return objectstore.NewS3Fetcher(client, cfg.ObjectStoreContainer), nil
	default:
		return nil, fmt.Errorf("unsupported object_store_provider %q", cfg.ObjectStoreProvider)
	}
}
