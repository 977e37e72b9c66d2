// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	catalogPagesTotal     prometheus.Counter
	listingsTotal         *prometheus.CounterVec
	sessionRotationsTotal prometheus.Counter
	cacheLookupsTotal     *prometheus.CounterVec
	batchFlushesTotal     prometheus.Counter

	once sync.Once
)

// Init registers the collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		catalogPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "ria_catalog_pages_total",
			Help: "Total catalog pages crawled.",
		})
		listingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ria_listings_total",
			Help: "Listings processed, labeled by outcome.",
		}, []string{"outcome"})
		sessionRotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "ria_session_rotations_total",
			Help: "Proxy rotations triggered by denied navigations.",
		})
		cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ria_cache_lookups_total",
			Help: "Listing cache lookups, labeled hit or miss.",
		}, []string{"result"})
		batchFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "ria_batch_flushes_total",
			Help: "Batches flushed to the output sink.",
		})
	})
}

// CatalogPage counts one crawled catalog page.
func CatalogPage() {
	if catalogPagesTotal != nil {
		catalogPagesTotal.Inc()
	}
}

// Listing counts a processed listing by outcome: accepted, duplicate,
// skipped, or failed.
func Listing(outcome string) {
	if listingsTotal != nil {
		listingsTotal.WithLabelValues(outcome).Inc()
	}
}

// Rotation counts one session rotation.
func Rotation() {
	if sessionRotationsTotal != nil {
		sessionRotationsTotal.Inc()
	}
}

// CacheLookup counts a cache hit or miss.
func CacheLookup(result string) {
	if cacheLookupsTotal != nil {
		cacheLookupsTotal.WithLabelValues(result).Inc()
	}
}

// BatchFlush counts one sink flush.
func BatchFlush() {
	if batchFlushesTotal != nil {
		batchFlushesTotal.Inc()
	}
}

// Serve exposes /metrics on addr until ctx is canceled. It returns once the
// server has shut down.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	Init()

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("metrics endpoint listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
