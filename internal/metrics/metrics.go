// Package metrics exposes the Acquisition Engine's Prometheus instruments:
// counters and histograms for page fetches, captcha solves, deduplication
// drops, and sync duration, plus the operator-facing /metrics and /healthz
// HTTP surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PagesFetched counts review listing pages that were parsed and handed
	// to the Orchestrator, labeled by outcome. The engine adds each sync's
	// page count once, under the outcome "ok"; failed fetches are not
	// counted.
	PagesFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yandexreviewsync_pages_fetched_total",
		Help: "Total number of review listing pages fetched.",
	}, []string{"outcome"})

	// CaptchaSolves counts captcha challenges encountered and their
	// resolution outcome.
	CaptchaSolves = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yandexreviewsync_captcha_solves_total",
		Help: "Total number of captcha challenges submitted to the solver.",
	}, []string{"outcome"})

	// DedupDrops counts reviews rejected by the Deduplicator, labeled by
	// reason. The Orchestrator records every drop under the single reason
	// "duplicate"; id matches and fingerprint matches are not told apart.
	DedupDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yandexreviewsync_dedup_drops_total",
		Help: "Total number of reviews dropped as duplicates.",
	}, []string{"reason"})

	// SyncDuration observes the wall-clock time of a full organization
	// sync, labeled by whether it was a full or incremental sync.
	SyncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "yandexreviewsync_sync_duration_seconds",
		Help:    "Duration of an organization sync, in seconds.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~34min
	}, []string{"mode"})

	// ReviewsPersisted counts reviews actually written to the store.
	ReviewsPersisted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yandexreviewsync_reviews_persisted_total",
		Help: "Total number of reviews written to the store.",
	}, []string{"mode"})
)

func init() {
	prometheus.MustRegister(PagesFetched, CaptchaSolves, DedupDrops, SyncDuration, ReviewsPersisted)
}

// ObserveSyncDuration is a small helper for `defer metrics.ObserveSyncDuration(mode, time.Now())`
// call sites in the engine.
func ObserveSyncDuration(mode string, start time.Time) {
	SyncDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

// NewOpsRouter builds the operator-facing HTTP surface: Prometheus scrape
// endpoint plus a liveness check. This is not the "browser-facing HTTP API"
// the acquisition pipeline itself deliberately omits — it is an operations
// endpoint for scraping and readiness probes only.
func NewOpsRouter() chi.Router {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return r
}
