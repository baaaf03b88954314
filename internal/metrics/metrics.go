// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal          *prometheus.CounterVec
	crawlerFetchDuration       *prometheus.HistogramVec
	crawlerJobsTotal           *prometheus.CounterVec
	crawlerQueueDepth          prometheus.Gauge
	auditTransitionsTotal      *prometheus.CounterVec
	backlinksRecordedTotal     prometheus.Counter
	duplicatesRemovedTotal     prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the Prometheus collectors. Every helper calls it, so
// explicit initialization is only needed to front-load registration.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seocrawler_pages_total",
				Help: "Total pages crawled, labeled by host and status class.",
			},
			[]string{"host", "status"},
		)

		crawlerFetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seocrawler_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by host.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"host"},
		)

		crawlerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seocrawler_jobs_total",
				Help: "Total queue jobs finished, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "seocrawler_queue_depth",
				Help: "Jobs currently visible in the queue.",
			},
		)

		auditTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seocrawler_audit_transitions_total",
				Help: "Audit status transitions, labeled by target status.",
			},
			[]string{"status"},
		)

		backlinksRecordedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "seocrawler_backlinks_recorded_total",
				Help: "Backlinks recorded or refreshed by the indexer.",
			},
		)

		duplicatesRemovedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "seocrawler_duplicates_removed_total",
				Help: "Crawl results removed by the deduplication pass.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of API request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records one crawled page.
func ObservePage(host string, statusCode int, duration time.Duration) {
	Init()
	status := strconv.Itoa(statusCode/100) + "xx"
	crawlerPagesTotal.WithLabelValues(host, status).Inc()
	crawlerFetchDuration.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveJob records a finished queue job by outcome
// (completed, failed, retried, discarded).
func ObserveJob(outcome string) {
	Init()
	crawlerJobsTotal.WithLabelValues(outcome).Inc()
}

// SetQueueDepth records the current visible queue size.
func SetQueueDepth(n int) {
	Init()
	crawlerQueueDepth.Set(float64(n))
}

// ObserveTransition records an audit status transition.
func ObserveTransition(status string) {
	Init()
	auditTransitionsTotal.WithLabelValues(status).Inc()
}

// ObserveBacklinks records backlinks written by the indexer.
func ObserveBacklinks(n int) {
	Init()
	if n > 0 {
		backlinksRecordedTotal.Add(float64(n))
	}
}

// ObserveDuplicatesRemoved records results deleted by a dedup pass.
func ObserveDuplicatesRemoved(n int) {
	Init()
	if n > 0 {
		duplicatesRemovedTotal.Add(float64(n))
	}
}

// ObserveHTTPRequest increments the API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
