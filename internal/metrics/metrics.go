// Package metrics exposes Prometheus collectors for the discovery service.
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
	creatorsAcceptedTotal      *prometheus.CounterVec
	platformCallsTotal         *prometheus.CounterVec
	platformCallSeconds        *prometheus.HistogramVec
	enrichmentTotal            *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	keywordsDispatchedTotal    *prometheus.CounterVec
	activeFetchWorkers         prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		creatorsAcceptedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_creators_accepted_total",
				Help: "Total creators accepted past filtering and dedupe, labeled by platform.",
			},
			[]string{"platform"},
		)

		platformCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_platform_calls_total",
				Help: "Total upstream platform API calls, labeled by platform and outcome.",
			},
			[]string{"platform", "outcome"},
		)

		platformCallSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "discovery_platform_call_seconds",
				Help:    "Histogram of upstream platform call latencies, labeled by platform.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"platform"},
		)

		enrichmentTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_enrichment_total",
				Help: "Total bio-enrichment attempts, labeled by platform and result.",
			},
			[]string{"platform", "result"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_jobs_total",
				Help: "Total jobs reaching a terminal status, labeled by status.",
			},
			[]string{"status"},
		)

		keywordsDispatchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_keywords_dispatched_total",
				Help: "Total search-worker messages published, labeled by platform.",
			},
			[]string{"platform"},
		)

		activeFetchWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "discovery_active_fetch_workers",
				Help: "Number of fetch workers currently running.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
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

// ObserveCreatorAccepted increments the accepted-creator counter.
func ObserveCreatorAccepted(platform string) {
	creatorsAcceptedTotal.WithLabelValues(platform).Inc()
}

// ObservePlatformCall records one upstream API call.
func ObservePlatformCall(platform string, outcome string, duration time.Duration) {
	platformCallsTotal.WithLabelValues(platform, outcome).Inc()
	platformCallSeconds.WithLabelValues(platform).Observe(duration.Seconds())
}

// ObserveEnrichment records one enrichment attempt result.
func ObserveEnrichment(platform string, result string) {
	enrichmentTotal.WithLabelValues(platform, result).Inc()
}

// ObserveJob increments the terminal-status job counter.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveKeywordsDispatched adds published search messages.
func ObserveKeywordsDispatched(platform string, count int) {
	keywordsDispatchedTotal.WithLabelValues(platform).Add(float64(count))
}

// IncActiveFetchWorkers increments the fetch worker gauge.
func IncActiveFetchWorkers() {
	activeFetchWorkers.Inc()
}

// DecActiveFetchWorkers decrements the fetch worker gauge.
func DecActiveFetchWorkers() {
	activeFetchWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
