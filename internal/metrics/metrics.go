// Package metrics exposes Prometheus collectors for the ingestion service.
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
	uploadsTotal          *prometheus.CounterVec
	uploadBytesTotal      *prometheus.CounterVec
	fetchOutcomesTotal    *prometheus.CounterVec
	rateLimitDeniedTotal  prometheus.Counter
	relayAttemptsTotal    *prometheus.CounterVec
	relayDurationSeconds  prometheus.Histogram
	httpRequestsTotal     *prometheus.CounterVec
	httpDurationSeconds   *prometheus.HistogramVec
	validationFailedTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		uploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slyp_uploads_total",
				Help: "Total uploads processed, labeled by source mode and status.",
			},
			[]string{"mode", "status"},
		)

		uploadBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slyp_upload_bytes_total",
				Help: "Total bytes stored, labeled by source mode.",
			},
			[]string{"mode"},
		)

		fetchOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slyp_fetch_outcomes_total",
				Help: "Total remote fetch operations, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitDeniedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "slyp_rate_limit_denied_total",
				Help: "Total requests denied by the per-client rate limiter.",
			},
		)

		relayAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slyp_relay_attempts_total",
				Help: "Total downstream relay dispatches, labeled by result.",
			},
			[]string{"result"},
		)

		relayDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "slyp_relay_duration_seconds",
				Help:    "Histogram of end-to-end relay dispatch durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 15, 60, 120},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		validationFailedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "slyp_validation_failures_total",
				Help: "Total requests rejected by payload validation.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpload increments upload counters for one processed request.
func ObserveUpload(mode, status string, storedBytes int) {
	Init()
	uploadsTotal.WithLabelValues(mode, status).Inc()
	if storedBytes > 0 {
		uploadBytesTotal.WithLabelValues(mode).Add(float64(storedBytes))
	}
}

// ObserveFetch records one remote fetch operation outcome.
func ObserveFetch(outcome string) {
	Init()
	fetchOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitDenied counts a denied request.
func ObserveRateLimitDenied() {
	Init()
	rateLimitDeniedTotal.Inc()
}

// ObserveRelay records one relay dispatch with its outcome and duration.
func ObserveRelay(result string, duration time.Duration) {
	Init()
	relayAttemptsTotal.WithLabelValues(result).Inc()
	relayDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveValidationFailure counts a payload rejected by validation.
func ObserveValidationFailure() {
	Init()
	validationFailedTotal.Inc()
}
