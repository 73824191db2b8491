// Package metrics exposes Prometheus collectors for retrieval and the browser daemon.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	retrievalAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legifetch_retrieval_attempts_total",
			Help: "Retrieval attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	operatorAcksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "legifetch_operator_acks_total",
			Help: "Soft failures acknowledged by the operator.",
		},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "legifetch_fetch_duration_seconds",
			Help:    "Backend fetch latency, labeled by backend.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"backend"},
	)

	cacheEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legifetch_cache_events_total",
			Help: "Cache layer events, labeled by event (hit, miss, stale, store, reject, invalidate).",
		},
		[]string{"event"},
	)

	daemonProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legifetch_daemon_probes_total",
			Help: "Daemon liveness probes, labeled by result.",
		},
		[]string{"result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legifetch_status_requests_total",
			Help: "Daemon status server requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "legifetch_status_request_duration_seconds",
			Help:    "Daemon status server latency, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method", "route"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "legifetch_rate_limit_delay_seconds",
			Help:    "Time spent waiting on the per-host limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)
)

// SanitizeSite extracts a lowercase hostname from rawURL, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAttempt counts one retrieval attempt.
func ObserveAttempt(outcome string) {
	retrievalAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveOperatorAck counts one operator acknowledgment.
func ObserveOperatorAck() {
	operatorAcksTotal.Inc()
}

// ObserveFetchDuration records backend latency.
func ObserveFetchDuration(backend string, d time.Duration) {
	fetchDurationSeconds.WithLabelValues(backend).Observe(d.Seconds())
}

// ObserveCache counts a cache event.
func ObserveCache(event string) {
	cacheEventsTotal.WithLabelValues(event).Inc()
}

// ObserveDaemonProbe counts a liveness probe result.
func ObserveDaemonProbe(result string) {
	daemonProbesTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records a limiter wait.
func ObserveRateLimitDelay(host string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest records one status server request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
