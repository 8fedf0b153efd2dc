// Package metrics exposes Prometheus collectors for the activity crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	activityFetchesTotal          *prometheus.CounterVec
	activityFetchDurationSeconds  *prometheus.HistogramVec
	activityEmitsTotal            *prometheus.CounterVec
	activityEventsSkippedTotal    *prometheus.CounterVec
	activityOutcomesTotal         *prometheus.CounterVec
	activityQueueDepth            prometheus.Gauge
	activityPendingPushes         prometheus.Gauge
	activityActiveWorkers         prometheus.Gauge
	activityRateLimitDelaySeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		activityFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activity_fetches_total",
				Help: "Total number of upstream fetches, labeled by job kind and status.",
			},
			[]string{"kind", "status"},
		)

		activityFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "activity_fetch_duration_seconds",
				Help:    "Histogram of upstream fetch latencies, labeled by job kind.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"kind"},
		)

		activityEmitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activity_emits_total",
				Help: "Total number of records emitted, labeled by tag.",
			},
			[]string{"tag"},
		)

		activityEventsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activity_events_skipped_total",
				Help: "Total number of feed events not emitted, labeled by reason.",
			},
			[]string{"reason"},
		)

		activityOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activity_outcomes_total",
				Help: "Total number of processed queue jobs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		activityQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "activity_queue_depth",
				Help: "Number of jobs waiting in the request queue.",
			},
		)

		activityPendingPushes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "activity_pending_pushes",
				Help: "Number of push events waiting for their commits.",
			},
		)

		activityActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "activity_active_workers",
				Help: "Number of worker loops currently running.",
			},
		)

		activityRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "activity_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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

// ObserveFetch records one upstream fetch. A zero status means the request failed
// before a response arrived.
func ObserveFetch(kind string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	activityFetchesTotal.WithLabelValues(kind, label).Inc()
	activityFetchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveEmit increments the emission counter for tag.
func ObserveEmit(tag string) {
	activityEmitsTotal.WithLabelValues(tag).Inc()
}

// ObserveSkipped counts an event that was not emitted.
func ObserveSkipped(reason string) {
	activityEventsSkippedTotal.WithLabelValues(reason).Inc()
}

// ObserveOutcome counts one processed queue job.
func ObserveOutcome(outcome string) {
	activityOutcomesTotal.WithLabelValues(outcome).Inc()
}

// SetQueueDepth records the current queue length.
func SetQueueDepth(n int) {
	activityQueueDepth.Set(float64(n))
}

// SetPendingPushes records the size of the push join table.
func SetPendingPushes(n int) {
	activityPendingPushes.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activityActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activityActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	activityRateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}
