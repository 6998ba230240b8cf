package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clothbridge"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	matchTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "transitions_total",
			Help:      "Match, donation and request transitions by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	uploadAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uploads",
			Name:      "attempts_total",
			Help:      "Object upload attempts by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)

	uploadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "uploads",
			Name:      "object_bytes",
			Help:      "Size of uploaded objects.",
			Buckets:   prometheus.ExponentialBuckets(16<<10, 2, 10), // 16KiB to ~8MiB
		},
	)

	listingSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "listings",
			Name:      "visible_items",
			Help:      "Items returned by the last unfiltered browse, by kind.",
		},
		[]string{"kind"},
	)

	realtimeClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connected_clients",
			Help:      "Open websocket connections.",
		},
	)

	schedulerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Housekeeping job runs.",
		},
		[]string{"job", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		matchTransitions,
		uploadAttempts,
		uploadBytes,
		listingSize,
		realtimeClients,
		schedulerRuns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func IncInFlight() { httpInFlight.Inc() }
func DecInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one handled request. path should be a route
// template; raw paths are reduced to their first segment.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if !strings.Contains(path, "{") {
		path = CanonicalPath(path)
	}
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTransition counts an accept, decline, fulfil or expire attempt.
func RecordTransition(action, outcome string) {
	matchTransitions.WithLabelValues(action, outcome).Inc()
}

// RecordUploadAttempt counts one attempt; size is observed on success only.
func RecordUploadAttempt(backend string, size int, err error) {
	if err != nil {
		uploadAttempts.WithLabelValues(backend, "error").Inc()
		return
	}
	uploadAttempts.WithLabelValues(backend, "ok").Inc()
	uploadBytes.Observe(float64(size))
}

func SetListingSize(kind string, n int) {
	listingSize.WithLabelValues(kind).Set(float64(n))
}

func SetRealtimeClients(n int) {
	realtimeClients.Set(float64(n))
}

func RecordSchedulerRun(job string, success bool) {
	result := "false"
	if success {
		result = "true"
	}
	schedulerRuns.WithLabelValues(job, result).Inc()
}

// CanonicalPath keeps label cardinality bounded for unmatched routes.
func CanonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) == 1 {
		return "/" + parts[0]
	}
	return "/" + parts[0] + "/*"
}
