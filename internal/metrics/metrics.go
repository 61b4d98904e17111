// Package metrics exposes Prometheus collectors for the site template service.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	tasksTotal                 *prometheus.CounterVec
	taskDurationSeconds        *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	archiveBytesTotal          *prometheus.CounterVec
	missingReferencesTotal     prometheus.Counter
	rateLimitDelaysSeconds     prometheus.Histogram

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitetemplate_tasks_total",
				Help: "Total number of background tasks finished, labeled by executor and status.",
			},
			[]string{"executor", "status"},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitetemplate_task_duration_seconds",
				Help:    "Histogram of background task run times, labeled by executor.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"executor"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitetemplate_active_workers",
				Help: "Number of workers currently running a task.",
			},
		)

		archiveBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitetemplate_archive_bytes_total",
				Help: "Total archive bytes moved, labeled by direction.",
			},
			[]string{"direction"},
		)

		missingReferencesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitetemplate_missing_references_total",
				Help: "Total unresolved references reported by import validation.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitetemplate_rate_limit_delays_seconds",
				Help:    "Histogram of per-user rate limit wait durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveTask records a finished task.
func ObserveTask(executor, status string, duration time.Duration) {
	Init()
	tasksTotal.WithLabelValues(executor, status).Inc()
	taskDurationSeconds.WithLabelValues(executor).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveArchiveBytes adds n to the byte counter for direction ("export" or "import").
func ObserveArchiveBytes(direction string, n int64) {
	Init()
	if n > 0 {
		archiveBytesTotal.WithLabelValues(direction).Add(float64(n))
	}
}

// ObserveMissingReferences counts references reported by a failed validation.
func ObserveMissingReferences(n int) {
	Init()
	if n > 0 {
		missingReferencesTotal.Add(float64(n))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.Observe(duration.Seconds())
}
