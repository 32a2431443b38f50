// Package metrics exposes Prometheus collectors for the graph builder.
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
	frontierPagesTotal            *prometheus.CounterVec
	frontierBytesTotal            *prometheus.CounterVec
	documentsTotal                *prometheus.CounterVec
	chunksProcessedTotal          prometheus.Counter
	extractionBatchSeconds        prometheus.Histogram
	pipelineTasksTotal            *prometheus.CounterVec
	pipelineActiveTasks           prometheus.Gauge
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	frontierRateLimitDelaySeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		frontierPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphbuilder_frontier_pages_total",
				Help: "Pages handled by the crawl frontier, labeled by site and outcome.",
			},
			[]string{"site", "status"},
		)

		frontierBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphbuilder_frontier_bytes_total",
				Help: "Bytes fetched by the crawl frontier, labeled by site.",
			},
			[]string{"site"},
		)

		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphbuilder_documents_total",
				Help: "Documents that reached a terminal status, labeled by status.",
			},
			[]string{"status"},
		)

		chunksProcessedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "graphbuilder_chunks_processed_total",
				Help: "Chunks sent through the extraction service.",
			},
		)

		extractionBatchSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "graphbuilder_extraction_batch_duration_seconds",
				Help:    "Wall time per extraction batch, including persistence.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		pipelineTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphbuilder_pipeline_tasks_total",
				Help: "Pipeline task outcomes, labeled by task type and status.",
			},
			[]string{"type", "status"},
		)

		pipelineActiveTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "graphbuilder_pipeline_active_tasks",
				Help: "Number of pipeline tasks currently executing.",
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

		frontierRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "graphbuilder_rate_limit_delay_seconds",
				Help:    "Histogram of per-domain rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
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

// ObservePage records one frontier outcome (processed, failed or skipped).
func ObservePage(site, status string, bytesFetched int) {
	Init()
	sanitized := SanitizeSite(site)
	frontierPagesTotal.WithLabelValues(sanitized, status).Inc()
	if bytesFetched > 0 {
		frontierBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObserveDocument counts a document reaching a terminal status.
func ObserveDocument(status string) {
	Init()
	documentsTotal.WithLabelValues(status).Inc()
}

// ObserveBatch records one checkpointed extraction batch.
func ObserveBatch(chunks int, duration time.Duration) {
	Init()
	chunksProcessedTotal.Add(float64(chunks))
	extractionBatchSeconds.Observe(duration.Seconds())
}

// ObservePipelineTask counts a task outcome.
func ObservePipelineTask(taskType, status string) {
	Init()
	pipelineTasksTotal.WithLabelValues(taskType, status).Inc()
}

// IncActiveTasks increments the active pipeline tasks gauge.
func IncActiveTasks() {
	Init()
	pipelineActiveTasks.Inc()
}

// DecActiveTasks decrements the active pipeline tasks gauge.
func DecActiveTasks() {
	Init()
	pipelineActiveTasks.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	frontierRateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
