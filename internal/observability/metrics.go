package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "doc_uploader"

// Metrics stores Prometheus collectors used by the API and batch uploads.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	uploadsCompletedTotal *prometheus.CounterVec
	uploadsFailedTotal    *prometheus.CounterVec
	uploadBytesTotal      *prometheus.CounterVec
	uploadDuration        *prometheus.HistogramVec
	batchesInflight       prometheus.Gauge
	batchesFinishedTotal  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		uploadsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "uploads_completed_total",
				Help:      "Total number of files ingested successfully.",
			},
			[]string{"collection"},
		),
		uploadsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "uploads_failed_total",
				Help:      "Total number of files whose ingestion failed, by reason.",
			},
			[]string{"collection", "reason"},
		),
		uploadBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "upload_bytes_total",
				Help:      "Total size of successfully ingested files in bytes.",
			},
			[]string{"collection"},
		),
		uploadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "upload_duration_seconds",
				Help:      "Ingestion call duration in seconds grouped by collection.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"collection"},
		),
		batchesInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "batches_inflight",
				Help:      "Current number of running upload batches.",
			},
		),
		batchesFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "batches_finished_total",
				Help:      "Total number of finished batches by outcome.",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.uploadsCompletedTotal,
		m.uploadsFailedTotal,
		m.uploadBytesTotal,
		m.uploadDuration,
		m.batchesInflight,
		m.batchesFinishedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) ObserveUploadCompleted(collection string, bytes int64, duration time.Duration) {
	if m == nil {
		return
	}
	label := normalizeLabel(collection)
	m.uploadsCompletedTotal.WithLabelValues(label).Inc()
	if bytes > 0 {
		m.uploadBytesTotal.WithLabelValues(label).Add(float64(bytes))
	}
	m.observeUploadDuration(label, duration)
}

func (m *Metrics) ObserveUploadFailed(collection string, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	label := normalizeLabel(collection)
	m.uploadsFailedTotal.WithLabelValues(label, normalizeLabel(reason)).Inc()
	m.observeUploadDuration(label, duration)
}

func (m *Metrics) BatchStarted() {
	if m == nil {
		return
	}
	m.batchesInflight.Inc()
}

func (m *Metrics) BatchFinished(outcome string) {
	if m == nil {
		return
	}
	m.batchesInflight.Dec()
	m.batchesFinishedTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) observeUploadDuration(label string, duration time.Duration) {
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.uploadDuration.WithLabelValues(label).Observe(seconds)
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
