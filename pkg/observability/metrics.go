package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for the sync service.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	SyncRunsTotal   *prometheus.CounterVec
	SyncDuration    *prometheus.HistogramVec
	SyncedEntities  *prometheus.CounterVec
	SyncErrorsTotal *prometheus.CounterVec
}

// NewMetrics registers the service metric set on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers the metric set on the given registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"code", "method", "path"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of latencies for HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"code", "method", "path"},
		),
		SyncRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "directory_sync_runs_total",
				Help: "Total number of directory sync runs by provider, type and outcome.",
			},
			[]string{"provider", "type", "status"},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "directory_sync_duration_seconds",
				Help:    "Histogram of directory sync run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"provider", "type"},
		),
		SyncedEntities: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "directory_sync_entities_total",
				Help: "Entities touched by sync runs, by kind and operation.",
			},
			[]string{"kind", "operation"},
		),
		SyncErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "directory_sync_errors_total",
				Help: "Per-entity sync errors by kind and operation.",
			},
			[]string{"kind", "operation"},
		),
	}
	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.SyncRunsTotal,
		m.SyncDuration,
		m.SyncedEntities,
		m.SyncErrorsTotal,
	)
	return m
}

// PrometheusMiddleware returns a Gin middleware that records HTTP metrics.
func PrometheusMiddleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		statusCode := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		metrics.RequestsTotal.WithLabelValues(statusCode, method, path).Inc()
		metrics.RequestDuration.WithLabelValues(statusCode, method, path).Observe(time.Since(start).Seconds())
	}
}

// PrometheusHandler returns an http.Handler serving the metrics endpoint.
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}
