package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aidawidget/aidawidget/internal/config"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aida"

// Manager defines the interface for metrics management
type Manager interface {
	// HTTP Metrics
	RecordHTTPRequest(method, path, status string, duration time.Duration)

	// Bridge Metrics
	ObserveUpstream(operation, outcome string, duration time.Duration)

	// Settings cache lookups (hit, miss, fallback)
	RecordCacheLookup(outcome string)

	// Guest requests refused by the rate limiter
	RecordRateLimited(path string)

	// System Metrics
	UpdateSystemMetrics(memoryUsage, diskUsage float64)

	// Export
	GetMetricsHandler() http.Handler

	// HTTP Middleware
	Middleware() func(http.Handler) http.Handler
}

// metricsManager implements the Manager interface using Prometheus
type metricsManager struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	upstreamRequestsTotal   *prometheus.CounterVec
	upstreamRequestDuration *prometheus.HistogramVec

	settingsCacheTotal *prometheus.CounterVec
	rateLimitedTotal   *prometheus.CounterVec

	systemMemoryUsage prometheus.Gauge
	systemDiskUsage   prometheus.Gauge
}

// NewManager creates a new metrics manager. A disabled config yields a
// manager that records nothing.
func NewManager(cfg config.MetricsConfig) Manager {
	if !cfg.Enable {
		return &noopManager{}
	}

	m := &metricsManager{
		registry: prometheus.NewRegistry(),
	}
	m.initializeMetrics()
	m.registerMetrics()
	return m
}

// initializeMetrics sets up all Prometheus metrics
func (m *metricsManager) initializeMetrics() {
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total number of calls to the AIDA server by outcome",
		},
		[]string{"operation", "outcome"},
	)

	m.upstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "AIDA server call duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"operation"},
	)

	m.settingsCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settings_cache",
			Name:      "total",
			Help:      "Settings cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	m.rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Guest requests rejected by the rate limiter",
		},
		[]string{"path"},
	)

	m.systemMemoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_usage_percent",
			Help:      "Host memory usage percentage",
		},
	)

	m.systemDiskUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "disk_usage_percent",
			Help:      "Data directory disk usage percentage",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (m *metricsManager) registerMetrics() {
	metrics := []prometheus.Collector{
		// HTTP
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.rateLimitedTotal,

		// Bridge
		m.upstreamRequestsTotal,
		m.upstreamRequestDuration,

		// Settings
		m.settingsCacheTotal,

		// System
		m.systemMemoryUsage,
		m.systemDiskUsage,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}

	for _, metric := range metrics {
		m.registry.MustRegister(metric)
	}
}

func (m *metricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *metricsManager) ObserveUpstream(operation, outcome string, duration time.Duration) {
	m.upstreamRequestsTotal.WithLabelValues(operation, outcome).Inc()
	if duration > 0 {
		m.upstreamRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

func (m *metricsManager) RecordCacheLookup(outcome string) {
	m.settingsCacheTotal.WithLabelValues(outcome).Inc()
}

func (m *metricsManager) RecordRateLimited(path string) {
	m.rateLimitedTotal.WithLabelValues(path).Inc()
}

func (m *metricsManager) UpdateSystemMetrics(memoryUsage, diskUsage float64) {
	m.systemMemoryUsage.Set(memoryUsage)
	m.systemDiskUsage.Set(diskUsage)
}

func (m *metricsManager) GetMetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by route
// template, so path parameters do not inflate label cardinality.
func (m *metricsManager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriterWrapper{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			m.RecordHTTPRequest(r.Method, routePath(r), strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}

func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// noopManager is a no-op implementation when metrics are disabled
type noopManager struct{}

func (n *noopManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {}
func (n *noopManager) ObserveUpstream(operation, outcome string, duration time.Duration) {}
func (n *noopManager) RecordCacheLookup(outcome string) {}
func (n *noopManager) RecordRateLimited(path string) {}
func (n *noopManager) UpdateSystemMetrics(memoryUsage, diskUsage float64) {}
func (n *noopManager) GetMetricsHandler() http.Handler { return http.NotFoundHandler() }
func (n *noopManager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}
