package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ssargent/userdots/pkg/store"
)

const (
	outcomeFound   = "found"
	outcomeEmpty   = "empty"
	outcomeInvalid = "invalid"
	outcomeLimit   = "limit"
	outcomeBusy    = "busy"
	outcomeTimeout = "timeout"
	outcomeError   = "error"
	healthStatusOK = "success"
)

// Metrics holds all Prometheus metrics for the API
type Metrics struct {
	handler http.Handler

	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight *prometheus.GaugeVec

	// Query metrics
	queriesTotal     *prometheus.CounterVec
	queryDuration    *prometheus.HistogramVec
	queriesCoalesced prometheus.Counter
	lockContention   prometheus.Counter

	// Cache metrics
	cachedRecords prometheus.Gauge
	indexedNames  prometheus.Gauge
	indexedIDs    prometheus.Gauge
	cacheComplete prometheus.Gauge

	healthChecksTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with reg.
// A nil reg uses the default registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	handler := promhttp.Handler()
	if reg != nil {
		registerer = reg
		handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	factory := promauto.With(registerer)

	return &Metrics{
		handler: handler,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userdots_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "userdots_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		httpRequestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "userdots_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
			[]string{"method", "endpoint"},
		),

		queriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userdots_queries_total",
				Help: "Total number of selector batches resolved",
			},
			[]string{"strategy", "outcome"},
		),

		queryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "userdots_query_duration_seconds",
				Help:    "Selector batch resolution time in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"strategy"},
		),

		queriesCoalesced: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "userdots_queries_coalesced_total",
				Help: "Requests answered by an identical query already in flight",
			},
		),

		lockContention: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "userdots_lock_contention_total",
				Help: "Queries rejected because the backend was busy",
			},
		),

		cachedRecords: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "userdots_cached_records",
				Help: "Records held in the backend cache",
			},
		),

		indexedNames: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "userdots_indexed_names",
				Help: "Entries in the name index",
			},
		),

		indexedIDs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "userdots_indexed_ids",
				Help: "Entries in the id index",
			},
		),

		cacheComplete: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "userdots_cache_complete",
				Help: "1 when every record of the container is cached",
			},
		),

		healthChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userdots_health_checks_total",
				Help: "Total number of health checks",
			},
			[]string{"status"},
		),
	}
}

// Handler serves the registry the metrics were registered with
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	statusCodeStr := strconv.Itoa(statusCode)

	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCodeStr).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordQuery records one resolved selector batch
func (m *Metrics) RecordQuery(strategy, outcome string, duration time.Duration) {
	m.queriesTotal.WithLabelValues(strategy, outcome).Inc()
	m.queryDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordCoalesced records a request that shared another request's result
func (m *Metrics) RecordCoalesced() {
	m.queriesCoalesced.Inc()
}

// RecordLockContention records a query turned away by a busy backend
func (m *Metrics) RecordLockContention() {
	m.lockContention.Inc()
}

// UpdateCacheStats updates the cache gauges
func (m *Metrics) UpdateCacheStats(stats store.Stats) {
	m.cachedRecords.Set(float64(stats.Cached))
	m.indexedNames.Set(float64(stats.Names))
	m.indexedIDs.Set(float64(stats.IDs))
	if stats.Complete {
		m.cacheComplete.Set(1)
	} else {
		m.cacheComplete.Set(0)
	}
}

// RecordHealthCheck records a health check
func (m *Metrics) RecordHealthCheck() {
	m.healthChecksTotal.WithLabelValues(healthStatusOK).Inc()
}

// InstrumentHandler instruments an HTTP handler with metrics
func (m *Metrics) InstrumentHandler(method, endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		gauge := m.httpRequestsInFlight.WithLabelValues(method, endpoint)
		gauge.Inc()
		defer gauge.Dec()

		// Capture the status code
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(rw, r)

		m.RecordHTTPRequest(method, endpoint, rw.statusCode, time.Since(start))
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
