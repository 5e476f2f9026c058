// Package metrics exposes Prometheus instrumentation for the gateway.
// All collectors are registered on a private registry served at
// /metrics, keeping the default registry untouched for tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedRoute is the label value used for requests that do not
// resolve to any route, keeping cardinality bounded.
const unmatchedRoute = "unmatched"

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	backendDuration  *prometheus.HistogramVec
	normalizerTotal  *prometheus.CounterVec
	authFailures     *prometheus.CounterVec
	cacheValidations *prometheus.CounterVec
	rateLimitHits    *prometheus.CounterVec
	activeRequests   prometheus.Gauge
	backendHealth    prometheus.Gauge
	buildInfo        *prometheus.GaugeVec
	startTime        prometheus.Gauge
	registry         *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "eventgate"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "kind", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"method", "route", "status"},
	)

	m.backendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_duration_seconds",
			Help:      "Upstream call duration in seconds",
			Buckets: []float64{
				.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 15,
			},
		},
		[]string{"mode", "outcome"},
	)

	m.normalizerTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalized_responses_total",
			Help:      "Upstream responses by normalization outcome",
		},
		[]string{"outcome"},
	)

	m.authFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected requests by credential state",
		},
		[]string{"state"},
	)

	m.cacheValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_validations_total",
			Help:      "Conditional request outcomes",
		},
		[]string{"outcome"},
	)

	m.rateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of rate limit hits",
		},
		[]string{"route"},
	)

	m.activeRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of in-flight HTTP requests",
		},
	)

	m.backendHealth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_health",
			Help:      "Backend health status (1=healthy, 0=unhealthy)",
		},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information for the gateway",
		},
		[]string{"version", "deployment_id"},
	)

	m.startTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help:      "Start time of the gateway in unix seconds",
		},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.backendDuration,
		m.normalizerTotal,
		m.authFailures,
		m.cacheValidations,
		m.rateLimitHits,
		m.activeRequests,
		m.backendHealth,
		m.buildInfo,
		m.startTime,
	)

	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)

	m.startTime.SetToCurrentTime()

	return m
}

// RecordRequest records a completed HTTP request. The route parameter
// must be the resolved route name, never the raw path, to prevent
// cardinality explosion.
func (m *Metrics) RecordRequest(
	method, route, kind string,
	status int,
	duration time.Duration,
) {
	if route == "" {
		route = unmatchedRoute
	}
	statusStr := strconv.Itoa(status)

	m.requestsTotal.WithLabelValues(method, route, kind, statusStr).Inc()
	m.requestDuration.WithLabelValues(method, route, statusStr).Observe(duration.Seconds())
}

// RecordBackendCall records an upstream call by dispatch mode and
// outcome ("ok", "error", "timeout", "breaker_open").
func (m *Metrics) RecordBackendCall(
	mode, outcome string, duration time.Duration,
) {
	m.backendDuration.WithLabelValues(mode, outcome).Observe(duration.Seconds())
}

// RecordNormalization records a normalizer outcome
// ("passthrough", "wrapped", "non_json", "unreachable", "coerced").
func (m *Metrics) RecordNormalization(outcome string) {
	m.normalizerTotal.WithLabelValues(outcome).Inc()
}

// RecordAuthFailure records a rejected request by credential state.
func (m *Metrics) RecordAuthFailure(state string) {
	m.authFailures.WithLabelValues(state).Inc()
}

// RecordCacheValidation records a conditional request outcome
// ("hit" for 304, "miss" for a tag mismatch, "fresh" for no client tag).
func (m *Metrics) RecordCacheValidation(outcome string) {
	m.cacheValidations.WithLabelValues(outcome).Inc()
}

// RecordRateLimitHit records a rate limit rejection for a route.
func (m *Metrics) RecordRateLimitHit(route string) {
	if route == "" {
		route = unmatchedRoute
	}
	m.rateLimitHits.WithLabelValues(route).Inc()
}

// IncActiveRequests increments the in-flight request gauge.
func (m *Metrics) IncActiveRequests() { m.activeRequests.Inc() }

// DecActiveRequests decrements the in-flight request gauge.
func (m *Metrics) DecActiveRequests() { m.activeRequests.Dec() }

// SetBackendHealth sets the backend health gauge.
func (m *Metrics) SetBackendHealth(healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.backendHealth.Set(value)
}

// SetBuildInfo sets the build information metric.
func (m *Metrics) SetBuildInfo(version, deploymentID string) {
	m.buildInfo.WithLabelValues(version, deploymentID).Set(1)
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)
}

// Registry returns the Prometheus registry backing the handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
