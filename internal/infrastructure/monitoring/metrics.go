package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the host's Prometheus collectors.
// All methods are safe on a nil *Metrics so components can run unmetered.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsByState *prometheus.GaugeVec
	Disconnects     prometheus.Counter
	StartFailures   prometheus.Counter
	TokenWait       *prometheus.HistogramVec

	// Request metrics
	Requests        *prometheus.CounterVec
	RequestLatency  *prometheus.HistogramVec
	PendingRequests prometheus.Gauge

	// Pool metrics
	PoolLeased prometheus.Gauge
	PoolSize   prometheus.Gauge

	// Debugger metrics
	TracerStops *prometheus.CounterVec
}

// NewMetrics creates collectors registered with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rhost_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rhost_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		SessionsByState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rhost_sessions",
				Help: "Number of sessions by connection state",
			},
			[]string{"state"},
		),
		Disconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rhost_session_disconnects_total",
				Help: "Total number of worker disconnects",
			},
		),
		StartFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rhost_session_start_failures_total",
				Help: "Total number of failed worker starts",
			},
		),
		TokenWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rhost_token_wait_seconds",
				Help:    "Time spent waiting for an evaluation or interaction token",
				Buckets: []float64{.0001, .001, .01, .05, .1, .5, 1, 5, 30},
			},
			[]string{"token"},
		),

		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rhost_worker_requests_total",
				Help: "Total number of worker requests by name and outcome",
			},
			[]string{"request", "outcome"},
		),
		RequestLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rhost_worker_request_duration_seconds",
				Help:    "Worker round trip duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 30},
			},
			[]string{"request"},
		),
		PendingRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rhost_worker_requests_pending",
				Help: "Number of worker requests awaiting a response",
			},
		),

		PoolLeased: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rhost_pool_leased",
				Help: "Number of pooled sessions currently leased",
			},
		),
		PoolSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rhost_pool_sessions",
				Help: "Number of pooled sessions created",
			},
		),

		TracerStops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rhost_tracer_stops_total",
				Help: "Total number of debugger stops by reason",
			},
			[]string{"reason"},
		),
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SessionStateChanged moves one session between state gauges.
// An empty from means the session is new.
func (m *Metrics) SessionStateChanged(from, to string) {
	if m == nil {
		return
	}
	if from != "" {
		m.SessionsByState.WithLabelValues(from).Dec()
	}
	m.SessionsByState.WithLabelValues(to).Inc()
}

// IncDisconnects counts a worker disconnect
func (m *Metrics) IncDisconnects() {
	if m == nil {
		return
	}
	m.Disconnects.Inc()
}

// IncStartFailures counts a failed worker start
func (m *Metrics) IncStartFailures() {
	if m == nil {
		return
	}
	m.StartFailures.Inc()
}

// ObserveTokenWait records how long a token acquisition waited
func (m *Metrics) ObserveTokenWait(token string, wait time.Duration) {
	if m == nil {
		return
	}
	m.TokenWait.WithLabelValues(token).Observe(wait.Seconds())
}

// RecordRequest records a completed worker round trip
func (m *Metrics) RecordRequest(request, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(request, outcome).Inc()
	m.RequestLatency.WithLabelValues(request).Observe(duration.Seconds())
}

// IncPending increments in-flight worker requests
func (m *Metrics) IncPending() {
	if m == nil {
		return
	}
	m.PendingRequests.Inc()
}

// DecPending decrements in-flight worker requests
func (m *Metrics) DecPending() {
	if m == nil {
		return
	}
	m.PendingRequests.Dec()
}

// SetPool publishes pool occupancy
func (m *Metrics) SetPool(created, leased int) {
	if m == nil {
		return
	}
	m.PoolSize.Set(float64(created))
	m.PoolLeased.Set(float64(leased))
}

// IncTracerStops counts a debugger stop
func (m *Metrics) IncTracerStops(reason string) {
	if m == nil {
		return
	}
	m.TracerStops.WithLabelValues(reason).Inc()
}
