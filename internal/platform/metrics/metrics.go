package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the HLS relay.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	sessionsStartedTotal prometheus.Counter
	sessionsReapedTotal  prometheus.Counter
	startFailuresTotal   prometheus.Counter
	activeSessions       prometheus.Gauge
	errorsTotal          prometheus.Counter
}

// New creates and registers Prometheus metrics for the relay.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_requests_total",
		Help: "Total number of HTTP requests received",
	})
	sessionsStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_sessions_started_total",
		Help: "Total number of transcoding sessions started",
	})
	sessionsReapedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_sessions_reaped_total",
		Help: "Total number of sessions torn down by the idle reaper",
	})
	startFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_session_start_failures_total",
		Help: "Total number of sessions that failed to start (spawn error or start timeout)",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_sessions",
		Help: "Number of sessions currently starting or ready",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		requestsTotal,
		sessionsStartedTotal,
		sessionsReapedTotal,
		startFailuresTotal,
		activeSessions,
		errorsTotal,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		sessionsStartedTotal: sessionsStartedTotal,
		sessionsReapedTotal:  sessionsReapedTotal,
		startFailuresTotal:   startFailuresTotal,
		activeSessions:       activeSessions,
		errorsTotal:          errorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncSessionsStarted increments the sessions started counter.
func (m *Metrics) IncSessionsStarted() {
	m.sessionsStartedTotal.Inc()
}

// IncSessionsReaped increments the idle-reaped sessions counter.
func (m *Metrics) IncSessionsReaped() {
	m.sessionsReapedTotal.Inc()
}

// IncStartFailures increments the session start failure counter.
func (m *Metrics) IncStartFailures() {
	m.startFailuresTotal.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g.
// the active session count).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
