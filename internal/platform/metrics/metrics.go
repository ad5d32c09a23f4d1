package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the rewind buffer service.
type Metrics struct {
	registry                  *prometheus.Registry
	requestsTotal             prometheus.Counter
	errorsTotal               prometheus.Counter
	pollsTotal                prometheus.Counter
	pollFailuresTotal         prometheus.Counter
	segmentsCapturedTotal     prometheus.Counter
	segmentFetchFailuresTotal prometheus.Counter
	clipsCreatedTotal         prometheus.Counter
	activeSessions            prometheus.Gauge
}

// New creates and registers Prometheus metrics for the service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewind_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewind_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		pollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewind_polls_total",
			Help: "Total number of successful playlist polls",
		}),
		pollFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewind_poll_failures_total",
			Help: "Total number of failed poll iterations",
		}),
		segmentsCapturedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewind_segments_captured_total",
			Help: "Total number of segments downloaded and buffered",
		}),
		segmentFetchFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewind_segment_fetch_failures_total",
			Help: "Total number of segment downloads dropped from batches",
		}),
		clipsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewind_clips_created_total",
			Help: "Total number of clips extracted and persisted",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rewind_active_sessions",
			Help: "Number of channels currently being recorded",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.pollsTotal,
		m.pollFailuresTotal,
		m.segmentsCapturedTotal,
		m.segmentFetchFailuresTotal,
		m.clipsCreatedTotal,
		m.activeSessions,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() { m.requestsTotal.Inc() }

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() { m.errorsTotal.Inc() }

// IncPolls increments the successful poll counter.
func (m *Metrics) IncPolls() { m.pollsTotal.Inc() }

// IncPollFailures increments the failed poll iteration counter.
func (m *Metrics) IncPollFailures() { m.pollFailuresTotal.Inc() }

// AddSegmentsCaptured adds n to the captured segment counter.
func (m *Metrics) AddSegmentsCaptured(n int) { m.segmentsCapturedTotal.Add(float64(n)) }

// AddSegmentFetchFailures adds n to the dropped segment counter.
func (m *Metrics) AddSegmentFetchFailures(n int) { m.segmentFetchFailuresTotal.Add(float64(n)) }

// IncClipsCreated increments the clip counter.
func (m *Metrics) IncClipsCreated() { m.clipsCreatedTotal.Inc() }

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) { m.activeSessions.Set(float64(n)) }

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values
// (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
