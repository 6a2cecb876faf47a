// Package metrics provides the Prometheus metrics of the whereabouts service.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors of the service
type Metrics struct {
	EventsDispatched  *prometheus.CounterVec   // by event and sink, status: success or error
	DispatchDuration  *prometheus.HistogramVec // by sink
	StatusUpdates     *prometheus.CounterVec   // by party
	LiveConnections   prometheus.Gauge
	HTTPRequestsTotal *prometheus.CounterVec // by method, route and code

	registry *prometheus.Registry
}

// New creates the metrics and registers them with a fresh registry
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.EventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whereabouts_events_dispatched_total",
			Help: "Total number of domain events handed to a sink by event, sink and status",
		},
		[]string{"event", "sink", "status"},
	)

	m.DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whereabouts_event_dispatch_duration_seconds",
			Help:    "Time taken to hand an event to a sink",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"sink"},
	)

	m.StatusUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whereabouts_status_updates_total",
			Help: "Total number of whereabouts status updates by party",
		},
		[]string{"party"},
	)

	m.LiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "whereabouts_live_connections",
		Help: "Number of connected live feed websockets",
	})

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whereabouts_http_requests_total",
			Help: "Total number of HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "code"},
	)

	collectorsToRegister := []prometheus.Collector{
		m.EventsDispatched,
		m.DispatchDuration,
		m.StatusUpdates,
		m.LiveConnections,
		m.HTTPRequestsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range collectorsToRegister {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return m, nil
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveDispatch records the outcome of handing an event to a sink
func (m *Metrics) ObserveDispatch(event, sink string, started time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.EventsDispatched.WithLabelValues(event, sink, status).Inc()
	m.DispatchDuration.WithLabelValues(sink).Observe(time.Since(started).Seconds())
}

// ObserveRequest records a served HTTP request
func (m *Metrics) ObserveRequest(method, route string, code int) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}
