// Package metrics holds the application level Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the HTTP and document counters. Gateway call metrics live in
// the gateway package.
type Metrics struct {
	registry *prometheus.Registry

	RequestLatency       *prometheus.HistogramVec
	DocumentsReceived    prometheus.Counter
	DocumentsRescheduled prometheus.Counter
	DocumentsDispatched  *prometheus.CounterVec
	EventsPublished      prometheus.Counter
}

// New creates a private registry with Go runtime collectors and the
// application metrics registered on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "peppolrelay_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		DocumentsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "document_received_total",
			Help: "Total # received documents",
		}),
		DocumentsRescheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "document_reschedule_total",
			Help: "Total # rescheduled documents",
		}),
		DocumentsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peppolrelay_document_dispatch_total",
			Help: "Dispatch outcomes per document",
		}, []string{"outcome"}),
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "peppolrelay_events_published_total",
			Help: "Outbox events handed to the publisher",
		}),
	}
}

// Registerer exposes the registry so other packages can add their collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	return m.registry
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequestLatency(method, route, status string, start time.Time) {
	m.RequestLatency.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementReceived() {
	m.DocumentsReceived.Inc()
}

func (m *Metrics) IncrementRescheduled() {
	m.DocumentsRescheduled.Inc()
}

func (m *Metrics) IncrementDispatched(outcome string) {
	m.DocumentsDispatched.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementEventsPublished(n int) {
	m.EventsPublished.Add(float64(n))
}
