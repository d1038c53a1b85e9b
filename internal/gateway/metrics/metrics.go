package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks calls made to outbound access points.
type Metrics struct {
	Registered      *prometheus.CounterVec
	Unregistered    *prometheus.CounterVec
	DocumentsSent   *prometheus.CounterVec
	CallDuration    *prometheus.HistogramVec
	CircuitOpenings *prometheus.CounterVec
}

// New registers the gateway metrics on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Registered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "register_total",
			Help: "Total # registrations",
		}, []string{"gateway"}),
		Unregistered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unregister_total",
			Help: "Total # unregistrations",
		}, []string{"gateway"}),
		DocumentsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "document_send_total",
			Help: "Total # sent documents",
		}, []string{"gateway"}),
		CallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "peppolrelay_gateway_call_duration_seconds",
			Help:    "Duration of access point calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		}, []string{"gateway", "operation", "outcome"}),
		CircuitOpenings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peppolrelay_gateway_circuit_opened_total",
			Help: "Times an access point circuit opened",
		}, []string{"gateway"}),
	}
}

func (m *Metrics) IncrementRegistered(gateway string) {
	m.Registered.WithLabelValues(gateway).Inc()
}

func (m *Metrics) IncrementUnregistered(gateway string) {
	m.Unregistered.WithLabelValues(gateway).Inc()
}

func (m *Metrics) IncrementDocumentsSent(gateway string) {
	m.DocumentsSent.WithLabelValues(gateway).Inc()
}

func (m *Metrics) IncrementCircuitOpened(gateway string) {
	m.CircuitOpenings.WithLabelValues(gateway).Inc()
}

// ObserveCall records the duration of one call. Call with time.Now() at the
// start of the operation.
func (m *Metrics) ObserveCall(gateway, operation, outcome string, start time.Time) {
	m.CallDuration.WithLabelValues(gateway, operation, outcome).Observe(time.Since(start).Seconds())
}
