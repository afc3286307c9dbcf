package tab

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts what happens to a session. Each Metrics has its own registry so
// several services can live in one process.
type Metrics struct {
	registry        *prometheus.Registry
	extractions     *prometheus.CounterVec
	interpretations *prometheus.CounterVec
	assignments     prometheus.Counter
	staleResults    prometheus.Counter
	resets          *prometheus.CounterVec
}

// NewMetrics creates and registers the session counters
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bill_splitter_extractions_total",
			Help: "Receipt extractions by result.",
		}, []string{"result"}),
		interpretations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bill_splitter_interpretations_total",
			Help: "Split command interpretations by result.",
		}, []string{"result"}),
		assignments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bill_splitter_manual_assignments_total",
			Help: "Manual item assignments and unassignments.",
		}),
		staleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bill_splitter_stale_results_total",
			Help: "External results discarded because the session changed while they were in flight.",
		}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bill_splitter_session_resets_total",
			Help: "Session resets by cause.",
		}, []string{"cause"}),
	}
	m.registry.MustRegister(m.extractions, m.interpretations, m.assignments, m.staleResults, m.resets)
	return m
}

// Handler serves the metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) extraction(result string) {
	m.extractions.WithLabelValues(result).Inc()
}

func (m *Metrics) interpretation(result string) {
	m.interpretations.WithLabelValues(result).Inc()
}

func (m *Metrics) reset(cause string) {
	m.resets.WithLabelValues(cause).Inc()
}
