// Package metrics provides Prometheus metrics for the memory graph service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	MutationsTotal     *prometheus.CounterVec
	IntentsTotal       *prometheus.CounterVec
	IntentDuration     *prometheus.HistogramVec
	TasksTotal         *prometheus.CounterVec
	TaskDuration       *prometheus.HistogramVec
	GraphNodes         prometheus.Gauge
	GraphRelationships prometheus.Gauge
	StreamClients      prometheus.Gauge
	ErrorsTotal        *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memgraph_mutations_total",
				Help: "Applied graph mutations by change event kind.",
			},
			[]string{"kind"},
		),
		IntentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memgraph_intents_total",
				Help: "Processed intents by kind and status.",
			},
			[]string{"kind", "status"},
		),
		IntentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memgraph_intent_duration_seconds",
				Help:    "Intent processing duration by kind.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		TasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memgraph_tasks_total",
				Help: "Finished agent tasks by agent and status.",
			},
			[]string{"agent", "status"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memgraph_task_duration_seconds",
				Help:    "Agent task execution duration by agent.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent"},
		),
		GraphNodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memgraph_graph_nodes",
				Help: "Number of nodes in the graph.",
			},
		),
		GraphRelationships: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memgraph_graph_relationships",
				Help: "Number of relationships in the graph.",
			},
		),
		StreamClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memgraph_event_stream_clients",
				Help: "Connected change-event stream clients.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memgraph_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.MutationsTotal)
	reg.MustRegister(m.IntentsTotal)
	reg.MustRegister(m.IntentDuration)
	reg.MustRegister(m.TasksTotal)
	reg.MustRegister(m.TaskDuration)
	reg.MustRegister(m.GraphNodes)
	reg.MustRegister(m.GraphRelationships)
	reg.MustRegister(m.StreamClients)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordMutation counts one applied change event.
func (m *Metrics) RecordMutation(kind string) {
	m.MutationsTotal.WithLabelValues(kind).Inc()
}

// RecordIntent counts a processed intent and observes its duration.
func (m *Metrics) RecordIntent(kind, status string, seconds float64) {
	m.IntentsTotal.WithLabelValues(kind, status).Inc()
	m.IntentDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordTask counts a finished task and observes its duration.
func (m *Metrics) RecordTask(agent, status string, seconds float64) {
	m.TasksTotal.WithLabelValues(agent, status).Inc()
	m.TaskDuration.WithLabelValues(agent).Observe(seconds)
}

// SetGraphSize updates the graph size gauges.
func (m *Metrics) SetGraphSize(nodes, relationships int) {
	m.GraphNodes.Set(float64(nodes))
	m.GraphRelationships.Set(float64(relationships))
}

// StreamClientConnected adjusts the stream client gauge by delta.
func (m *Metrics) StreamClientConnected(delta int) {
	m.StreamClients.Add(float64(delta))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}
