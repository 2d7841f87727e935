package pipeline

import (
	"net/http"
	"time"

	"graph-ingest/graph"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for ingestion runs. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Runs          *prometheus.CounterVec
	Units         *prometheus.CounterVec
	UnitDuration  *prometheus.HistogramVec
	Nodes         *prometheus.CounterVec
	Relationships *prometheus.CounterVec
}

// NewMetrics creates collectors on a private registry.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of ingestion runs",
			},
			[]string{"source", "status"},
		),
		Units: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_total",
				Help:      "Total number of units processed",
			},
			[]string{"source", "status"},
		),
		UnitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_duration_seconds",
				Help:      "Time spent fetching, enriching and writing one unit",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"source"},
		),
		Nodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nodes_written_total",
				Help:      "Total number of nodes written",
			},
			[]string{"label", "outcome"},
		),
		Relationships: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relationships_written_total",
				Help:      "Total number of relationship drafts applied",
			},
			[]string{"type", "outcome"},
		),
	}

	registry.MustRegister(
		m.Runs,
		m.Units,
		m.UnitDuration,
		m.Nodes,
		m.Relationships,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeUnit(src Source, status string, elapsed time.Duration, counts graph.Counts) {
	if m == nil {
		return
	}
	m.Units.WithLabelValues(string(src), status).Inc()
	m.UnitDuration.WithLabelValues(string(src)).Observe(elapsed.Seconds())

	for label, lc := range counts.Nodes {
		m.Nodes.WithLabelValues(string(label), "created").Add(float64(lc.Created))
		m.Nodes.WithLabelValues(string(label), "updated").Add(float64(lc.Updated))
	}
	for t, n := range counts.Rels {
		m.Relationships.WithLabelValues(string(t), "written").Add(float64(n))
	}
	for t, n := range counts.OmittedRels {
		m.Relationships.WithLabelValues(string(t), "omitted").Add(float64(n))
	}
}

func (m *Metrics) observeRun(src Source, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.Runs.WithLabelValues(string(src), status).Inc()
}
