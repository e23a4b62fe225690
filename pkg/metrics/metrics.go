// Package metrics defines the Prometheus collectors shared by the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the engine's collectors. A nil *Metrics is valid and
// turns every recording call into a no-op, which keeps tests quiet.
type Metrics struct {
	GraphRebuilds        prometheus.Counter
	GraphRebuildDuration prometheus.Histogram
	GraphEdges           prometheus.Gauge
	GraphNodes           prometheus.Gauge

	QuoteRequests *prometheus.CounterVec // outcome: found|not_found|failed
	QuoteDuration prometheus.Histogram

	HopSubmissions *prometheus.CounterVec // venue, outcome: ok|error
	Executions     *prometheus.CounterVec // outcome: completed|failed
}

// New creates and registers the engine collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GraphRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "exchange",
			Name:      "graph_rebuilds_total",
			Help:      "Number of graph snapshot rebuilds.",
		}),
		GraphRebuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "exchange",
			Name:      "graph_rebuild_duration_seconds",
			Help:      "Duration of graph snapshot rebuilds.",
			Buckets:   prometheus.DefBuckets,
		}),
		GraphEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "exchange",
			Name:      "graph_edges",
			Help:      "Edges in the latest graph snapshot.",
		}),
		GraphNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "exchange",
			Name:      "graph_nodes",
			Help:      "Nodes in the latest graph snapshot.",
		}),
		QuoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Name:      "quote_requests_total",
			Help:      "Quote requests by outcome.",
		}, []string{"outcome"}),
		QuoteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "exchange",
			Name:      "quote_duration_seconds",
			Help:      "Duration of route search and quoting.",
			Buckets:   prometheus.DefBuckets,
		}),
		HopSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Name:      "hop_submissions_total",
			Help:      "Hop submissions by venue and outcome.",
		}, []string{"venue", "outcome"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Name:      "executions_total",
			Help:      "Route executions by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.GraphRebuilds,
		m.GraphRebuildDuration,
		m.GraphEdges,
		m.GraphNodes,
		m.QuoteRequests,
		m.QuoteDuration,
		m.HopSubmissions,
		m.Executions,
	)
	return m
}

// ObserveRebuild records one graph rebuild.
func (m *Metrics) ObserveRebuild(seconds float64, nodes, edges int) {
	if m == nil {
		return
	}
	m.GraphRebuilds.Inc()
	m.GraphRebuildDuration.Observe(seconds)
	m.GraphNodes.Set(float64(nodes))
	m.GraphEdges.Set(float64(edges))
}

// ObserveQuote records one quote request.
func (m *Metrics) ObserveQuote(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.QuoteRequests.WithLabelValues(outcome).Inc()
	m.QuoteDuration.Observe(seconds)
}

// ObserveHop records one hop submission.
func (m *Metrics) ObserveHop(venue, outcome string) {
	if m == nil {
		return
	}
	m.HopSubmissions.WithLabelValues(venue, outcome).Inc()
}

// ObserveExecution records one execution attempt outcome.
func (m *Metrics) ObserveExecution(outcome string) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(outcome).Inc()
}
