// Package metrics holds the prometheus collectors of a pkgplan process.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vk/pkgplan/internal/events"
)

// Collectors groups every metric. It also implements events.Publisher and
// counts terminal node states.
type Collectors struct {
	registry *prometheus.Registry

	NodesTotal         *prometheus.CounterVec
	ConflictsTotal     prometheus.Counter
	ResolutionDuration prometheus.Histogram
	NodeDuration       *prometheus.HistogramVec
	GraphNodes         prometheus.Gauge
	GraphLevels        prometheus.Gauge
}

// New creates the collectors and registers them on a dedicated registry.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		NodesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pkgplan_nodes_total",
				Help: "Number of graph nodes that reached a terminal state, by state.",
			},
			[]string{"state"},
		),
		ConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pkgplan_conflicts_total",
				Help: "Number of resolutions that failed with a conflict.",
			},
		),
		ResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pkgplan_resolution_duration_seconds",
				Help:    "Time taken to solve requirements and build the graph.",
				Buckets: prometheus.DefBuckets,
			},
		),
		NodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pkgplan_node_duration_seconds",
				Help:    "Time taken to build or reuse one node.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"state"},
		),
		GraphNodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pkgplan_graph_nodes",
				Help: "Number of package nodes in the last resolved graph.",
			},
		),
		GraphLevels: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pkgplan_graph_levels",
				Help: "Number of build levels in the last resolved graph.",
			},
		),
	}
	c.registry.MustRegister(
		c.NodesTotal,
		c.ConflictsTotal,
		c.ResolutionDuration,
		c.NodeDuration,
		c.GraphNodes,
		c.GraphLevels,
	)
	return c
}

// Registry returns the registry the collectors are registered on.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

// Handler serves the collectors in the prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveResolution records a resolution attempt.
func (c *Collectors) ObserveResolution(d time.Duration, conflict bool) {
	c.ResolutionDuration.Observe(d.Seconds())
	if conflict {
		c.ConflictsTotal.Inc()
	}
}

// ObserveGraph records the shape of a resolved graph.
func (c *Collectors) ObserveGraph(nodes, levels int) {
	c.GraphNodes.Set(float64(nodes))
	c.GraphLevels.Set(float64(levels))
}

// ObserveNode records how long a node took to reach state.
func (c *Collectors) ObserveNode(state events.State, d time.Duration) {
	c.NodeDuration.WithLabelValues(state.String()).Observe(d.Seconds())
}

// Publish implements events.Publisher.
func (c *Collectors) Publish(_ context.Context, e events.Event) {
	if e.State.Terminal() {
		c.NodesTotal.WithLabelValues(e.State.String()).Inc()
	}
}
