package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors groups the Prometheus series exported by the engine. They are
// registered on an injected registry so tests and multiple engines in one
// process never collide on the default registerer.
type Collectors struct {
	TraceRequests   *prometheus.CounterVec
	TraceAvgHops    prometheus.Gauge
	TraceErrorRate  prometheus.Gauge
	Latency         *prometheus.HistogramVec
	GraphNodes      prometheus.Gauge
	GraphEdges      prometheus.Gauge
	RiskAssessments *prometheus.CounterVec
	ShadowDelta     prometheus.Histogram
	HTTPRequests    *prometheus.CounterVec
}

// NewCollectors registers every series on reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		// status: success, error
		TraceRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trace_requests_total",
			Help: "Total trace requests by status",
		}, []string{"status"}),

		TraceAvgHops: f.NewGauge(prometheus.GaugeOpts{
			Name: "trace_avg_hops",
			Help: "Average hops in trace responses",
		}),

		TraceErrorRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "trace_error_rate",
			Help: "Trace error rate over process lifetime",
		}),

		// operation: trace, risk, propagation_map, simulate
		Latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trace_latency_seconds",
			Help:    "Latency of trace, risk and simulation operations",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),

		GraphNodes: f.NewGauge(prometheus.GaugeOpts{
			Name: "graph_nodes_total",
			Help: "Current number of graph nodes",
		}),

		GraphEdges: f.NewGauge(prometheus.GaugeOpts{
			Name: "graph_edges_total",
			Help: "Current number of graph edges",
		}),

		// level: LOW, MEDIUM, HIGH
		RiskAssessments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_assessments_total",
			Help: "Risk assessments by level",
		}, []string{"level"}),

		ShadowDelta: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shadow_max_score_delta",
			Help:    "Largest absolute score difference between production and shadow propagation",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total API requests",
		}, []string{"method", "route", "status"}),
	}
}

// ObserveLatency records how long operation took since start.
func (c *Collectors) ObserveLatency(operation string, start time.Time) {
	if c == nil {
		return
	}
	c.Latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// SetGraphSize publishes the live graph size.
func (c *Collectors) SetGraphSize(nodes, edges int) {
	if c == nil {
		return
	}
	c.GraphNodes.Set(float64(nodes))
	c.GraphEdges.Set(float64(edges))
}

// RecordAssessment counts one risk assessment at level.
func (c *Collectors) RecordAssessment(level string) {
	if c == nil {
		return
	}
	c.RiskAssessments.WithLabelValues(level).Inc()
}

// RecordShadowDelta observes a shadow comparison.
func (c *Collectors) RecordShadowDelta(delta float64) {
	if c == nil {
		return
	}
	c.ShadowDelta.Observe(delta)
}
