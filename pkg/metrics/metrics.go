// Package metrics provides the Prometheus metrics surface named in
// SPEC_FULL.md's domain stack: job queue depth, round latency, and node
// exec counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the engine registers.
type Metrics struct {
	registry *prometheus.Registry

	NodeExecTotal    *prometheus.CounterVec
	NodeExecErrors   *prometheus.CounterVec
	RoundDuration     *prometheus.HistogramVec
	JobQueueDepth     prometheus.Gauge
	JobsProcessed     *prometheus.CounterVec
}

// New creates and registers every collector.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		NodeExecTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storyforge",
			Name:      "node_exec_total",
			Help:      "Total atomic node executions, by node type.",
		}, []string{"node_type"}),
		NodeExecErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storyforge",
			Name:      "node_exec_errors_total",
			Help:      "Total atomic node execution failures, by node type.",
		}, []string{"node_type"}),
		RoundDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storyforge",
			Name:      "round_duration_seconds",
			Help:      "Main IR run latency per chat round.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		JobQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storyforge",
			Name:      "job_queue_depth",
			Help:      "Number of jobs currently pending in the outbox.",
		}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storyforge",
			Name:      "jobs_processed_total",
			Help:      "Total jobs processed by the outbox poller, by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}

	registry.MustRegister(m.NodeExecTotal, m.NodeExecErrors, m.RoundDuration, m.JobQueueDepth, m.JobsProcessed)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
