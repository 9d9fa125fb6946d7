// Package metrics exposes Prometheus collectors for node and run execution.
//
// Collectors (namespace "gflow"):
//
//	node_executions_total{type,status}  counter
//	node_duration_seconds{type}         histogram
//	nodes_inflight                      gauge
//	runs_total{status}                  counter, one per finished run
//	runs_active                         gauge
//	scheduler_fires_total{outcome}      counter
//
// Use a dedicated registry and serve it with Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gw123/gflow-sub001/internal/engine"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

const namespace = "gflow"

// Metrics groups the gflow collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	nodeExecutions *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec
	nodesInflight  prometheus.Gauge
	runsTotal      *prometheus.CounterVec
	runsActive     prometheus.Gauge
	schedulerFires *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg)
}

// NewWithRegistry creates the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		nodeExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Finished node executions by node type and status.",
		}, []string{"type", "status"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Node execution duration.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 60},
		}, []string{"type"}),
		nodesInflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes_inflight",
			Help:      "Nodes currently executing.",
		}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Runs that reached a final status.",
		}, []string{"status"}),
		runsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Runs currently held by the runtime.",
		}),
		schedulerFires: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_fires_total",
			Help:      "Scheduled job firings by outcome.",
		}, []string{"outcome"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// NodeHook returns an engine hook recording node events.
func (m *Metrics) NodeHook() engine.NodeHook {
	return func(ev engine.NodeEvent) {
		if m == nil {
			return
		}
		if ev.Status == schema.StatusRunning {
			m.nodesInflight.Inc()
			return
		}
		m.nodesInflight.Dec()
		m.nodeExecutions.WithLabelValues(ev.Type, string(ev.Status)).Inc()
		m.nodeDuration.WithLabelValues(ev.Type).Observe(ev.Duration.Seconds())
	}
}

// RunStarted marks a run as active.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

// RunFinished records a run leaving the active set with status.
func (m *Metrics) RunFinished(status schema.RunStatus) {
	if m == nil {
		return
	}
	m.runsActive.Dec()
	m.runsTotal.WithLabelValues(string(status)).Inc()
}

// SchedulerFired records one scheduled job firing. outcome is "started",
// "failed" or "skipped".
func (m *Metrics) SchedulerFired(outcome string) {
	if m == nil {
		return
	}
	m.schedulerFires.WithLabelValues(outcome).Inc()
}
