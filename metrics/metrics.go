// Package metrics exports engine events as Prometheus counters.
//
// A Metrics value implements pawn.Observer; pass it to NewConfigStore,
// NewChain, NewCalculationLogger and NewEngine, and serve Handler() on
// /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/pawn-engine/pawn"
)

const namespace = "pawn"

// Metrics holds the engine collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	Calculations    *prometheus.CounterVec
	ChainOperations *prometheus.CounterVec
	ConfigFallbacks prometheus.Counter
	AuditDropped    prometheus.Counter
	AuditFailed     prometheus.Counter
}

var _ pawn.Observer = (*Metrics)(nil)

// New registers the engine collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Calculations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "calculations_total",
			Help:      "Completed calculations by kind and method.",
		}, []string{"kind", "method"}),
		ChainOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "operations_total",
			Help:      "Ticket chain operations by type and outcome.",
		}, []string{"operation", "outcome"}),
		ConfigFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "fallbacks_total",
			Help:      "Reads served from compiled-in defaults because the store failed.",
		}),
		AuditDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calculation_log",
			Name:      "dropped_total",
			Help:      "Calculation log entries dropped because the queue was full or closed.",
		}),
		AuditFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calculation_log",
			Name:      "write_failures_total",
			Help:      "Calculation log entries the sink failed to persist.",
		}),
	}
}

func (m *Metrics) CalculationCompleted(kind pawn.CalculationKind, method string) {
	m.Calculations.WithLabelValues(string(kind), method).Inc()
}

func (m *Metrics) ChainOperation(op string, outcome string) {
	m.ChainOperations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ConfigFallback()  { m.ConfigFallbacks.Inc() }
func (m *Metrics) AuditLogDropped() { m.AuditDropped.Inc() }
func (m *Metrics) AuditLogFailed()  { m.AuditFailed.Inc() }

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
