package controlloop

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/determined-ai/expoptimizer/internal/prom"
)

const promSubsystem = "control_loop"

var (
	cyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: prom.Namespace,
		Subsystem: promSubsystem,
		Name:      "cycles_total",
		Help:      "control loop ticks by the branch they took",
	}, []string{"branch"})
	changesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: prom.Namespace,
		Subsystem: promSubsystem,
		Name:      "topology_changes_total",
		Help:      "cycles in which the strategy changed the cluster",
	})
	errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: prom.Namespace,
		Subsystem: promSubsystem,
		Name:      "errors_total",
		Help:      "collaborator errors by call and class",
	}, []string{"call", "class"})
	callSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: prom.Namespace,
		Subsystem: promSubsystem,
		Name:      "call_seconds",
		Help:      "latency of collaborator calls",
		Buckets:   prometheus.DefBuckets,
	}, []string{"call"})
)

func init() {
	prometheus.MustRegister(cyclesTotal, changesTotal, errorsTotal, callSeconds)
}
