package controlloop

import (
	"context"
	"time"

	"github.com/determined-ai/expoptimizer/pkg/pricing"
)

// ExperimentRun identifies one optimization session.
type ExperimentRun struct {
	ClusterID    string
	ExperimentID string
	StartTime    time.Time
	Prices       pricing.Table
}

// MetricSnapshot maps a metric name or node identifier to its latest value.
type MetricSnapshot map[string]float64

// Well-known snapshot keys. Any other key names a node and holds its hourly price.
const (
	MetricNodes       = "nodes"
	MetricCostPerHour = "cost_per_hour"
	MetricTotalCost   = "total_cost"
)

// MetricSource supplies point-in-time metrics of a running experiment. It must not mutate the
// cluster and may append diagnostics to probeLogsDir.
type MetricSource interface {
	GetMetrics(
		ctx context.Context,
		clusterID, experimentID, probeLogsDir string,
		prices pricing.Table,
	) (MetricSnapshot, error)
}

// TerminationProbe reports whether the experiment's application has finished. When the answer
// is ambiguous it must report false.
type TerminationProbe interface {
	IsTerminated(ctx context.Context, clusterID, experimentID string) (bool, error)
}

// ResultCollector copies application output into outputDir. Calling it again with the same
// outputDir must leave the directory as a single call would.
type ResultCollector interface {
	FetchResults(ctx context.Context, clusterID, experimentID, outputDir string) error
}

// Reporter is the reporting role: metrics, termination and result collection.
type Reporter interface {
	MetricSource
	TerminationProbe
	ResultCollector
}

// OptimizationStrategy decides whether to reshape the cluster and applies the change. It
// returns true iff the topology changed, and only once the change has completed or was rolled
// back. A change that can neither complete nor be undone is reported as true alongside the
// error.
type OptimizationStrategy interface {
	Optimize(
		ctx context.Context, clusterID, experimentID string, metrics MetricSnapshot,
	) (bool, error)
}

// ClusterStopper tears the cluster down once the experiment finished.
type ClusterStopper interface {
	StopCluster(ctx context.Context, clusterID string) error
}
