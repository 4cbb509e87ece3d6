// Package reporter measures the running cost of an experiment cluster, detects when the
// experiment finished and collects its results.
package reporter

import (
	"context"
	"path"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/determined-ai/expoptimizer/internal/cluster"
	"github.com/determined-ai/expoptimizer/internal/controlloop"
	"github.com/determined-ai/expoptimizer/internal/objectstore"
	"github.com/determined-ai/expoptimizer/internal/results"
	"github.com/determined-ai/expoptimizer/internal/workspace"
	"github.com/determined-ai/expoptimizer/pkg/pricing"
)

const (
	// CompletionMarker is the object an experiment writes below its prefix once it finished.
	CompletionMarker = "_SUCCESS"
	// ProbeLogName is the file in the probe log directory receiving one snapshot per cycle.
	ProbeLogName = "metrics.jsonl"
)

var hour = decimal.NewFromInt(int64(time.Hour))

// CostReporter implements controlloop.Reporter on top of a cluster manager and the object store
// the experiment writes to.
type CostReporter struct {
	cluster   cluster.Manager
	store     objectstore.Store
	collector *results.Collector
	clock     clockwork.Clock
	log       *log.Entry
}

// Option customizes a CostReporter.
type Option func(*CostReporter)

// WithClock replaces the clock used to compute accumulated cost.
func WithClock(clock clockwork.Clock) Option {
	return func(r *CostReporter) {
		r.clock = clock
	}
}

// New creates a CostReporter.
func New(m cluster.Manager, store objectstore.Store, opts ...Option) *CostReporter {
	r := &CostReporter{
		cluster:   m,
		store:     store,
		collector: results.New(store),
		clock:     clockwork.NewRealClock(),
		log:       log.WithField("component", "cost-reporter"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type probeRecord struct {
	Time         time.Time                  `json:"time"`
	ExperimentID string                     `json:"experiment_id"`
	Metrics      controlloop.MetricSnapshot `json:"metrics"`
}

// GetMetrics prices every billable node of the cluster. A node whose instance type is missing
// from prices makes the whole snapshot a data error.
func (r *CostReporter) GetMetrics(
	ctx context.Context, clusterID, experimentID, probeLogsDir string, prices pricing.Table,
) (controlloop.MetricSnapshot, error) {
	instances, err := r.cluster.List(ctx, clusterID)
	switch {
	case errors.Is(err, cluster.ErrClusterNotFound):
		return nil, controlloop.Fatal(err)
	case err != nil:
		return nil, errors.Wrapf(err, "cannot list nodes of cluster %s", clusterID)
	}

	now := r.clock.Now()
	billable := cluster.Billable(instances)
	snapshot := controlloop.MetricSnapshot{controlloop.MetricNodes: float64(len(billable))}
	perHour, total := decimal.Zero, decimal.Zero
	for _, inst := range billable {
		price, err := prices.Price(inst.InstanceType)
		if err != nil {
			return nil, controlloop.DataError(errors.Wrapf(err, "cannot price node %s", inst.ID))
		}
		perHour = perHour.Add(price)
		total = total.Add(price.Mul(decimal.NewFromInt(int64(inst.Uptime(now)))).Div(hour))
		snapshot[inst.ID], _ = price.Float64()
	}
	snapshot[controlloop.MetricCostPerHour], _ = perHour.Float64()
	snapshot[controlloop.MetricTotalCost], _ = total.Round(6).Float64()

	record := probeRecord{Time: now.UTC(), ExperimentID: experimentID, Metrics: snapshot}
	if err := workspace.AppendJSON(probeLogsDir, ProbeLogName, record); err != nil {
		r.log.WithError(err).Warn("cannot append to probe log")
	}
	return snapshot, nil
}

// IsTerminated looks for the experiment's completion marker. A failed lookup never reads as
// terminated.
func (r *CostReporter) IsTerminated(
	ctx context.Context, clusterID, experimentID string,
) (bool, error) {
	key := path.Join(experimentID, CompletionMarker)
	ok, err := r.store.Exists(ctx, key)
	if err != nil {
		return false, controlloop.Transient(errors.Wrapf(err, "cannot look up %s", key))
	}
	return ok, nil
}

// FetchResults copies every object below the experiment's prefix into outputDir.
func (r *CostReporter) FetchResults(
	ctx context.Context, clusterID, experimentID, outputDir string,
) error {
	n, err := r.collector.Collect(ctx, experimentID+"/", outputDir)
	if err != nil {
		return errors.Wrapf(err, "cannot collect results of experiment %s", experimentID)
	}
	r.log.WithFields(log.Fields{
		"cluster-id":    clusterID,
		"experiment-id": experimentID,
	}).Infof("fetched %d result files into %s", n, outputDir)
	return nil
}
