package strategy

import (
	"context"
	"sort"
	"time"

	back "github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/determined-ai/expoptimizer/internal/cluster"
	"github.com/determined-ai/expoptimizer/internal/controlloop"
	"github.com/determined-ai/expoptimizer/internal/workspace"
	"github.com/determined-ai/expoptimizer/pkg/check"
	"github.com/determined-ai/expoptimizer/pkg/model"
)

// Actions recorded in the strategy log.
const (
	actionNone      = "none"
	actionLaunch    = "launch"
	actionTerminate = "terminate"
	actionRollback  = "rollback"
)

// BudgetConfig configures the Budget strategy.
type BudgetConfig struct {
	// MaxCostPerHour is the hourly spend the cluster should stay under.
	MaxCostPerHour float64 `json:"max_cost_per_hour"`
	MinInstances   int     `json:"min_instances"`
	MaxInstances   int     `json:"max_instances"`
	// InstanceType is launched when there is headroom in the budget.
	InstanceType string `json:"instance_type"`
	// ScaleUpBelowRatio is the fraction of the budget a launch may fill up to.
	ScaleUpBelowRatio float64        `json:"scale_up_below_ratio"`
	SettleTimeout     model.Duration `json:"settle_timeout"`
}

// DefaultBudgetConfig returns the budget settings used when none are given.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		MinInstances:      1,
		MaxInstances:      8,
		ScaleUpBelowRatio: 0.9,
		SettleTimeout:     model.Duration(cluster.DefaultSettleTimeout),
	}
}

func (c BudgetConfig) validate() []error {
	return []error{
		check.GreaterThan(c.MaxCostPerHour, 0.0, "max cost per hour must be positive"),
		check.GreaterThanOrEqualTo(c.MinInstances, 1, "min instances must be at least 1"),
		check.GreaterThanOrEqualTo(c.MaxInstances, c.MinInstances,
			"max instances must not be less than min instances"),
		check.NotEmpty(c.InstanceType, "instance type to launch must be set"),
		check.GreaterThan(c.ScaleUpBelowRatio, 0.0, "scale up ratio must be positive"),
		check.True(c.ScaleUpBelowRatio <= 1, "scale up ratio must not exceed 1"),
		check.GreaterThan(c.SettleTimeout, 0, "settle timeout must be positive"),
	}
}

// Budget keeps the hourly cost of the cluster under a limit. Each cycle it changes the cluster
// by at most one node: it terminates the most expensive node while over budget and launches one
// node while the budget leaves room for it, always within the configured node count bounds.
type Budget struct {
	config  BudgetConfig
	deps    Dependencies
	maxCost decimal.Decimal
	ceiling decimal.Decimal
	backoff func() back.BackOff
	clock   clockwork.Clock
	log     *log.Entry
}

// NewBudget creates a Budget strategy. The instance type it launches must be priced.
func NewBudget(config BudgetConfig, deps Dependencies) (*Budget, error) {
	if deps.Cluster == nil {
		return nil, errors.New("budget strategy needs a cluster manager")
	}
	if _, err := deps.Prices.Price(config.InstanceType); err != nil {
		return nil, errors.Wrap(err, "budget strategy cannot launch unpriced instances")
	}
	maxCost := decimal.NewFromFloat(config.MaxCostPerHour)
	return &Budget{
		config:  config,
		deps:    deps,
		maxCost: maxCost,
		ceiling: maxCost.Mul(decimal.NewFromFloat(config.ScaleUpBelowRatio)),
		backoff: func() back.BackOff {
			return cluster.SettleBackOff(time.Duration(config.SettleTimeout))
		},
		clock: clockwork.NewRealClock(),
		log:   log.WithField("component", "budget-strategy"),
	}, nil
}

type decision struct {
	Time         time.Time `json:"time"`
	ExperimentID string    `json:"experiment_id"`
	Action       string    `json:"action"`
	Instances    []string  `json:"instances,omitempty"`
	Nodes        int       `json:"nodes"`
	CostPerHour  string    `json:"cost_per_hour"`
	Reason       string    `json:"reason"`
}

// Optimize implements controlloop.OptimizationStrategy.
func (b *Budget) Optimize(
	ctx context.Context, clusterID, experimentID string, metrics controlloop.MetricSnapshot,
) (bool, error) {
	costValue, ok := metrics[controlloop.MetricCostPerHour]
	if !ok {
		return false, controlloop.DataError(
			errors.Errorf("metric %s is missing", controlloop.MetricCostPerHour))
	}
	cost := decimal.NewFromFloat(costValue)

	instances, err := b.deps.Cluster.List(ctx, clusterID)
	switch {
	case errors.Is(err, cluster.ErrClusterNotFound):
		return false, controlloop.Fatal(err)
	case err != nil:
		return false, errors.Wrapf(err, "cannot list nodes of cluster %s", clusterID)
	}
	nodes := cluster.Billable(instances)

	d := decision{
		ExperimentID: experimentID,
		Action:       actionNone,
		Nodes:        len(nodes),
		CostPerHour:  cost.String(),
	}
	defer func() { b.record(d) }()

	switch {
	case cost.GreaterThan(b.maxCost) && len(nodes) > b.config.MinInstances:
		victim, err := b.mostExpensive(nodes)
		if err != nil {
			d.Reason = err.Error()
			return false, err
		}
		d.Action, d.Instances = actionTerminate, []string{victim.ID}
		d.Reason = "cost " + cost.String() + " over budget " + b.maxCost.String()
		b.log.Infof("over budget, terminating %s", victim)
		if err := b.deps.Cluster.Terminate(ctx, clusterID, d.Instances); err != nil {
			d.Reason = err.Error()
			return false, errors.Wrapf(err, "cannot terminate %s", victim.ID)
		}
		if err := b.settle(ctx, clusterID, d.Instances, cluster.IsGone); err != nil {
			// A termination the provider accepted cannot be undone.
			d.Reason = err.Error()
			return true, controlloop.Transient(err)
		}
		return true, nil

	case cost.GreaterThan(b.maxCost):
		d.Reason = "over budget at minimum node count"
		b.log.Warnf("cost %s over budget %s but cluster is at its minimum of %d nodes",
			cost, b.maxCost, b.config.MinInstances)
		return false, nil

	case len(nodes) < b.config.MaxInstances:
		price, err := b.deps.Prices.Price(b.config.InstanceType)
		if err != nil {
			d.Reason = err.Error()
			return false, controlloop.DataError(err)
		}
		if cost.Add(price).GreaterThan(b.ceiling) {
			d.Reason = "no headroom for another " + b.config.InstanceType
			return false, nil
		}
		launched, err := b.deps.Cluster.Launch(ctx, clusterID, b.config.InstanceType, 1)
		if err != nil {
			d.Reason = err.Error()
			return false, errors.Wrapf(err, "cannot launch %s", b.config.InstanceType)
		}
		d.Action = actionLaunch
		for _, inst := range launched {
			d.Instances = append(d.Instances, inst.ID)
		}
		d.Reason = "cost " + cost.Add(price).String() + " within " + b.ceiling.String()
		b.log.Infof("budget has headroom, launched %s", cluster.FmtInstances(launched))
		if err := b.settle(ctx, clusterID, d.Instances, cluster.IsRunning); err != nil {
			return b.rollback(ctx, clusterID, &d, err)
		}
		return true, nil

	default:
		d.Reason = "at maximum node count"
		return false, nil
	}
}

// mostExpensive picks the node to give up first: the highest hourly price, then the most
// recently launched.
func (b *Budget) mostExpensive(nodes []*cluster.Instance) (*cluster.Instance, error) {
	prices := make(map[string]decimal.Decimal, len(nodes))
	for _, inst := range nodes {
		price, err := b.deps.Prices.Price(inst.InstanceType)
		if err != nil {
			return nil, controlloop.DataError(err)
		}
		prices[inst.ID] = price
	}
	sorted := append([]*cluster.Instance(nil), nodes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := prices[sorted[i].ID], prices[sorted[j].ID]
		if !pi.Equal(pj) {
			return pi.GreaterThan(pj)
		}
		return sorted[i].LaunchTime.After(sorted[j].LaunchTime)
	})
	return sorted[0], nil
}

// settle waits for a mutation to show up in the cluster listing.
func (b *Budget) settle(
	ctx context.Context, clusterID string, ids []string, done func(cluster.InstanceState) bool,
) error {
	return cluster.WaitForState(ctx, b.deps.Cluster, clusterID, ids, done, b.backoff())
}

// rollback terminates nodes whose launch did not settle. The cluster counts as unchanged only
// once they are gone.
func (b *Budget) rollback(
	ctx context.Context, clusterID string, d *decision, cause error,
) (bool, error) {
	b.log.WithError(cause).Warnf("launch did not settle, terminating %v", d.Instances)
	d.Action = actionRollback
	d.Reason = cause.Error()

	err := b.deps.Cluster.Terminate(ctx, clusterID, d.Instances)
	if err == nil {
		err = b.settle(ctx, clusterID, d.Instances, cluster.IsGone)
	}
	if err != nil {
		merr := multierror.Append(cause, errors.Wrap(err, "cannot roll back launch"))
		d.Reason = merr.Error()
		return true, controlloop.Transient(merr)
	}
	return false, controlloop.Transient(cause)
}

func (b *Budget) record(d decision) {
	if b.deps.LogDir == "" {
		return
	}
	d.Time = b.clock.Now().UTC()
	if err := workspace.AppendJSON(b.deps.LogDir, LogName, d); err != nil {
		b.log.WithError(err).Warn("cannot append to strategy log")
	}
}
