// Package strategy holds the optimization strategies the control loop can be configured with.
package strategy

import (
	"context"

	"github.com/pkg/errors"

	"github.com/determined-ai/expoptimizer/internal/cluster"
	"github.com/determined-ai/expoptimizer/internal/controlloop"
	"github.com/determined-ai/expoptimizer/pkg/check"
	"github.com/determined-ai/expoptimizer/pkg/pricing"
)

// Strategy names accepted by New.
const (
	NoopName   = "noop"
	BudgetName = "budget"
)

// LogName is the file in the optimizer log directory receiving strategy decisions.
const LogName = "strategy.jsonl"

// Config selects a strategy and carries its settings.
type Config struct {
	Name   string       `json:"name"`
	Budget BudgetConfig `json:"budget"`
}

// DefaultConfig returns the strategy settings used when none are given.
func DefaultConfig() Config {
	return Config{
		Name:   NoopName,
		Budget: DefaultBudgetConfig(),
	}
}

// Validate implements the check.Validatable interface.
func (c Config) Validate() []error {
	errs := []error{
		check.In(c.Name, []string{NoopName, BudgetName}, "strategy name"),
	}
	if c.Name == BudgetName {
		errs = append(errs, c.Budget.validate()...)
	}
	return errs
}

// Printable returns the name of the selected strategy.
func (c Config) Printable() string {
	return c.Name
}

// Dependencies are the services a strategy may act through.
type Dependencies struct {
	Cluster cluster.Manager
	Prices  pricing.Table
	// LogDir receives the strategy decision log.
	LogDir string
}

// New creates the strategy named in config.
func New(config Config, deps Dependencies) (controlloop.OptimizationStrategy, error) {
	switch config.Name {
	case NoopName:
		return Noop{}, nil
	case BudgetName:
		if err := check.Validate(config); err != nil {
			return nil, errors.Wrap(err, "invalid budget strategy configuration")
		}
		return NewBudget(config.Budget, deps)
	default:
		return nil, errors.Errorf("unknown optimization strategy %q", config.Name)
	}
}

// Noop never changes the cluster. It keeps the loop measuring and waiting for the experiment to
// finish.
type Noop struct{}

// Optimize implements controlloop.OptimizationStrategy.
func (Noop) Optimize(context.Context, string, string, controlloop.MetricSnapshot) (bool, error) {
	return false, nil
}
