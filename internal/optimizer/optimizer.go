// Package optimizer wires the configured collaborators into a control loop and runs it.
package optimizer

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/determined-ai/expoptimizer/internal/cluster"
	"github.com/determined-ai/expoptimizer/internal/controlloop"
	"github.com/determined-ai/expoptimizer/internal/objectstore"
	"github.com/determined-ai/expoptimizer/internal/options"
	"github.com/determined-ai/expoptimizer/internal/prom"
	"github.com/determined-ai/expoptimizer/internal/reporter"
	"github.com/determined-ai/expoptimizer/internal/strategy"
	"github.com/determined-ai/expoptimizer/internal/workspace"
	"github.com/determined-ai/expoptimizer/pkg/pricing"
)

// Option overrides how a run builds its collaborators.
type Option func(*settings)

type settings struct {
	clock   clockwork.Clock
	manager cluster.Manager
	store   objectstore.Store
}

// WithClock sets the clock of the run.
func WithClock(clock clockwork.Clock) Option {
	return func(s *settings) { s.clock = clock }
}

// WithClusterManager replaces the EC2 cluster manager.
func WithClusterManager(m cluster.Manager) Option {
	return func(s *settings) { s.manager = m }
}

// WithStore replaces the object store built from the result storage options.
func WithStore(store objectstore.Store) Option {
	return func(s *settings) { s.store = store }
}

// Run optimizes one experiment until it finished or the loop aborts. Errors returned before the
// loop starts leave the filesystem and the cluster untouched; everything later is reported in
// the outcome.
func Run(
	ctx context.Context, version string, opts options.Options, overrides ...Option,
) (controlloop.Outcome, error) {
	s := settings{clock: clockwork.NewRealClock()}
	for _, o := range overrides {
		o(&s)
	}

	syslog := log.WithFields(log.Fields{
		"run-id":        uuid.New().String(),
		"cluster-id":    opts.ClusterID,
		"experiment-id": opts.ExperimentID,
	})
	syslog.Infof("exp-optimizer %s (built with %s)", version, runtime.Version())

	prices, err := pricing.Load(opts.VMPrice)
	if err != nil {
		return controlloop.Outcome{}, err
	}
	syslog.Infof("loaded prices for %d instance types from %s", len(prices), opts.VMPrice)

	if s.manager == nil {
		if s.manager, err = cluster.NewAWS(opts.AWS); err != nil {
			return controlloop.Outcome{}, errors.Wrap(err, "cannot build cluster manager")
		}
	}
	if s.store == nil {
		if s.store, err = objectstore.New(ctx, opts.ResultStorage); err != nil {
			return controlloop.Outcome{}, errors.Wrap(err, "cannot open result storage")
		}
	}

	start := s.clock.Now()
	ws, err := workspace.New(opts.RootDir, opts.ExperimentID, start)
	if err != nil {
		return controlloop.Outcome{}, err
	}
	strat, err := strategy.New(opts.Strategy, strategy.Dependencies{
		Cluster: s.manager,
		Prices:  prices,
		LogDir:  ws.OptimizerLogs,
	})
	if err != nil {
		return controlloop.Outcome{}, errors.Wrap(err, "cannot build optimization strategy")
	}

	if err = ws.Create(); err != nil {
		return controlloop.Outcome{}, errors.Wrap(err, "cannot create experiment workspace")
	}
	syslog.Infof("cluster %s, experiment %s, prices %s", opts.ClusterID, opts.ExperimentID,
		opts.VMPrice)
	syslog.Infof("application results in %s", ws.ResultsDir)
	syslog.Infof("optimizer logs in %s", ws.OptimizerLogs)
	syslog.Infof("probe logs in %s", ws.ProbeLogs)
	syslog.Infof("optimization strategy: %s", opts.Strategy.Printable())

	loop, err := controlloop.New(
		controlloop.Config{
			PollInterval:            time.Duration(opts.ReportTime),
			CheckImmediatelyOnStart: opts.CheckImmediately,
		},
		controlloop.Collaborators{
			Strategy: strat,
			Cluster:  s.manager,
		}.WithReporter(reporter.New(s.manager, s.store, reporter.WithClock(s.clock))),
		ws,
		controlloop.WithClock(s.clock),
	)
	if err != nil {
		return controlloop.Outcome{}, err
	}

	run := controlloop.ExperimentRun{
		ClusterID:    opts.ClusterID,
		ExperimentID: opts.ExperimentID,
		StartTime:    start,
		Prices:       prices,
	}
	if opts.MetricsAddr == "" {
		return loop.Run(ctx, run), nil
	}

	var outcome controlloop.Outcome
	serveCtx, stopServing := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error {
		return prom.Serve(gctx, opts.MetricsAddr)
	})
	g.Go(func() error {
		defer stopServing()
		outcome = loop.Run(ctx, run)
		return nil
	})
	if err := g.Wait(); err != nil {
		syslog.WithError(err).Warn("metrics server stopped")
	}
	return outcome, nil
}
