// Package controlloop drives one experiment run: it polls the application on a fixed cadence,
// lets a strategy reshape the cluster while the application runs, and collects results and
// stops the cluster once it terminates.
//
// The loop is a state machine:
//
//	POLLING -> CHECK_TERMINATION -> MEASURING -> POLLING
//	                             -> FINALIZING -> DONE
//
// Any state may move to FAULTED on a fatal error or cancellation. Exactly one of the
// MEASURING and FINALIZING branches runs per tick, and the cluster is stopped only after
// results were collected successfully.
package controlloop

import (
	"context"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/determined-ai/expoptimizer/internal/prom"
	"github.com/determined-ai/expoptimizer/internal/workspace"
)

// Config holds the loop's scheduling options.
type Config struct {
	PollInterval time.Duration
	// CheckImmediatelyOnStart runs the first termination check without waiting a full interval.
	CheckImmediatelyOnStart bool
}

// Collaborators are the strategies and services the loop calls into.
type Collaborators struct {
	Probe     TerminationProbe
	Metrics   MetricSource
	Collector ResultCollector
	Strategy  OptimizationStrategy
	Cluster   ClusterStopper
}

// WithReporter fills the three reporting roles from a single Reporter.
func (c Collaborators) WithReporter(r Reporter) Collaborators {
	c.Probe, c.Metrics, c.Collector = r, r, r
	return c
}

// Option customizes a Loop.
type Option func(*Loop)

// WithClock replaces the wall clock used for the inter-tick wait.
func WithClock(clock clockwork.Clock) Option {
	return func(l *Loop) {
		l.clock = clock
	}
}

// Loop is a single-use control loop bound to one workspace.
type Loop struct {
	config Config
	collab Collaborators
	ws     *workspace.Workspace
	clock  clockwork.Clock
	log    *log.Entry

	state    State
	cycles   int
	faultErr error
	ran      bool
}

// New validates the preconditions of a run and returns a Loop ready to Run.
func New(
	config Config, collab Collaborators, ws *workspace.Workspace, opts ...Option,
) (*Loop, error) {
	switch {
	case config.PollInterval <= 0:
		return nil, errors.Errorf("poll interval must be positive, got %s", config.PollInterval)
	case collab.Probe == nil, collab.Metrics == nil, collab.Collector == nil:
		return nil, errors.New("a termination probe, metric source and result collector are required")
	case collab.Strategy == nil:
		return nil, errors.New("an optimization strategy is required")
	case collab.Cluster == nil:
		return nil, errors.New("a cluster manager is required")
	case ws == nil || !ws.Exists():
		return nil, errors.New("the experiment workspace must be created before the loop starts")
	}

	l := &Loop{
		config: config,
		collab: collab,
		ws:     ws,
		clock:  clockwork.NewRealClock(),
		log:    log.WithField("component", "control-loop"),
		state:  Polling,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// State returns the current state of the loop.
func (l *Loop) State() State {
	return l.state
}

// Run drives the run until the application terminates or the loop faults. Cancellation of ctx
// is observed only while waiting between ticks; collaborator calls in flight are not
// interrupted, and a canceled loop never stops the cluster.
func (l *Loop) Run(ctx context.Context, run ExperimentRun) Outcome {
	if l.ran {
		return Outcome{Status: Aborted, State: l.state, Err: errors.New("control loop already ran")}
	}
	l.ran = true
	l.log = l.log.WithFields(log.Fields{
		"cluster-id":    run.ClusterID,
		"experiment-id": run.ExperimentID,
	})
	l.log.Infof("starting control loop: poll interval %s, results %s, optimizer logs %s, "+
		"probe logs %s", l.config.PollInterval, l.ws.ResultsDir, l.ws.OptimizerLogs, l.ws.ProbeLogs)

	// Collaborator calls must complete even if the operator cancels mid-call.
	callCtx := context.WithoutCancel(ctx)
	for !l.state.Terminal() {
		switch l.state {
		case Polling:
			first := l.cycles == 0
			if err := l.wait(ctx, first && l.config.CheckImmediatelyOnStart); err != nil {
				l.faultErr = errors.Wrapf(ErrCanceled, "before cycle %d: %v", l.cycles+1, err)
				l.state = Faulted
				continue
			}
			l.cycles++
			l.state = CheckTermination

		case CheckTermination:
			l.state = l.checkTermination(callCtx, run)

		case Measuring:
			l.state = l.measure(callCtx, run)

		case Finalizing:
			if err := l.finalize(callCtx, run); err != nil {
				l.faultErr = err
				l.state = Faulted
				continue
			}
			l.state = Done
		}
	}

	if l.state == Faulted {
		return l.fault(l.faultErr)
	}
	l.log.Infof("experiment finished after %d cycles", l.cycles)
	return Outcome{Status: Completed, State: Done, Cycles: l.cycles}
}

func (l *Loop) wait(ctx context.Context, immediate bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if immediate {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.clock.After(l.config.PollInterval):
		return nil
	}
}

func (l *Loop) fault(err error) Outcome {
	l.state = Faulted
	l.log.WithError(err).Errorf("control loop aborted after %d cycles", l.cycles)
	return Outcome{Status: Aborted, State: Faulted, Cycles: l.cycles, Err: err}
}

// failed records a collaborator error into d and tells whether it is fatal.
func (l *Loop) failed(call string, d Decision, err error) bool {
	class := Classify(err)
	errorsTotal.WithLabelValues(call, class.String()).Inc()
	d.Cycle, d.Error, d.Class = l.cycles, err.Error(), class.String()
	l.record(d)

	entry := l.log.WithError(err).WithField("cycle", l.cycles)
	switch class {
	case ClassFatal:
		entry.Errorf("%s failed fatally", call)
		return true
	case ClassData:
		entry.Warnf("%s returned unusable data, skipping optimization this cycle", call)
	default:
		entry.Warnf("%s failed, retrying next cycle", call)
	}
	return false
}

func (l *Loop) checkTermination(ctx context.Context, run ExperimentRun) State {
	terminated, err := func() (bool, error) {
		defer prom.Time(callSeconds.WithLabelValues("probe"))()
		return l.collab.Probe.IsTerminated(ctx, run.ClusterID, run.ExperimentID)
	}()
	if err != nil {
		cyclesTotal.WithLabelValues(BranchSkipped).Inc()
		if l.failed("termination probe", Decision{Branch: BranchSkipped}, err) {
			l.faultErr = errors.Wrap(err, "termination probe")
			return Faulted
		}
		return Polling
	}
	if terminated {
		return Finalizing
	}
	return Measuring
}

func (l *Loop) measure(ctx context.Context, run ExperimentRun) State {
	cyclesTotal.WithLabelValues(BranchOptimize).Inc()

	metrics, err := func() (MetricSnapshot, error) {
		defer prom.Time(callSeconds.WithLabelValues("metrics"))()
		return l.collab.Metrics.GetMetrics(
			ctx, run.ClusterID, run.ExperimentID, l.ws.ProbeLogs, run.Prices)
	}()
	if err == nil {
		err = validateSnapshot(metrics)
	}
	if err != nil {
		if l.failed("metric source", Decision{Branch: BranchOptimize}, err) {
			l.faultErr = errors.Wrap(err, "metric source")
			return Faulted
		}
		return Polling
	}

	changed, err := func() (bool, error) {
		defer prom.Time(callSeconds.WithLabelValues("optimize"))()
		return l.collab.Strategy.Optimize(ctx, run.ClusterID, run.ExperimentID, metrics)
	}()
	if changed {
		changesTotal.Inc()
	}
	if err != nil {
		d := Decision{Branch: BranchOptimize, Changed: changed, Metrics: len(metrics)}
		if l.failed("optimization strategy", d, err) {
			l.faultErr = errors.Wrap(err, "optimization strategy")
			return Faulted
		}
		return Polling
	}

	l.log.WithField("cycle", l.cycles).Infof("cluster changed: %v", changed)
	l.record(Decision{Cycle: l.cycles, Branch: BranchOptimize, Changed: changed, Metrics: len(metrics)})
	return Polling
}

// finalize collects results and then stops the cluster. Neither step is retried: a failure
// leaves the cluster as it is for manual recovery.
func (l *Loop) finalize(ctx context.Context, run ExperimentRun) error {
	cyclesTotal.WithLabelValues(BranchFinalize).Inc()
	l.log.WithField("cycle", l.cycles).Info("application terminated, collecting results")

	err := func() (err error) {
		defer prom.Time(callSeconds.WithLabelValues("collect"))()
		defer prom.ErrCount(errorsTotal.WithLabelValues("result collector", ClassFatal.String()), &err)
		return l.collab.Collector.FetchResults(ctx, run.ClusterID, run.ExperimentID, l.ws.ResultsDir)
	}()
	if err != nil {
		l.record(Decision{Cycle: l.cycles, Branch: BranchFinalize, Error: err.Error(),
			Class: ClassFatal.String()})
		return errors.Wrap(err, "cannot collect results, leaving cluster running")
	}

	err = func() (err error) {
		defer prom.Time(callSeconds.WithLabelValues("teardown"))()
		defer prom.ErrCount(errorsTotal.WithLabelValues("cluster teardown", ClassFatal.String()), &err)
		return l.collab.Cluster.StopCluster(ctx, run.ClusterID)
	}()
	if err != nil {
		l.record(Decision{Cycle: l.cycles, Branch: BranchFinalize, Error: err.Error(),
			Class: ClassFatal.String()})
		return errors.Wrap(err, "cannot stop cluster")
	}
	l.record(Decision{Cycle: l.cycles, Branch: BranchFinalize})
	return nil
}

func validateSnapshot(metrics MetricSnapshot) error {
	if metrics == nil {
		return DataError(errors.New("metric source returned no snapshot"))
	}
	for name, value := range metrics {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return DataError(errors.Errorf("metric %q has non-finite value %v", name, value))
		}
	}
	return nil
}
