package controlloop_test

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/determined-ai/expoptimizer/internal/controlloop"
	"github.com/determined-ai/expoptimizer/internal/mocks"
	"github.com/determined-ai/expoptimizer/internal/workspace"
	"github.com/determined-ai/expoptimizer/pkg/pricing"
)

const (
	testInterval   = 60 * time.Second
	testCluster    = "cluster-1"
	testExperiment = "exp-1"
)

type harness struct {
	t        *testing.T
	clock    clockwork.FakeClock
	ws       *workspace.Workspace
	reporter *mocks.Reporter
	strategy *mocks.OptimizationStrategy
	stopper  *mocks.ClusterStopper
	run      controlloop.ExperimentRun

	mu    sync.Mutex
	calls []string
}

func newHarness(t *testing.T) *harness {
	start := time.Unix(1700000000, 0)
	ws, err := workspace.New(t.TempDir(), testExperiment, start)
	require.NoError(t, err)
	require.NoError(t, ws.Create())

	return &harness{
		t:        t,
		clock:    clockwork.NewFakeClockAt(start),
		ws:       ws,
		reporter: mocks.NewReporter(t),
		strategy: mocks.NewOptimizationStrategy(t),
		stopper:  mocks.NewClusterStopper(t),
		run: controlloop.ExperimentRun{
			ClusterID:    testCluster,
			ExperimentID: testExperiment,
			StartTime:    start,
			Prices:       pricing.Table{},
		},
	}
}

func (h *harness) trace(name string) func(mock.Arguments) {
	return func(mock.Arguments) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.calls = append(h.calls, name)
	}
}

func (h *harness) trail() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *harness) probe(terminated bool, err error) *mock.Call {
	return h.reporter.On("IsTerminated", mock.Anything, testCluster, testExperiment).
		Return(terminated, err).Run(h.trace("probe"))
}

func (h *harness) metrics(snapshot controlloop.MetricSnapshot, err error) *mock.Call {
	return h.reporter.On(
		"GetMetrics", mock.Anything, testCluster, testExperiment, h.ws.ProbeLogs, h.run.Prices,
	).Return(snapshot, err).Run(h.trace("metrics"))
}

func (h *harness) optimize(changed bool, err error) *mock.Call {
	return h.strategy.On("Optimize", mock.Anything, testCluster, testExperiment, mock.Anything).
		Return(changed, err).Run(h.trace("optimize"))
}

func (h *harness) fetch(err error) *mock.Call {
	return h.reporter.On(
		"FetchResults", mock.Anything, testCluster, testExperiment, h.ws.ResultsDir,
	).Return(err).Run(h.trace("fetch"))
}

func (h *harness) stop(err error) *mock.Call {
	return h.stopper.On("StopCluster", mock.Anything, testCluster).
		Return(err).Run(h.trace("stop"))
}

func (h *harness) loop(config controlloop.Config) *controlloop.Loop {
	if config.PollInterval == 0 {
		config.PollInterval = testInterval
	}
	collab := controlloop.Collaborators{
		Strategy: h.strategy,
		Cluster:  h.stopper,
	}.WithReporter(h.reporter)
	l, err := controlloop.New(config, collab, h.ws, controlloop.WithClock(h.clock))
	require.NoError(h.t, err)
	return l
}

func (h *harness) start(ctx context.Context, l *controlloop.Loop) <-chan controlloop.Outcome {
	out := make(chan controlloop.Outcome, 1)
	go func() {
		out <- l.Run(ctx, h.run)
	}()
	return out
}

// tick lets one poll interval elapse once the loop is waiting.
func (h *harness) tick() {
	h.clock.BlockUntil(1)
	h.clock.Advance(testInterval)
}

func (h *harness) outcome(out <-chan controlloop.Outcome) controlloop.Outcome {
	select {
	case o := <-out:
		return o
	case <-time.After(10 * time.Second):
		h.t.Fatal("control loop did not finish")
		return controlloop.Outcome{}
	}
}

func (h *harness) decisions() []controlloop.Decision {
	f, err := os.Open(filepath.Join(h.ws.OptimizerLogs, controlloop.DecisionLogName))
	require.NoError(h.t, err)
	defer f.Close()

	var ds []controlloop.Decision
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var d controlloop.Decision
		require.NoError(h.t, json.Unmarshal(scanner.Bytes(), &d))
		ds = append(ds, d)
	}
	require.NoError(h.t, scanner.Err())
	return ds
}

func TestNewValidatesPreconditions(t *testing.T) {
	h := newHarness(t)
	full := controlloop.Collaborators{Strategy: h.strategy, Cluster: h.stopper}.
		WithReporter(h.reporter)

	_, err := controlloop.New(controlloop.Config{}, full, h.ws)
	require.ErrorContains(t, err, "poll interval")

	_, err = controlloop.New(controlloop.Config{PollInterval: -time.Second}, full, h.ws)
	require.ErrorContains(t, err, "poll interval")

	noStrategy := full
	noStrategy.Strategy = nil
	_, err = controlloop.New(controlloop.Config{PollInterval: testInterval}, noStrategy, h.ws)
	require.ErrorContains(t, err, "strategy")

	noCluster := full
	noCluster.Cluster = nil
	_, err = controlloop.New(controlloop.Config{PollInterval: testInterval}, noCluster, h.ws)
	require.ErrorContains(t, err, "cluster")

	noProbe := full
	noProbe.Probe = nil
	_, err = controlloop.New(controlloop.Config{PollInterval: testInterval}, noProbe, h.ws)
	require.ErrorContains(t, err, "termination probe")

	missing, err := workspace.New(t.TempDir(), "other", time.Now())
	require.NoError(t, err)
	_, err = controlloop.New(controlloop.Config{PollInterval: testInterval}, full, missing)
	require.ErrorContains(t, err, "workspace")

	_, err = controlloop.New(controlloop.Config{PollInterval: testInterval}, full, nil)
	require.ErrorContains(t, err, "workspace")
}

func TestNormalCompletion(t *testing.T) {
	h := newHarness(t)
	h.probe(false, nil).Twice()
	h.probe(true, nil).Once()
	h.metrics(controlloop.MetricSnapshot{"cost_per_hour": 1.5}, nil).Twice()
	h.optimize(false, nil).Once()
	h.optimize(true, nil).Once()
	h.fetch(nil).Once()
	h.stop(nil).Once()

	out := h.start(context.Background(), h.loop(controlloop.Config{}))
	for i := 0; i < 3; i++ {
		h.tick()
	}
	o := h.outcome(out)

	require.Equal(t, controlloop.Completed, o.Status)
	require.Equal(t, controlloop.Done, o.State)
	require.Equal(t, 3, o.Cycles)
	require.NoError(t, o.Err)
	require.Equal(t, 0, o.ExitCode())
	require.Equal(t, []string{
		"probe", "metrics", "optimize",
		"probe", "metrics", "optimize",
		"probe", "fetch", "stop",
	}, h.trail())

	ds := h.decisions()
	require.Len(t, ds, 3)
	require.Equal(t, controlloop.BranchOptimize, ds[0].Branch)
	require.False(t, ds[0].Changed)
	require.True(t, ds[1].Changed)
	require.Equal(t, 1, ds[1].Metrics)
	require.Equal(t, controlloop.BranchFinalize, ds[2].Branch)
	require.Equal(t, 3, ds[2].Cycle)
}

func TestThreeRunningCyclesThenCompletion(t *testing.T) {
	h := newHarness(t)
	h.probe(false, nil).Times(3)
	h.probe(true, nil).Once()
	h.metrics(controlloop.MetricSnapshot{"nodes": 2, "cost_per_hour": 0.2}, nil).Times(3)
	h.optimize(false, nil).Times(3)
	h.fetch(nil).Once()
	h.stop(nil).Once()

	out := h.start(context.Background(), h.loop(controlloop.Config{}))
	for i := 0; i < 4; i++ {
		h.tick()
	}
	o := h.outcome(out)

	require.Equal(t, controlloop.Completed, o.Status)
	require.Equal(t, 4, o.Cycles)
	require.Equal(t, []string{
		"probe", "metrics", "optimize",
		"probe", "metrics", "optimize",
		"probe", "metrics", "optimize",
		"probe", "fetch", "stop",
	}, h.trail())
	h.reporter.AssertNumberOfCalls(t, "GetMetrics", 3)
	h.strategy.AssertNumberOfCalls(t, "Optimize", 3)
	h.reporter.AssertNumberOfCalls(t, "FetchResults", 1)
	h.stopper.AssertNumberOfCalls(t, "StopCluster", 1)
	require.Len(t, h.decisions(), 4)
}

func TestTerminatedOnFirstCheck(t *testing.T) {
	h := newHarness(t)
	h.probe(true, nil).Once()
	h.fetch(nil).Once()
	h.stop(nil).Once()

	out := h.start(context.Background(), h.loop(controlloop.Config{}))
	h.tick()
	o := h.outcome(out)

	require.Equal(t, controlloop.Completed, o.Status)
	require.Equal(t, 1, o.Cycles)
	require.Equal(t, []string{"probe", "fetch", "stop"}, h.trail())
	h.reporter.AssertNotCalled(t, "GetMetrics",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.strategy.AssertNotCalled(t, "Optimize",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWaitsFullIntervalBeforeFirstCheck(t *testing.T) {
	h := newHarness(t)
	h.probe(true, nil).Once()
	h.fetch(nil).Once()
	h.stop(nil).Once()

	out := h.start(context.Background(), h.loop(controlloop.Config{}))
	h.clock.BlockUntil(1)
	h.clock.Advance(testInterval - time.Nanosecond)
	h.reporter.AssertNotCalled(t, "IsTerminated", mock.Anything, mock.Anything, mock.Anything)

	h.clock.Advance(time.Nanosecond)
	o := h.outcome(out)
	require.Equal(t, controlloop.Completed, o.Status)
}

func TestCheckImmediatelyOnStart(t *testing.T) {
	h := newHarness(t)
	h.probe(false, nil).Once()
	h.probe(true, nil).Once()
	h.metrics(controlloop.MetricSnapshot{}, nil).Once()
	h.optimize(false, nil).Once()
	h.fetch(nil).Once()
	h.stop(nil).Once()

	out := h.start(context.Background(), h.loop(controlloop.Config{CheckImmediatelyOnStart: true}))
	// Only the second check waits for the clock.
	h.tick()
	o := h.outcome(out)

	require.Equal(t, controlloop.Completed, o.Status)
	require.Equal(t, 2, o.Cycles)
}

func TestTransientProbeErrorSkipsCycle(t *testing.T) {
	h := newHarness(t)
	h.probe(false, errors.New("connection reset")).Once()
	h.probe(true, nil).Once()
	h.fetch(nil).Once()
	h.stop(nil).Once()

	out := h.start(context.Background(), h.loop(controlloop.Config{}))
	h.tick()
	h.tick()
	o := h.outcome(out)

	require.Equal(t, controlloop.Completed, o.Status)
	require.Equal(t, []string{"probe", "probe", "fetch", "stop"}, h.trail())

	ds := h.decisions()
	require.Len(t, ds, 2)
	require.Equal(t, controlloop.BranchSkipped, ds[0].Branch)
	require.Equal(t, "transient", ds[0].Class)
	require.Equal(t, "connection reset", ds[0].Error)
}

func TestMissingPriceSkipsOptimization(t *testing.T) {
	h := newHarness(t)
	h.probe(false, nil).Twice()
	h.probe(true, nil).Once()
	h.metrics(nil, errors.Wrap(pricing.ErrMissingPrice, "m5.large")).Once()
	h.metrics(controlloop.MetricSnapshot{"nodes": 2}, nil).Once()
	h.optimize(true, nil).Once()
	h.fetch(nil).Once()
	h.stop(nil).Once()

	out := h.start(context.Background(), h.loop(controlloop.Config{}))
	for i := 0; i < 3; i++ {
		h.tick()
	}
	o := h.outcome(out)

	require.Equal(t, controlloop.Completed, o.Status)
	require.Equal(t, []string{
		"probe", "metrics",
		"probe", "metrics", "optimize",
		"probe", "fetch", "stop",
	}, h.trail())
	require.Equal(t, "data", h.decisions()[0].Class)
}

func TestMalformedSnapshotSkipsOptimization(t *testing.T) {
	for name, snapshot := range map[string]controlloop.MetricSnapshot{
		"nil":  nil,
		"nan":  {"cost_per_hour": math.NaN()},
		"+inf": {"total_cost": math.Inf(1)},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.probe(false, nil).Once()
			h.probe(true, nil).Once()
			h.metrics(snapshot, nil).Once()
			h.fetch(nil).Once()
			h.stop(nil).Once()

			out := h.start(context.Background(), h.loop(controlloop.Config{}))
			h.tick()
			h.tick()
			o := h.outcome(out)

			require.Equal(t, controlloop.Completed, o.Status)
			h.strategy.AssertNotCalled(t, "Optimize",
				mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestTransientStrategyErrorContinues(t *testing.T) {
	h := newHarness(t)
	h.probe(false, nil).Once()
	h.probe(true, nil).Once()
	h.metrics(controlloop.MetricSnapshot{"nodes": 1}, nil).Once()
	h.optimize(false, controlloop.Transient(errors.New("throttled"))).Once()
	h.fetch(nil).Once()
	h.stop(nil).Once()

	out := h.start(context.Background(), h.loop(controlloop.Config{}))
	h.tick()
	h.tick()
	require.Equal(t, controlloop.Completed, h.outcome(out).Status)
}

func TestStrategyErrorRecordsChange(t *testing.T) {
	h := newHarness(t)
	h.probe(false, nil).Once()
	h.probe(true, nil).Once()
	h.metrics(controlloop.MetricSnapshot{"nodes": 1}, nil).Once()
	h.optimize(true, controlloop.Transient(errors.New("rollback failed"))).Once()
	h.fetch(nil).Once()
	h.stop(nil).Once()

	out := h.start(context.Background(), h.loop(controlloop.Config{}))
	h.tick()
	h.tick()
	require.Equal(t, controlloop.Completed, h.outcome(out).Status)

	d := h.decisions()[0]
	require.Equal(t, controlloop.BranchOptimize, d.Branch)
	require.True(t, d.Changed)
	require.Equal(t, "transient", d.Class)
	require.Equal(t, "rollback failed", d.Error)
}

func TestFatalErrorFaultsWithoutTeardown(t *testing.T) {
	h := newHarness(t)
	h.probe(false, nil).Once()
	h.metrics(controlloop.MetricSnapshot{"nodes": 1}, nil).Once()
	h.optimize(false, controlloop.Fatal(errors.New("credentials revoked"))).Once()

	out := h.start(context.Background(), h.loop(controlloop.Config{}))
	h.tick()
	o := h.outcome(out)

	require.Equal(t, controlloop.Aborted, o.Status)
	require.Equal(t, controlloop.Faulted, o.State)
	require.ErrorContains(t, o.Err, "credentials revoked")
	require.Equal(t, controlloop.ClassFatal, controlloop.Classify(o.Err))
	require.Equal(t, 1, o.ExitCode())
	h.stopper.AssertNotCalled(t, "StopCluster", mock.Anything, mock.Anything)
}

func TestFatalProbeErrorFaults(t *testing.T) {
	h := newHarness(t)
	h.probe(false, controlloop.Fatal(errors.New("bucket deleted"))).Once()

	out := h.start(context.Background(), h.loop(controlloop.Config{}))
	h.tick()
	o := h.outcome(out)

	require.Equal(t, controlloop.Aborted, o.Status)
	require.Equal(t, controlloop.Faulted, o.State)
	require.Equal(t, []string{"probe"}, h.trail())
}

func TestCollectionFailureLeavesClusterRunning(t *testing.T) {
	h := newHarness(t)
	h.probe(true, nil).Once()
	h.fetch(errors.New("access denied")).Once()

	out := h.start(context.Background(), h.loop(controlloop.Config{}))
	h.tick()
	o := h.outcome(out)

	require.Equal(t, controlloop.Aborted, o.Status)
	require.ErrorContains(t, o.Err, "access denied")
	require.Equal(t, []string{"probe", "fetch"}, h.trail())
	h.stopper.AssertNotCalled(t, "StopCluster", mock.Anything, mock.Anything)

	ds := h.decisions()
	require.Len(t, ds, 1)
	require.Equal(t, controlloop.BranchFinalize, ds[0].Branch)
	require.Equal(t, "fatal", ds[0].Class)
}

func TestTeardownFailureIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.probe(true, nil).Once()
	h.fetch(nil).Once()
	h.stop(errors.New("quota service unavailable")).Once()

	out := h.start(context.Background(), h.loop(controlloop.Config{}))
	h.tick()
	o := h.outcome(out)

	require.Equal(t, controlloop.Aborted, o.Status)
	require.ErrorContains(t, o.Err, "quota service unavailable")
	require.Equal(t, []string{"probe", "fetch", "stop"}, h.trail())
}

func TestCancellationBetweenTicks(t *testing.T) {
	h := newHarness(t)
	h.probe(false, nil).Once()
	h.metrics(controlloop.MetricSnapshot{"nodes": 1}, nil).Once()
	h.optimize(false, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := h.start(ctx, h.loop(controlloop.Config{}))
	h.tick()
	h.clock.BlockUntil(1)
	cancel()
	o := h.outcome(out)

	require.Equal(t, controlloop.Aborted, o.Status)
	require.Equal(t, controlloop.Faulted, o.State)
	require.ErrorIs(t, o.Err, controlloop.ErrCanceled)
	require.Equal(t, 1, o.Cycles)
	h.stopper.AssertNotCalled(t, "StopCluster", mock.Anything, mock.Anything)
}

func TestCancellationAfterFourthCycle(t *testing.T) {
	h := newHarness(t)
	h.probe(false, nil).Times(4)
	h.metrics(controlloop.MetricSnapshot{"nodes": 1}, nil).Times(4)
	h.optimize(false, nil).Times(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := h.start(ctx, h.loop(controlloop.Config{}))
	for i := 0; i < 4; i++ {
		h.tick()
	}
	// The loop is waiting for cycle 5.
	h.clock.BlockUntil(1)
	cancel()
	o := h.outcome(out)

	require.Equal(t, controlloop.Aborted, o.Status)
	require.Equal(t, controlloop.Faulted, o.State)
	require.ErrorIs(t, o.Err, controlloop.ErrCanceled)
	require.ErrorContains(t, o.Err, "before cycle 5")
	require.Equal(t, 4, o.Cycles)
	h.reporter.AssertNumberOfCalls(t, "GetMetrics", 4)
	h.reporter.AssertNotCalled(t, "FetchResults",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.stopper.AssertNotCalled(t, "StopCluster", mock.Anything, mock.Anything)
}

func TestCancellationDuringCallIsDeferred(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The operator cancels while the strategy is mid-mutation; the call still sees a live context.
	h.probe(false, nil).Once()
	h.metrics(controlloop.MetricSnapshot{"nodes": 1}, nil).Once()
	h.strategy.On("Optimize", mock.Anything, testCluster, testExperiment, mock.Anything).
		Return(true, nil).Once().
		Run(func(args mock.Arguments) {
			cancel()
			callCtx := args.Get(0).(context.Context)
			require.NoError(t, callCtx.Err())
		})

	out := h.start(ctx, h.loop(controlloop.Config{}))
	h.tick()
	o := h.outcome(out)

	require.ErrorIs(t, o.Err, controlloop.ErrCanceled)
	require.Equal(t, 1, o.Cycles)
	require.True(t, h.decisions()[0].Changed)
}

func TestAlreadyCanceledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := h.loop(controlloop.Config{CheckImmediatelyOnStart: true}).Run(ctx, h.run)
	require.ErrorIs(t, o.Err, controlloop.ErrCanceled)
	require.Equal(t, 0, o.Cycles)
}

func TestLoopIsSingleUse(t *testing.T) {
	h := newHarness(t)
	h.probe(true, nil).Once()
	h.fetch(nil).Once()
	h.stop(nil).Once()

	l := h.loop(controlloop.Config{CheckImmediatelyOnStart: true})
	require.Equal(t, controlloop.Completed, l.Run(context.Background(), h.run).Status)

	o := l.Run(context.Background(), h.run)
	require.Equal(t, controlloop.Aborted, o.Status)
	require.ErrorContains(t, o.Err, "already ran")
}
