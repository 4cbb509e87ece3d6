package reporter

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/determined-ai/expoptimizer/internal/cluster"
	"github.com/determined-ai/expoptimizer/internal/controlloop"
	"github.com/determined-ai/expoptimizer/internal/mocks"
	"github.com/determined-ai/expoptimizer/internal/objectstore"
	"github.com/determined-ai/expoptimizer/pkg/pricing"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestReporter(t *testing.T) (*CostReporter, *mocks.Manager, string) {
	m := mocks.NewManager(t)
	storeDir := t.TempDir()
	store, err := objectstore.New(context.Background(), objectstore.Config{
		Type:     objectstore.SharedFSType,
		HostPath: storeDir,
	})
	require.NoError(t, err)
	return New(m, store, WithClock(clockwork.NewFakeClockAt(now))), m, storeDir
}

func testPrices() pricing.Table {
	return pricing.Table{
		"m5.large":  decimal.RequireFromString("0.096"),
		"m5.xlarge": decimal.RequireFromString("0.192"),
	}
}

func TestGetMetrics(t *testing.T) {
	r, m, _ := newTestReporter(t)
	m.On("List", mock.Anything, "c1").Return([]*cluster.Instance{
		{ID: "i-1", InstanceType: "m5.large", LaunchTime: now.Add(-30 * time.Minute),
			State: cluster.Running},
		{ID: "i-2", InstanceType: "m5.xlarge", LaunchTime: now.Add(-2 * time.Hour),
			State: cluster.Running},
		{ID: "i-3", InstanceType: "unpriced", LaunchTime: now.Add(-time.Hour),
			State: cluster.Stopped},
	}, nil).Once()

	probeLogs := t.TempDir()
	snapshot, err := r.GetMetrics(context.Background(), "c1", "exp", probeLogs, testPrices())
	require.NoError(t, err)

	require.Len(t, snapshot, 5)
	require.Equal(t, 2.0, snapshot[controlloop.MetricNodes])
	require.InDelta(t, 0.288, snapshot[controlloop.MetricCostPerHour], 1e-9)
	require.InDelta(t, 0.048+0.384, snapshot[controlloop.MetricTotalCost], 1e-9)
	require.InDelta(t, 0.096, snapshot["i-1"], 1e-9)
	require.InDelta(t, 0.192, snapshot["i-2"], 1e-9)

	f, err := os.Open(filepath.Join(probeLogs, ProbeLogName))
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var rec probeRecord
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
	require.Equal(t, "exp", rec.ExperimentID)
	require.True(t, now.Equal(rec.Time))
	require.Equal(t, snapshot, rec.Metrics)
	require.False(t, scanner.Scan())
}

func TestGetMetricsMissingPrice(t *testing.T) {
	r, m, _ := newTestReporter(t)
	m.On("List", mock.Anything, "c1").Return([]*cluster.Instance{
		{ID: "i-1", InstanceType: "p3.2xlarge", LaunchTime: now, State: cluster.Running},
	}, nil).Once()

	_, err := r.GetMetrics(context.Background(), "c1", "exp", t.TempDir(), testPrices())
	require.ErrorIs(t, err, pricing.ErrMissingPrice)
	require.Equal(t, controlloop.ClassData, controlloop.Classify(err))
}

func TestGetMetricsListErrors(t *testing.T) {
	r, m, _ := newTestReporter(t)
	m.On("List", mock.Anything, "c1").Return(nil, errors.New("throttled")).Once()
	m.On("List", mock.Anything, "c1").Return(nil, cluster.ErrClusterNotFound).Once()

	_, err := r.GetMetrics(context.Background(), "c1", "exp", t.TempDir(), testPrices())
	require.Equal(t, controlloop.ClassTransient, controlloop.Classify(err))

	_, err = r.GetMetrics(context.Background(), "c1", "exp", t.TempDir(), testPrices())
	require.ErrorIs(t, err, cluster.ErrClusterNotFound)
	require.Equal(t, controlloop.ClassFatal, controlloop.Classify(err))
}

func TestGetMetricsNoBillableNodes(t *testing.T) {
	r, m, _ := newTestReporter(t)
	m.On("List", mock.Anything, "c1").Return([]*cluster.Instance{
		{ID: "i-1", InstanceType: "unpriced.type", State: cluster.Stopped},
	}, nil).Once()

	snapshot, err := r.GetMetrics(context.Background(), "c1", "exp", t.TempDir(), testPrices())
	require.NoError(t, err)
	require.Equal(t, controlloop.MetricSnapshot{
		controlloop.MetricNodes:       0,
		controlloop.MetricCostPerHour: 0,
		controlloop.MetricTotalCost:   0,
	}, snapshot)
}

func TestIsTerminated(t *testing.T) {
	r, _, storeDir := newTestReporter(t)
	ctx := context.Background()

	done, err := r.IsTerminated(ctx, "c1", "exp")
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, os.MkdirAll(filepath.Join(storeDir, "exp"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(storeDir, "exp", CompletionMarker), nil, 0o600))

	done, err = r.IsTerminated(ctx, "c1", "exp")
	require.NoError(t, err)
	require.True(t, done)

	done, err = r.IsTerminated(ctx, "c1", "other")
	require.NoError(t, err)
	require.False(t, done)
}

func TestFetchResults(t *testing.T) {
	r, _, storeDir := newTestReporter(t)
	require.NoError(t, os.MkdirAll(filepath.Join(storeDir, "exp", "logs"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(storeDir, "exp", "output.csv"), []byte("a,b\n1,2\n"), 0o600))
	require.NoError(t, os.WriteFile(
		filepath.Join(storeDir, "exp", "logs", "worker-0.log"), []byte("ok\n"), 0o600))

	out := t.TempDir()
	for i := 0; i < 2; i++ {
		require.NoError(t, r.FetchResults(context.Background(), "c1", "exp", out))
	}

	bs, err := os.ReadFile(filepath.Join(out, "output.csv"))
	require.NoError(t, err)
	require.Equal(t, "a,b\n1,2\n", string(bs))
	bs, err = os.ReadFile(filepath.Join(out, "logs", "worker-0.log"))
	require.NoError(t, err)
	require.Equal(t, "ok\n", string(bs))
}
