package cluster

import (
	"context"
	"time"

	back "github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

const (
	settleInitialInterval = 2 * time.Second
	settleMaxInterval     = 30 * time.Second
	// DefaultSettleTimeout bounds how long a mutation may take to show up in List.
	DefaultSettleTimeout = 10 * time.Minute
)

// SettleBackOff is the polling schedule used by WaitForState.
func SettleBackOff(timeout time.Duration) back.BackOff {
	bf := back.NewExponentialBackOff()
	bf.InitialInterval = settleInitialInterval
	bf.MaxInterval = settleMaxInterval
	bf.MaxElapsedTime = timeout
	return bf
}

// WaitForState polls the cluster until every instance in ids satisfies done. Instances that
// no longer appear in List, or whose cluster is gone, are reported to done with a Terminated
// state.
func WaitForState(
	ctx context.Context,
	m Manager,
	clusterID string,
	ids []string,
	done func(InstanceState) bool,
	bf back.BackOff,
) error {
	if len(ids) == 0 {
		return nil
	}
	op := func() error {
		instances, err := m.List(ctx, clusterID)
		if err != nil && !errors.Is(err, ErrClusterNotFound) {
			return err
		}
		states := make(map[string]InstanceState, len(instances))
		for _, inst := range instances {
			states[inst.ID] = inst.State
		}
		for _, id := range ids {
			state, ok := states[id]
			if !ok {
				state = Terminated
			}
			if !done(state) {
				return errors.Errorf("instance %s is %s", id, state)
			}
		}
		return nil
	}
	if err := back.Retry(op, back.WithContext(bf, ctx)); err != nil {
		return errors.Wrapf(err, "instances of cluster %s did not settle", clusterID)
	}
	return nil
}

// IsRunning is a WaitForState predicate for launched nodes.
func IsRunning(s InstanceState) bool { return s == Running }

// IsGone is a WaitForState predicate for terminated nodes.
func IsGone(s InstanceState) bool { return s == Terminated }
