// Package cluster manages the nodes of an experiment cluster.
package cluster

import (
	"context"

	"github.com/pkg/errors"
)

// ErrClusterNotFound is returned by List when no live node carries the cluster tag. A cluster
// with no nodes left cannot be optimized or torn down any further.
var ErrClusterNotFound = errors.New("cluster not found")

// Manager is the cluster-management collaborator. Implementations must only return from a
// mutating call once the provider accepted the request.
type Manager interface {
	// List returns every node of the cluster that has not been terminated, or
	// ErrClusterNotFound when there is none.
	List(ctx context.Context, clusterID string) ([]*Instance, error)
	// Launch adds num nodes of the given instance type to the cluster.
	Launch(ctx context.Context, clusterID, instanceType string, num int) ([]*Instance, error)
	// Terminate removes the given nodes.
	Terminate(ctx context.Context, clusterID string, instanceIDs []string) error
	// StopCluster terminates every node of the cluster.
	StopCluster(ctx context.Context, clusterID string) error
}
