package cluster

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// InstanceState is an enum type that describes an instance state.
type InstanceState string

const (
	// Unknown describes the instance state cannot be recognized.
	Unknown InstanceState = "Unknown"
	// Starting describes the instance is starting up.
	Starting InstanceState = "Starting"
	// Running describes the instance is running.
	Running InstanceState = "Running"
	// Stopping describes the instance is stopping.
	Stopping InstanceState = "Stopping"
	// Stopped describes the instance is stopped.
	Stopped InstanceState = "Stopped"
	// Terminating is when the instance is in the process of being terminated.
	Terminating InstanceState = "Terminating"
	// Terminated is when the instance is gone.
	Terminated InstanceState = "Terminated"
)

// Billable reports whether an instance in this state is costing money.
func (s InstanceState) Billable() bool {
	switch s {
	case Starting, Running, Stopping:
		return true
	default:
		return false
	}
}

// Instance is one node of an experiment cluster.
type Instance struct {
	ID           string
	InstanceType string
	LaunchTime   time.Time
	State        InstanceState
}

func (inst Instance) String() string {
	if inst.State == "" {
		return inst.ID
	}
	return fmt.Sprintf("%s (%s, %s)", inst.ID, inst.InstanceType, inst.State)
}

// Uptime is how long the instance has been up at now.
func (inst Instance) Uptime(now time.Time) time.Duration {
	if inst.LaunchTime.IsZero() || now.Before(inst.LaunchTime) {
		return 0
	}
	return now.Sub(inst.LaunchTime)
}

// FmtInstances formats instances for log lines.
func FmtInstances(instances []*Instance) string {
	instanceIDs := make([]string, 0, len(instances))
	for _, inst := range instances {
		instanceIDs = append(instanceIDs, inst.String())
	}
	return strings.Join(instanceIDs, ", ")
}

// Billable filters instances down to the ones that are costing money, ordered by ID.
func Billable(instances []*Instance) []*Instance {
	var res []*Instance
	for _, inst := range instances {
		if inst.State.Billable() {
			res = append(res, inst)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}
