package controlloop

import (
	"time"

	"github.com/determined-ai/expoptimizer/internal/workspace"
)

// DecisionLogName is the file in the optimizer log directory holding one record per cycle.
const DecisionLogName = "decisions.jsonl"

// Branch names recorded in the decision log.
const (
	BranchOptimize = "optimize"
	BranchFinalize = "finalize"
	BranchSkipped  = "skipped"
)

// Decision is one decision log record.
type Decision struct {
	Cycle   int       `json:"cycle"`
	Time    time.Time `json:"time"`
	Branch  string    `json:"branch"`
	Changed bool      `json:"changed"`
	Metrics int       `json:"metrics,omitempty"`
	Error   string    `json:"error,omitempty"`
	Class   string    `json:"error_class,omitempty"`
}

func (l *Loop) record(d Decision) {
	d.Time = l.clock.Now().UTC()
	if err := workspace.AppendJSON(l.ws.OptimizerLogs, DecisionLogName, d); err != nil {
		l.log.WithError(err).Warn("cannot append to decision log")
	}
}
