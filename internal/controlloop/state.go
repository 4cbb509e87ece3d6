package controlloop

// State is a state of the control loop.
type State string

// Loop states. Done and Faulted are terminal.
const (
	Polling          State = "POLLING"
	CheckTermination State = "CHECK_TERMINATION"
	Measuring        State = "MEASURING"
	Finalizing       State = "FINALIZING"
	Done             State = "DONE"
	Faulted          State = "FAULTED"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Done || s == Faulted
}

// Status is the terminal value of a run.
type Status string

const (
	// Completed means the application terminated, results were collected and the cluster was
	// stopped.
	Completed Status = "completed"
	// Aborted means the loop stopped on a fatal error or cancellation.
	Aborted Status = "aborted"
)

// Outcome is returned by Loop.Run.
type Outcome struct {
	Status Status
	// State is the terminal state the loop ended in.
	State State
	// Cycles counts the ticks that reached the termination check.
	Cycles int
	Err    error
}

// ExitCode maps the outcome to a process exit code.
func (o Outcome) ExitCode() int {
	if o.Status == Completed {
		return 0
	}
	return 1
}
