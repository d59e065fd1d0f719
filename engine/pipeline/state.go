package pipeline

import (
	"sync/atomic"

	"github.com/arxivgraph/corpusd/engine/domain"
)

// State is a run's position in the state machine: Idle -> Starting ->
// Running -> {Stopping -> Stopped | Completed | Failed}. The zero value is
// Idle so a freshly constructed Coordinator needs no initialization.
type State int32

const (
	Idle State = iota
	Starting
	Running
	Stopping
	Stopped
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// transitions is the total transition table; any (from, to) pair absent
// here is rejected with domain.ErrInvalidTransition.
var transitions = map[State]map[State]bool{
	Idle:     {Starting: true},
	Starting: {Running: true, Failed: true},
	Running:  {Stopping: true, Completed: true, Failed: true},
	Stopping: {Stopped: true, Failed: true},
	Stopped:  {Starting: true},
	Completed: {Starting: true},
	Failed:   {Starting: true},
}

// runState wraps an atomic.Int32 with the transition table, shared by the
// Coordinator across its run-control methods and worker goroutines.
type runState struct {
	v atomic.Int32
}

func (r *runState) get() State { return State(r.v.Load()) }

// transition attempts from -> to, returning domain.ErrInvalidTransition if
// the current state is not from or the edge is not in the table.
func (r *runState) transition(from, to State) error {
	if !r.v.CompareAndSwap(int32(from), int32(to)) {
		return domain.ErrInvalidTransition
	}
	if !transitions[from][to] {
		// Roll back: the table never allows this edge regardless of the CAS
		// outcome, so a caller that mistakenly requests an illegal edge from
		// its own current state doesn't corrupt shared state.
		r.v.CompareAndSwap(int32(to), int32(from))
		return domain.ErrInvalidTransition
	}
	return nil
}

// force sets the state unconditionally, bypassing the transition table; the
// tests use it to put a runState into a given starting state.
func (r *runState) force(s State) { r.v.Store(int32(s)) }
