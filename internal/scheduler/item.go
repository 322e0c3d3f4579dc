// internal/scheduler/item.go
//
// Work item lifecycle. Items move Pending -> Running -> Completed/Failed,
// with Failed -> Pending allowed while retry budget remains, and anything
// not yet terminal collapsing to Terminated on shutdown.

package scheduler

import (
	"time"
)

// ItemState is the lifecycle state of one work item.
type ItemState string

const (
	StatePending    ItemState = "pending"
	StateRunning    ItemState = "running"
	StateCompleted  ItemState = "completed"
	StateFailed     ItemState = "failed"
	StateTerminated ItemState = "terminated"
)

// Terminal reports whether no further transitions can occur.
func (s ItemState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTerminated:
		return true
	default:
		return false
	}
}

// FailureReason distinguishes why an item failed, so a missing output on a
// zero exit is never confused with a non-zero exit or an unreadable input.
type FailureReason string

const (
	ReasonNone            FailureReason = ""
	ReasonInputUnreadable FailureReason = "input unreadable"
	ReasonSpawnFailed     FailureReason = "spawn failed"
	ReasonExitNonZero     FailureReason = "exit non-zero"
	ReasonOutputMissing   FailureReason = "output missing or empty"
	ReasonShutdown        FailureReason = "run shut down"
)

// WorkItem tracks one input file through the run. Items are owned
// exclusively by the scheduler; external collaborators only ever see the
// ItemResult emitted when an item goes terminal.
type WorkItem struct {
	Input  string
	Output string

	State   ItemState
	Reason  FailureReason
	Retries int
	// Attempts counts actual spawns, including the first.
	Attempts int
	// NotBefore delays re-admission of a retried item.
	NotBefore time.Time

	startedAt time.Time
	duration  time.Duration
	detail    string
}

// isValidTransition enforces the allowed state machine edges.
func isValidTransition(from, to ItemState) bool {
	switch from {
	case StatePending:
		return to == StateRunning || to == StateFailed || to == StateTerminated
	case StateRunning:
		return to == StateCompleted || to == StateFailed || to == StateTerminated
	case StateFailed:
		// Only back to Pending, and only under the retry policy.
		return to == StatePending
	default:
		return false
	}
}

// transition applies a state change, panicking on an illegal edge. Illegal
// edges are scheduler bugs, not runtime conditions.
func (w *WorkItem) transition(to ItemState) {
	if !isValidTransition(w.State, to) {
		panic("scheduler: invalid transition " + string(w.State) + " -> " + string(to))
	}
	w.State = to
}

// ItemResult is the terminal report for one work item.
type ItemResult struct {
	Input    string
	Output   string
	State    ItemState
	Reason   FailureReason
	Detail   string
	Retries  int
	Attempts int
	Duration time.Duration
}

func (w *WorkItem) result() ItemResult {
	return ItemResult{
		Input:    w.Input,
		Output:   w.Output,
		State:    w.State,
		Reason:   w.Reason,
		Detail:   w.detail,
		Retries:  w.Retries,
		Attempts: w.Attempts,
		Duration: w.duration,
	}
}

// Summary aggregates the whole run.
type Summary struct {
	Completed  int
	Failed     int
	Terminated int
	Items      []ItemResult
}

// AllCompleted reports whether every item reached Completed.
func (s Summary) AllCompleted() bool {
	return s.Failed == 0 && s.Terminated == 0
}

// Counters is the live view polled by telemetry exporters on every tick.
type Counters struct {
	Pending    int
	Running    int
	Completed  int
	Failed     int
	Terminated int
	Ceiling    int
}
