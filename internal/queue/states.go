// Package queue is a durable Redis-backed work queue with a fixed-size worker
// pool per queue.
//
// Job state graph:
//
//	waiting ──► active ──► completed
//	               │
//	               └─────► failed
//
// completed and failed are terminal states.
package queue

import "fmt"

// State is the lifecycle state of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[State][]State{
	StateWaiting: {StateActive},
	StateActive:  {StateCompleted, StateFailed},
	// completed and failed are terminal
}

// ParseState converts a raw string to a State, returning an error for
// unknown values.
func ParseState(s string) (State, error) {
	st := State(s)
	switch st {
	case StateWaiting, StateActive, StateCompleted, StateFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown job state %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted.
func IsTransitionAllowed(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for completed and failed.
func IsTerminal(s State) bool { return s == StateCompleted || s == StateFailed }
