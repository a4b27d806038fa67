package task

import "fmt"

// allowedTransitions lists every permitted status change. Terminal states have no entry.
var allowedTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	StatusPending: {
		StatusWaitingResponse: {},
		StatusInProgress:      {},
		StatusFailed:          {},
	},
	StatusInProgress: {
		StatusWaitingResponse: {},
		StatusCompleted:       {},
		StatusFailed:          {},
	},
	StatusWaitingResponse: {
		StatusWaitingResponse: {}, // clarification round
		StatusCompleted:       {},
		StatusFailed:          {},
	},
}

// CanTransition reports whether a task in status from may move to status to.
func CanTransition(from, to TaskStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// ValidateTransition returns ErrInvalidTransition when from -> to is not allowed.
func ValidateTransition(from, to TaskStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown target status %q", ErrInvalidTransition, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
