package models

import "fmt"

// validTransitions maps from-state to allowed to-states.
var validTransitions = map[RequestStatus]map[RequestStatus]bool{
	StatusQueued: {
		StatusProcessing: true, // scheduler dispatches to a worker
		StatusCancelled:  true, // explicit cancel before dispatch
	},
	StatusProcessing: {
		StatusCompleted: true, // pipeline finished all operations
		StatusError:     true, // pipeline hit an unrecoverable failure
		StatusCancelled: true, // explicit cancel mid-execution
	},
	// Terminal states (no transitions allowed)
	StatusCompleted: {},
	StatusError:     {},
	StatusCancelled: {},
}

// ValidateTransition checks whether a status transition follows the
// request state machine.
func ValidateTransition(from, to RequestStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("unknown source status: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal reports whether a status accepts no further transitions.
func IsTerminal(status RequestStatus) bool {
	return status == StatusCompleted || status == StatusError || status == StatusCancelled
}

// IsActive reports whether the request still occupies scheduler capacity.
func IsActive(status RequestStatus) bool {
	return status == StatusQueued || status == StatusProcessing
}
