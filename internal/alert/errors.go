package alert

import (
	"errors"
	"fmt"

	"stationmon/internal/domain"
)

var (
	// ErrNotFound indicates unknown alert id, or a closed alert for note operations.
	ErrNotFound = errors.New("alert not found")
	// ErrInvalidTransition indicates a lifecycle move the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid alert transition")
	// ErrValidation indicates malformed operation input.
	ErrValidation = errors.New("invalid alert input")
)

// InvalidTransitionError carries rejected lifecycle move.
// Params: alert id, current state, requested state, and reason.
// Returns: error that matches ErrInvalidTransition.
type InvalidTransitionError struct {
	AlertID string
	From    domain.AlertState
	To      domain.AlertState
	Reason  string
}

// Error renders rejected transition.
func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("alert %q: cannot move from %s to %s", e.AlertID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap links typed error to ErrInvalidTransition.
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}
