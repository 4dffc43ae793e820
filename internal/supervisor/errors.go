package supervisor

import "errors"

var (
	// ErrEscalated wraps the fault that cancelled the supervisor under PolicyEscalate.
	ErrEscalated = errors.New("supervisor: fault escalated")

	// ErrPanic is the error recorded for a unit that panicked.
	ErrPanic = errors.New("supervisor: unit panicked")

	// ErrInvalidPolicy is returned by ParsePolicy for an unknown policy name.
	ErrInvalidPolicy = errors.New("supervisor: invalid policy")
)
