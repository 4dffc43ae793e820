package history

import "errors"

var (
	// ErrInvalidEntityID is returned for an empty entity ID.
	ErrInvalidEntityID = errors.New("history: entity id is required")

	// ErrInvalidRetention is returned by Prune for a non-positive duration.
	ErrInvalidRetention = errors.New("history: retention must be positive")
)
