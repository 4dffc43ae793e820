package hass

import (
	"errors"
	"fmt"
)

// Domain errors for the hass package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, hass.ErrEntityNotFound) {
//	    // entity is not in the cache
//	}
var (
	// ErrAuthenticationFailed is returned by Run when the hub rejects the access token.
	ErrAuthenticationFailed = errors.New("hass: authentication failed")

	// ErrEntityNotFound is returned by cache reads for an unknown entity ID.
	ErrEntityNotFound = errors.New("hass: entity not found")

	// ErrResponseTimeout is returned when no reply arrives within the request timeout.
	ErrResponseTimeout = errors.New("hass: response timeout")

	// ErrConnectionLost is returned when the connection drops while a request
	// is pending, or by Run when the connection drops and reconnecting is disabled.
	ErrConnectionLost = errors.New("hass: connection lost")

	// ErrCommandFailed is returned when the hub answers a request with success=false.
	ErrCommandFailed = errors.New("hass: command failed")

	// ErrNotConnected is returned when a request is made while no session is open.
	ErrNotConnected = errors.New("hass: not connected")

	// ErrInvalidMessage is returned when a frame cannot be decoded.
	ErrInvalidMessage = errors.New("hass: invalid message")

	// ErrInvalidConfig is returned by New when the session configuration is incomplete.
	ErrInvalidConfig = errors.New("hass: invalid config")

	// ErrAlreadyRunning is returned when Run is called on an engine that is running.
	ErrAlreadyRunning = errors.New("hass: engine already running")

	// ErrInvalidMode is returned by ParseMode for an unknown mode name.
	ErrInvalidMode = errors.New("hass: invalid mode")
)

// CommandError carries the error reported by the hub for a failed request.
// It matches ErrCommandFailed with errors.Is.
type CommandError struct {
	Type    string
	Code    string
	Message string
}

// Error implements error.
func (e *CommandError) Error() string {
	return fmt.Sprintf("hass: %s failed: %s: %s", e.Type, e.Code, e.Message)
}

// Is reports whether target is ErrCommandFailed.
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed //nolint:errorlint // sentinel identity check
}
