package hass

import (
	"fmt"
	"strings"
)

// Mode decides what Run does once every automation has initialised.
type Mode int

const (
	// ModeAutomatic keeps running while any listener or scheduled task is
	// registered, and stops otherwise.
	ModeAutomatic Mode = iota

	// ModeKeepRunning always keeps the connection open.
	ModeKeepRunning

	// ModeJustInitialize closes the connection after initialisation.
	ModeJustInitialize
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeAutomatic:
		return "automatic"
	case ModeKeepRunning:
		return "keep_running"
	case ModeJustInitialize:
		return "just_initialize"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a configuration string into a Mode.
// An empty string yields ModeAutomatic.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "automatic":
		return ModeAutomatic, nil
	case "keep_running":
		return ModeKeepRunning, nil
	case "just_initialize":
		return ModeJustInitialize, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}
