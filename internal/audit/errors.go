package audit

import "errors"

// ErrInvalidEntry is returned by Create for an entry without an action,
// service or source.
var ErrInvalidEntry = errors.New("audit: action, service and source are required")
