package scheduler

import "errors"

var (
	// ErrInvalidInterval is returned when a regular task interval is not positive.
	ErrInvalidInterval = errors.New("scheduler: interval must be positive")

	// ErrInvalidCron is returned when a cron expression cannot be parsed.
	ErrInvalidCron = errors.New("scheduler: invalid cron expression")

	// ErrInvalidTimeOfDay is returned when a time of day is outside [0, 24h).
	ErrInvalidTimeOfDay = errors.New("scheduler: time of day out of range")
)
