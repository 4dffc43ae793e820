package history

import (
	"context"
	"time"
)

// Entry is one recorded entity state change.
type Entry struct {
	ID       int64  `json:"id"`
	EntityID string `json:"entity_id"`

	// State is nil when the change removed the entity.
	State      *string        `json:"state"`
	Attributes map[string]any `json:"attributes"`

	// ChangedAt is the hub's last_updated of the new state (UTC).
	ChangedAt time.Time `json:"changed_at"`

	// RecordedAt is when this service stored the row (UTC).
	RecordedAt time.Time `json:"recorded_at"`
}

// Change is the input to Repository.Record.
type Change struct {
	EntityID   string
	State      *string
	Attributes map[string]any
	ChangedAt  time.Time
}

// Repository stores and retrieves entity state history.
//
// Implementations must be safe for concurrent use and store UTC timestamps.
type Repository interface {
	// Record stores one change.
	Record(ctx context.Context, c Change) error

	// List returns the most recent changes of entityID, newest first.
	// limit <= 0 means the default (50); values above 200 are clamped.
	List(ctx context.Context, entityID string, limit int) ([]Entry, error)

	// Prune deletes changes older than now-olderThan and returns how many
	// rows were removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
