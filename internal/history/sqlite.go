package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200

	// timeLayout has fixed-width fractional seconds so stored strings sort
	// chronologically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// SQLiteRepository implements Repository on the entity_state_history table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository on an open, migrated database.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteRepository: Repository instance ready for use
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts c. A zero ChangedAt is stored as the recording time.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - c: Change to persist; State nil marks a removal
//
// Returns:
//   - error: ErrInvalidEntityID, or the underlying database error
func (r *SQLiteRepository) Record(ctx context.Context, c Change) error {
	if c.EntityID == "" {
		return ErrInvalidEntityID
	}
	attrs := c.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshalling attributes: %w", err)
	}

	recorded := r.now().UTC()
	changed := c.ChangedAt.UTC()
	if c.ChangedAt.IsZero() {
		changed = recorded
	}

	var state sql.NullString
	if c.State != nil {
		state = sql.NullString{String: *c.State, Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO entity_state_history (entity_id, state, attributes, changed_at, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.EntityID,
		state,
		string(attrJSON),
		changed.Format(timeLayout),
		recorded.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting entity state history: %w", err)
	}
	return nil
}

// List returns recent changes of entityID ordered newest first.
func (r *SQLiteRepository) List(ctx context.Context, entityID string, limit int) ([]Entry, error) {
	if entityID == "" {
		return nil, ErrInvalidEntityID
	}
	limit = ClampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, entity_id, state, attributes, changed_at, recorded_at
		 FROM entity_state_history
		 WHERE entity_id = ?
		 ORDER BY changed_at DESC, id DESC
		 LIMIT ?`,
		entityID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying entity state history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e                   Entry
			state               sql.NullString
			attrJSON            string
			changedAt, recorded string
		)
		if err := rows.Scan(&e.ID, &e.EntityID, &state, &attrJSON, &changedAt, &recorded); err != nil {
			return nil, fmt.Errorf("scanning entity state history: %w", err)
		}
		if state.Valid {
			e.State = &state.String
		}
		if err := json.Unmarshal([]byte(attrJSON), &e.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshalling attributes: %w", err)
		}
		if e.ChangedAt, err = time.Parse(timeLayout, changedAt); err != nil {
			return nil, fmt.Errorf("parsing changed_at: %w", err)
		}
		if e.RecordedAt, err = time.Parse(timeLayout, recorded); err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity state history: %w", err)
	}
	return entries, nil
}

// Prune deletes changes whose changed_at is older than now-olderThan.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM entity_state_history WHERE changed_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting entity state history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
