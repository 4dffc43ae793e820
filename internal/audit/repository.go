package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions and sources written by the bridge.
const (
	ActionCallService = "call_service"

	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200

	// timeLayout has fixed-width fractional seconds so stored strings sort
	// chronologically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Entry is one audit trail row.
type Entry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Service   string         `json:"service"`
	EntityID  string         `json:"entity_id,omitempty"`
	Source    string         `json:"source"`
	Success   bool           `json:"success"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ServiceCall builds the entry for a call of domain.service made from
// source. A non-nil err marks the call as failed and is kept in the details.
func ServiceCall(source, domain, service, entityID string, data map[string]any, err error) Entry {
	e := Entry{
		Action:   ActionCallService,
		Service:  domain + "." + service,
		EntityID: entityID,
		Source:   source,
		Success:  err == nil,
	}
	if len(data) > 0 || err != nil {
		e.Details = map[string]any{}
		if len(data) > 0 {
			e.Details["data"] = data
		}
		if err != nil {
			e.Details["error"] = err.Error()
		}
	}
	return e
}

// Filter controls which entries List returns. Empty fields match anything.
type Filter struct {
	Action   string
	Service  string
	EntityID string
	Source   string
	Limit    int // default 50, max 200
	Offset   int
}

// ListResult is one page of entries.
type ListResult struct {
	Logs   []Entry `json:"logs"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository stores and lists audit entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) (*ListResult, error)
}

// SQLiteRepository implements Repository on the audit_logs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts e. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.Action == "" || e.Service == "" || e.Source == "" {
		return ErrInvalidEntry
	}
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var details sql.NullString
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, service, entity_id, source, success, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.Service,
		nullableString(e.EntityID),
		e.Source, e.Success, details,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// List returns entries matching f, newest first.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) (*ListResult, error) {
	f.Limit = ClampLimit(f.Limit)
	if f.Offset < 0 {
		f.Offset = 0
	}

	var conditions []string
	var args []any
	for _, c := range []struct{ column, value string }{
		{"action", f.Action},
		{"service", f.Service},
		{"entity_id", f.EntityID},
		{"source", f.Source},
	} {
		if c.value != "" {
			conditions = append(conditions, c.column+" = ?")
			args = append(args, c.value)
		}
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_logs " + where //nolint:gosec // WHERE built from fixed columns and placeholders
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	query := "SELECT id, action, service, entity_id, source, success, details, created_at FROM audit_logs " + //nolint:gosec // as above
		where + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	logs := []Entry{}
	for rows.Next() {
		var (
			e         Entry
			entityID  sql.NullString
			details   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Service, &entityID, &e.Source, &e.Success, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit log: %w", err)
		}
		e.EntityID = entityID.String
		if details.Valid && details.String != "" {
			var m map[string]any
			if json.Unmarshal([]byte(details.String), &m) == nil {
				e.Details = m
			}
		}
		if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing audit log timestamp %q: %w", createdAt, err)
		}
		logs = append(logs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{Logs: logs, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}
