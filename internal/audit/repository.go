package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/firewatch-core/internal/infrastructure/database"
)

// Page size bounds for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Entry is one recorded command.
type Entry struct {
	ID         string    `json:"id"`
	DeviceID   int64     `json:"deviceId"`
	DeviceCode string    `json:"deviceCode"`
	Action     string    `json:"action"`
	Mode       string    `json:"mode"`
	Delivered  bool      `json:"delivered"`
	Reason     string    `json:"reason"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Filter controls which entries List returns.
type Filter struct {
	DeviceID int64  // optional
	Action   string // optional: trigger_alert, reset_alert, ping, health, update_thresholds
	Limit    int    // default 50, max 200
	Offset   int
}

// ListResult is one page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores and lists command entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLRepository implements Repository on SQLite or Postgres.
type SQLRepository struct {
	db      *database.DB
	dialect database.Dialect
}

// NewSQLRepository creates a repository on an open, migrated database.
func NewSQLRepository(db *database.DB) *SQLRepository {
	return &SQLRepository{db: db, dialect: db.Dialect()}
}

// Create inserts an entry. ID and CreatedAt are generated if empty.
func (r *SQLRepository) Create(ctx context.Context, e *Entry) error {
	if e.DeviceID <= 0 || e.Action == "" {
		return fmt.Errorf("%w: device and action are required", ErrInvalidEntry)
	}
	if e.ID == "" {
		e.ID = "cmd-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.CreatedAt = e.CreatedAt.Truncate(time.Millisecond)

	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(
		`INSERT INTO command_log (id, device_id, device_code, action, mode, delivered, reason, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.DeviceID, e.DeviceCode, e.Action, e.Mode,
		r.boolValue(e.Delivered), e.Reason, nullableString(e.Error),
		e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting command entry: %w", err)
	}
	return nil
}

// boolValue matches the column type: INTEGER on STRICT SQLite, BOOLEAN on Postgres.
func (r *SQLRepository) boolValue(b bool) any {
	if r.dialect == database.DialectPostgres {
		return b
	}
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, most recent first.
func (r *SQLRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter = clamp(filter)

	var conditions []string
	var args []any

	if filter.DeviceID > 0 {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := r.dialect.Rebind("SELECT COUNT(*) FROM command_log " + where)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command entries: %w", err)
	}

	query := r.dialect.Rebind(
		"SELECT id, device_id, device_code, action, mode, delivered, reason, error, created_at FROM command_log " +
			where + " ORDER BY created_at DESC, id LIMIT ? OFFSET ?")
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var delivered any
		var errText sql.NullString
		var createdAt int64

		if err := rows.Scan(&e.ID, &e.DeviceID, &e.DeviceCode, &e.Action, &e.Mode,
			&delivered, &e.Reason, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command entry: %w", err)
		}

		e.Delivered = truthy(delivered)
		e.Error = errText.String
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func clamp(f Filter) Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	default:
		return false
	}
}
