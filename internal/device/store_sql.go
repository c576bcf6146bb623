package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/firewatch-core/internal/infrastructure/database"
)

// Postgres SQLSTATE codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const deviceColumns = `id, code, name, location, address, status, last_active_at,
	safety_threshold, warning_threshold, danger_threshold,
	firmware_version, version, created_at, updated_at`

// SQLStore implements Store on SQLite or Postgres.
type SQLStore struct {
	db      *database.DB
	dialect database.Dialect
}

// NewSQLStore creates a store on an open, migrated database.
func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db, dialect: db.Dialect()}
}

func (s *SQLStore) q(query string) string {
	return s.dialect.Rebind(query)
}

// Create inserts a new device.
func (s *SQLStore) Create(ctx context.Context, d *Device) error {
	if err := Validate(d); err != nil {
		return err
	}

	now := millis(time.Now())
	d.CreatedAt = now
	d.UpdatedAt = now
	d.Version = 1

	query := s.q(`
		INSERT INTO devices (
			code, name, location, address, status, last_active_at,
			safety_threshold, warning_threshold, danger_threshold,
			firmware_version, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := s.db.QueryRowContext(ctx, query,
		d.Code, d.Name, d.Location, d.Address, string(d.Status), nullableMillis(d.LastActiveAt),
		d.Thresholds.Safety, d.Thresholds.Warning, d.Thresholds.Danger,
		d.FirmwareVersion, d.Version, now.UnixMilli(), now.UnixMilli(),
	).Scan(&d.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// FindByID retrieves a device by its surrogate key.
func (s *SQLStore) FindByID(ctx context.Context, id int64) (*Device, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+deviceColumns+` FROM devices WHERE id = ?`), id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// FindByCode retrieves a device by the code its firmware reports.
func (s *SQLStore) FindByCode(ctx context.Context, code string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+deviceColumns+` FROM devices WHERE code = ?`), code)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by code: %w", err)
	}
	return d, nil
}

// List retrieves all devices.
func (s *SQLStore) List(ctx context.Context) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// RecordContact refreshes liveness without appending a reading.
func (s *SQLStore) RecordContact(ctx context.Context, code string, c Contact) (*ContactResult, error) {
	return s.recordContact(ctx, code, c, nil)
}

// RecordSample refreshes liveness and appends r atomically.
func (s *SQLStore) RecordSample(ctx context.Context, code string, c Contact, r Reading) (*ContactResult, error) {
	return s.recordContact(ctx, code, c, &r)
}

func (s *SQLStore) recordContact(ctx context.Context, code string, c Contact, r *Reading) (*ContactResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var (
		id         int64
		status     string
		lastActive sql.NullInt64
	)
	err = tx.QueryRowContext(ctx,
		s.q(`SELECT id, status, last_active_at FROM devices WHERE code = ?`+s.dialect.ForUpdate()),
		code,
	).Scan(&id, &status, &lastActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("locking device: %w", err)
	}

	seen := millis(laterOf(fromNullMillis(lastActive), millis(c.At)))
	now := millis(time.Now())

	_, err = tx.ExecContext(ctx, s.q(`
		UPDATE devices SET
			status = ?,
			last_active_at = ?,
			address = CASE WHEN ? <> '' THEN ? ELSE address END,
			firmware_version = CASE WHEN ? <> '' THEN ? ELSE firmware_version END,
			version = version + 1,
			updated_at = ?
		WHERE id = ?`),
		string(StatusActive),
		seen.UnixMilli(),
		c.Address, c.Address,
		c.FirmwareVersion, c.FirmwareVersion,
		now.UnixMilli(),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating device liveness: %w", err)
	}

	result := &ContactResult{Promoted: Status(status) != StatusActive}

	if r != nil {
		r.DeviceID = id
		r.Timestamp = millis(r.Timestamp)
		if err := insertReading(ctx, tx, s.dialect, r); err != nil {
			return nil, err
		}
		result.Reading = r
	}

	d, err := scanDevice(tx.QueryRowContext(ctx, s.q(`SELECT `+deviceColumns+` FROM devices WHERE id = ?`), id))
	if err != nil {
		return nil, fmt.Errorf("reloading device: %w", err)
	}
	result.Device = d

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing contact: %w", err)
	}
	return result, nil
}

// MarkOffline demotes a device if nothing has touched its liveness since
// the caller read observed. It returns the demoted row, or nil when the
// compare-and-set lost.
func (s *SQLStore) MarkOffline(ctx context.Context, id int64, observed *time.Time) (*Device, error) {
	query := `
		UPDATE devices SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status <> ? AND `
	args := []any{string(StatusOffline), time.Now().UnixMilli(), id, string(StatusOffline)}

	if observed == nil {
		query += `last_active_at IS NULL`
	} else {
		query += `last_active_at = ?`
		args = append(args, observed.UnixMilli())
	}
	query += ` RETURNING ` + deviceColumns

	d, err := scanDevice(s.db.QueryRowContext(ctx, s.q(query), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("marking device offline: %w", err)
	}
	return d, nil
}

// UpdateThresholds stores confirmed thresholds.
func (s *SQLStore) UpdateThresholds(ctx context.Context, id int64, t Thresholds) (*Device, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx, s.q(`
		UPDATE devices SET
			safety_threshold = ?, warning_threshold = ?, danger_threshold = ?,
			version = version + 1, updated_at = ?
		WHERE id = ?`),
		t.Safety, t.Warning, t.Danger, time.Now().UnixMilli(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating thresholds: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrDeviceNotFound
	}
	return s.FindByID(ctx, id)
}

// AppendReading stores a reading for an existing device.
func (s *SQLStore) AppendReading(ctx context.Context, r *Reading) error {
	r.Timestamp = millis(r.Timestamp)
	err := insertReading(ctx, s.db, s.dialect, r)
	if err != nil && isForeignKeyError(err) {
		return ErrDeviceNotFound
	}
	return err
}

// LatestTimestamp returns the time of the newest reading.
func (s *SQLStore) LatestTimestamp(ctx context.Context, deviceID int64) (*time.Time, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT MAX(timestamp) FROM readings WHERE device_id = ?`), deviceID,
	).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("querying latest reading: %w", err)
	}
	return fromNullMillis(ts), nil
}

// ListReadings returns the newest readings for a device.
func (s *SQLStore) ListReadings(ctx context.Context, deviceID int64, limit int) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, device_id, sensor_type, value, timestamp
		FROM readings
		WHERE device_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`), deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var r Reading
		var ts int64
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.SensorType, &r.Value, &ts); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		r.Timestamp = time.UnixMilli(ts).UTC()
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}

// queryRower is satisfied by *sql.Tx and *database.DB.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertReading(ctx context.Context, q queryRower, dialect database.Dialect, r *Reading) error {
	err := q.QueryRowContext(ctx, dialect.Rebind(`
		INSERT INTO readings (device_id, sensor_type, value, timestamp)
		VALUES (?, ?, ?, ?)
		RETURNING id`),
		r.DeviceID, r.SensorType, r.Value, r.Timestamp.UnixMilli(),
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var status string
	var lastActive sql.NullInt64
	var createdAt, updatedAt int64

	err := scanner.Scan(
		&d.ID,
		&d.Code,
		&d.Name,
		&d.Location,
		&d.Address,
		&status,
		&lastActive,
		&d.Thresholds.Safety,
		&d.Thresholds.Warning,
		&d.Thresholds.Danger,
		&d.FirmwareVersion,
		&d.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Status = Status(status)
	d.LastActiveAt = fromNullMillis(lastActive)
	d.CreatedAt = time.UnixMilli(createdAt).UTC()
	d.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &d, nil
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

func isForeignKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgForeignKeyViolation
	}
	return false
}
