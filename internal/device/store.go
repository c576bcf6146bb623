package device

import (
	"context"
	"strings"
	"time"
)

// Store persists devices and their readings.
//
// Every liveness write is a single-row transaction. RecordContact and
// RecordSample lock the row (SQLite's single writer, SELECT ... FOR UPDATE
// on Postgres) before writing. MarkOffline is a compare-and-set on the
// LastActiveAt the caller observed, so a contact committed after that
// observation always wins.
type Store interface {
	// Create inserts a new device and fills in ID, Version and timestamps.
	// Returns ErrDeviceExists if the code is taken.
	Create(ctx context.Context, d *Device) error

	// FindByID returns ErrDeviceNotFound if the device does not exist.
	FindByID(ctx context.Context, id int64) (*Device, error)

	// FindByCode returns ErrDeviceNotFound if the device does not exist.
	FindByCode(ctx context.Context, code string) (*Device, error)

	// List returns all devices ordered by ID.
	List(ctx context.Context) ([]Device, error)

	// RecordContact marks the device ACTIVE and refreshes LastActiveAt,
	// Address and FirmwareVersion from c.
	RecordContact(ctx context.Context, code string, c Contact) (*ContactResult, error)

	// RecordSample does what RecordContact does and appends r in the same
	// transaction. r.DeviceID and r.ID are filled in.
	RecordSample(ctx context.Context, code string, c Contact, r Reading) (*ContactResult, error)

	// MarkOffline demotes the device only if it is not already OFFLINE and
	// its LastActiveAt still equals observed (nil meaning never seen).
	// It returns the committed row, or nil when nothing changed.
	MarkOffline(ctx context.Context, id int64, observed *time.Time) (*Device, error)

	// UpdateThresholds validates and stores t.
	UpdateThresholds(ctx context.Context, id int64, t Thresholds) (*Device, error)

	// AppendReading stores r without touching liveness.
	AppendReading(ctx context.Context, r *Reading) error

	// LatestTimestamp returns the newest reading time, or nil if none.
	LatestTimestamp(ctx context.Context, deviceID int64) (*time.Time, error)

	// ListReadings returns up to limit readings, newest first.
	ListReadings(ctx context.Context, deviceID int64, limit int) ([]Reading, error)
}

// Validate checks the fields required to provision a device. Zero-valued
// thresholds are replaced with DefaultThresholds.
func Validate(d *Device) error {
	d.Code = strings.TrimSpace(d.Code)
	if d.Code == "" {
		return invalidf("code is required")
	}
	if len(d.Code) > maxCodeLength {
		return invalidf("code exceeds %d characters", maxCodeLength)
	}
	if d.Thresholds == (Thresholds{}) {
		d.Thresholds = DefaultThresholds
	}
	if err := d.Thresholds.Validate(); err != nil {
		return err
	}
	if d.Status == "" {
		d.Status = StatusOffline
	}
	if !d.Status.Valid() {
		return invalidf("unknown status %q", d.Status)
	}
	return nil
}

const maxCodeLength = 64

// laterOf returns the later of stored and at. LastActiveAt is monotonic.
func laterOf(stored *time.Time, at time.Time) time.Time {
	if stored != nil && stored.After(at) {
		return *stored
	}
	return at
}

// millis truncates t to the millisecond precision the store keeps.
func millis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}

var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
