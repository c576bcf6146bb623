package device

import "time"

// Status is the core-observable liveness state of a device.
type Status string

// Device statuses. A device only becomes ACTIVE through contact (a telemetry
// sample or a push registration) and only becomes OFFLINE through the
// liveness reconciler.
const (
	StatusActive  Status = "ACTIVE"
	StatusOffline Status = "OFFLINE"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusOffline
}

// Thresholds are the alarm levels configured on a sensor node.
// Safety < Warning < Danger must hold after every mutation.
type Thresholds struct {
	Safety  float64 `json:"safety"`
	Warning float64 `json:"warning"`
	Danger  float64 `json:"danger"`
}

// DefaultThresholds are applied to a device provisioned without any.
var DefaultThresholds = Thresholds{Safety: 300, Warning: 600, Danger: 1000}

// Device is a provisioned sensor node.
// Code is the identity reported by firmware; ID is the store's surrogate key.
type Device struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name,omitempty"`
	Location string `json:"location,omitempty"`

	// Address is the last network endpoint the device reported, used for
	// pull-mode commands. Empty until the device first reports one.
	Address string `json:"address,omitempty"`

	Status       Status     `json:"status"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`

	Thresholds      Thresholds `json:"thresholds"`
	FirmwareVersion string     `json:"firmware_version,omitempty"`

	// Version is bumped on every write to the row.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns an independent copy of the device.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	if d.LastActiveAt != nil {
		t := *d.LastActiveAt
		cpy.LastActiveAt = &t
	}
	return &cpy
}

// SilentFor returns how long the device has been without contact at now.
// A device that has never been seen reports ok=false: its silence is
// unbounded.
func (d *Device) SilentFor(now time.Time) (silence time.Duration, ok bool) {
	if d.LastActiveAt == nil {
		return 0, false
	}
	return now.Sub(*d.LastActiveAt), true
}

// Reading is one immutable telemetry sample.
type Reading struct {
	ID         int64     `json:"id"`
	DeviceID   int64     `json:"device_id"`
	SensorType string    `json:"sensor_type"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// Contact describes one proof of life from a device.
type Contact struct {
	// At is when the contact was observed. LastActiveAt never moves backwards,
	// so an At older than the stored value leaves it unchanged.
	At time.Time

	// Address replaces the stored address when non-empty.
	Address string

	// FirmwareVersion replaces the stored firmware version when non-empty.
	FirmwareVersion string
}

// ContactResult is the outcome of recording a contact.
type ContactResult struct {
	// Device is the row as committed.
	Device *Device

	// Reading is the appended sample, when one was recorded.
	Reading *Reading

	// Promoted is true when the contact moved the device from OFFLINE to ACTIVE.
	Promoted bool
}
