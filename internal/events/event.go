package events

import (
	"time"

	"github.com/nerrad567/firewatch-core/internal/device"
)

// Kind identifies an event type. Kinds double as operator stream channels.
type Kind string

const (
	// KindStatusChanged is emitted when a device moves between ACTIVE and OFFLINE.
	KindStatusChanged Kind = "device.status_changed"

	// KindReading is emitted for every accepted sensor sample.
	KindReading Kind = "device.reading"
)

// Transition reasons.
const (
	ReasonContact = "contact"
	ReasonTimeout = "timeout"
)

// Event is one fact about a device.
type Event struct {
	Kind       Kind            `json:"kind"`
	DeviceID   int64           `json:"device_id"`
	DeviceCode string          `json:"device_code"`
	Status     device.Status   `json:"status,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Reading    *device.Reading `json:"reading,omitempty"`
	At         time.Time       `json:"timestamp"`

	// Version is the device row version the event was built from. Zero
	// means unversioned.
	Version int64 `json:"version,omitempty"`
}

// StatusChanged builds a status transition event for d.
func StatusChanged(d *device.Device, reason string, at time.Time) Event {
	return Event{
		Kind:       KindStatusChanged,
		DeviceID:   d.ID,
		DeviceCode: d.Code,
		Status:     d.Status,
		Reason:     reason,
		At:         at,
		Version:    d.Version,
	}
}

// ReadingAccepted builds a reading event.
func ReadingAccepted(d *device.Device, r *device.Reading) Event {
	return Event{
		Kind:       KindReading,
		DeviceID:   d.ID,
		DeviceCode: d.Code,
		Reading:    r,
		At:         r.Timestamp,
		Version:    d.Version,
	}
}
