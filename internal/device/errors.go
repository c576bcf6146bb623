package device

import (
	"errors"
	"fmt"
)

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // unknown code or id
//	}
var (
	// ErrDeviceNotFound is returned when a device code or ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device whose code is taken.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when a device fails validation on create.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrThresholdInvalid is returned when thresholds are negative, not
	// finite, or not strictly ordered safety < warning < danger.
	ErrThresholdInvalid = errors.New("device: invalid thresholds")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidDevice}, args...)...)
}
