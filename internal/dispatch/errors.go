package dispatch

import "errors"

var (
	// ErrDeviceUnreachable is returned when a pull call times out, fails at
	// the transport, returns a non-2xx status or a malformed body, or the
	// device declines a threshold change.
	ErrDeviceUnreachable = errors.New("dispatch: device unreachable")

	// ErrInvalidMode is returned for a mode other than push or pull.
	ErrInvalidMode = errors.New("dispatch: invalid mode")

	// ErrUnsupportedMode is returned when an action has no implementation
	// on the requested transport.
	ErrUnsupportedMode = errors.New("dispatch: action not supported in mode")
)
