package session

import (
	"errors"
	"fmt"

	"github.com/nerrad567/firewatch-core/internal/device"
)

var (
	// ErrUnknownDevice is returned by Register for a code with no device row.
	// It matches device.ErrDeviceNotFound under errors.Is.
	ErrUnknownDevice = fmt.Errorf("session: unknown device: %w", device.ErrDeviceNotFound)

	// ErrNoSession is returned by Send when the device holds no session.
	ErrNoSession = errors.New("session: no session for device")

	// ErrConnClosed is returned when sending on a closed connection.
	ErrConnClosed = errors.New("session: connection closed")

	// ErrUnknownMessage is returned by DecodeInbound for an unrecognised type.
	ErrUnknownMessage = errors.New("session: unknown message type")

	// ErrMalformedMessage is returned by DecodeInbound for invalid JSON or
	// missing required fields.
	ErrMalformedMessage = errors.New("session: malformed message")
)
