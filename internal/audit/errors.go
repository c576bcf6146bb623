package audit

import "errors"

// ErrInvalidEntry is returned when an entry lacks a device or action.
var ErrInvalidEntry = errors.New("audit: invalid entry")
