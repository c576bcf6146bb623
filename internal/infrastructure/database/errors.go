package database

import "errors"

var (
	// ErrUnsupportedDriver is returned by Open for an unknown driver name.
	ErrUnsupportedDriver = errors.New("database: unsupported driver")

	// ErrMissingDSN is returned by Open when postgres is selected without a DSN.
	ErrMissingDSN = errors.New("database: postgres requires a DSN")
)
