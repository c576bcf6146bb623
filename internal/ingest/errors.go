package ingest

import (
	"errors"
	"fmt"
)

// ErrInvalidSample is returned when a sample fails validation.
var ErrInvalidSample = errors.New("ingest: invalid sample")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidSample}, args...)...)
}
