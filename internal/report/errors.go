package report

import "errors"

// ErrUnsupportedFormat is returned for a format other than xlsx or pdf.
var ErrUnsupportedFormat = errors.New("report: unsupported format")
