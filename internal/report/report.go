package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/firewatch-core/internal/audit"
	"github.com/nerrad567/firewatch-core/internal/device"
)

// Export formats.
const (
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

const timeLayout = "2006-01-02 15:04:05"

// CommandLog is the input to every renderer.
type CommandLog struct {
	Device      *device.Device
	Entries     []audit.Entry // newest first
	Total       int           // entries matching, may exceed len(Entries)
	Action      string        // filter applied, empty for all
	GeneratedAt time.Time
}

// ParseFormat normalises a format name. Empty selects xlsx.
func ParseFormat(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatPDF:
		return FormatPDF, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// ContentType returns the MIME type for format.
func ContentType(format string) string {
	if format == FormatPDF {
		return "application/pdf"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Filename returns the attachment name, e.g. FW-001-commands-20260301.xlsx.
func Filename(log CommandLog, format string) string {
	code := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, log.Device.Code)
	return fmt.Sprintf("%s-commands-%s.%s", code, log.GeneratedAt.UTC().Format("20060102"), format)
}

// Build renders log in the given format.
func Build(log CommandLog, format string) ([]byte, error) {
	switch format {
	case FormatXLSX:
		return BuildXLSX(log)
	case FormatPDF:
		return BuildPDF(log)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

func actionLabel(action string) string {
	if action == "" {
		return "all"
	}
	return action
}

func deliveredLabel(e audit.Entry) string {
	if e.Delivered {
		return "yes"
	}
	return "no"
}
