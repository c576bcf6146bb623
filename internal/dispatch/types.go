package dispatch

import (
	"fmt"
	"strings"

	"github.com/nerrad567/firewatch-core/internal/session"
)

// Mode selects the transport for one call.
type Mode string

const (
	ModePush Mode = "push"
	ModePull Mode = "pull"
)

// ParseMode parses a mode name. An empty string selects fallback.
func ParseMode(s string, fallback Mode) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return fallback, nil
	case ModePush, ModePull:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Actions that exist only on the pull transport. They label results, metrics
// and audit entries.
const (
	ActionUpdateThresholds session.Action = "update_thresholds"
	ActionHealth           session.Action = "health"
)

// Result reasons. Every undelivered command carries one.
const (
	ReasonDelivered      = "delivered"
	ReasonSessionAbsent  = "session_absent"
	ReasonSendFailed     = "send_failed"
	ReasonNoAddress      = "no_address"
	ReasonUnreachable    = "unreachable"
	ReasonRemoteRejected = "remote_rejected"
)

// Result is the outcome of one command.
type Result struct {
	DeviceID   int64          `json:"deviceId"`
	DeviceCode string         `json:"deviceCode"`
	Action     session.Action `json:"action"`
	Mode       Mode           `json:"mode"`
	Delivered  bool           `json:"delivered"`
	Reason     string         `json:"reason"`
}
