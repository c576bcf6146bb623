package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Push transport message types.
const (
	TypeRegister   = "register"
	TypeHeartbeat  = "heartbeat"
	TypeAck        = "ack"
	TypeRegistered = "registered"
	TypeError      = "error"
)

// CloseUnknownDevice is the WebSocket close code sent after rejecting a
// registration for an unknown device code.
const CloseUnknownDevice = 4404

// Error codes carried in error replies.
const (
	ErrorCodeUnknownDevice  = "unknown_device"
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeNotRegistered  = "not_registered"
	ErrorCodeInternal       = "internal_error"
)

// Inbound is a message received from a device. The set of implementations
// is closed: Register, Heartbeat and Ack.
type Inbound interface {
	inbound()
}

// Register binds the connection to a device code.
type Register struct {
	DeviceCode string `json:"deviceCode"`
	Version    string `json:"version,omitempty"`
}

// Heartbeat is a keep-alive from a registered device.
type Heartbeat struct {
	DeviceCode string `json:"deviceCode"`
}

// Ack reports the outcome of a command the device received.
type Ack struct {
	Action string `json:"action"`
	Status string `json:"status"`
}

func (Register) inbound()  {}
func (Heartbeat) inbound() {}
func (Ack) inbound()       {}

// DecodeInbound parses one device message by its "type" discriminator.
func DecodeInbound(data []byte) (Inbound, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch envelope.Type {
	case TypeRegister:
		var m Register
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if m.DeviceCode == "" {
			return nil, fmt.Errorf("%w: register requires deviceCode", ErrMalformedMessage)
		}
		return m, nil
	case TypeHeartbeat:
		var m Heartbeat
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return m, nil
	case TypeAck:
		var m Ack
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, envelope.Type)
	}
}

// Action is an outbound command name.
type Action string

// Outbound command actions.
const (
	ActionTriggerAlert Action = "trigger_alert"
	ActionResetAlert   Action = "reset_alert"
	ActionPing         Action = "ping"
)

// Command is pushed to a device. Timestamp is unix milliseconds.
type Command struct {
	Action    Action `json:"action"`
	Timestamp int64  `json:"timestamp"`
}

// NewCommand builds a command stamped at t.
func NewCommand(action Action, t time.Time) Command {
	return Command{Action: action, Timestamp: t.UnixMilli()}
}

// Reply is a server response on the push transport.
type Reply struct {
	Type       string `json:"type"`
	DeviceCode string `json:"deviceCode,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// RegisteredReply acknowledges a registration.
func RegisteredReply(deviceCode string) Reply {
	return Reply{Type: TypeRegistered, DeviceCode: deviceCode}
}

// ErrorReply reports a rejected message.
func ErrorReply(code, message string) Reply {
	return Reply{Type: TypeError, Code: code, Message: message}
}
