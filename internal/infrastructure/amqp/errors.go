package amqp

import "errors"

var (
	// ErrNotConnected indicates the client is closed or reconnecting.
	ErrNotConnected = errors.New("amqp: not connected")

	// ErrConnectionFailed indicates the dial or exchange declaration failed.
	ErrConnectionFailed = errors.New("amqp: connection failed")

	// ErrPublishFailed wraps broker-side publish failures.
	ErrPublishFailed = errors.New("amqp: publish failed")

	// ErrDisabled indicates the integration is disabled in configuration.
	ErrDisabled = errors.New("amqp: disabled in configuration")
)
