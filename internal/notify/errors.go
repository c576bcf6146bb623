package notify

import "errors"

var (
	// ErrDisabled indicates the channel is disabled in configuration.
	ErrDisabled = errors.New("notify: disabled in configuration")

	// ErrBotUnavailable indicates the bot token was rejected or the API
	// could not be reached.
	ErrBotUnavailable = errors.New("notify: telegram bot unavailable")

	// ErrSendFailed wraps a failed message delivery.
	ErrSendFailed = errors.New("notify: send failed")
)
