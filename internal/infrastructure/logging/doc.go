// Package logging provides structured logging for FireWatch Core.
//
// It wraps the standard log/slog package so every entry carries the
// service and version fields and honours the configured level.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("device demoted", "device_code", code, "silent_for", silentFor)
//
// Never log the device bearer token or database credentials.
package logging
