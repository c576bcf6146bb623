// Package api implements the HTTP REST API and WebSocket endpoints for
// FireWatch Core.
//
// This package provides:
//   - Telemetry ingestion over HTTP
//   - Device provisioning and inspection
//   - Alert, ping, health and threshold commands routed through the dispatcher
//   - The per-device command history recorded by the dispatcher, as JSON or
//     as an XLSX or PDF download
//   - The device push endpoint backing the session registry
//   - An operator WebSocket stream of device events, filtered by event kind
//     and device code
//   - Health and Prometheus endpoints
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Errors
//
// Handlers return the structured body {status, code, message}. Domain errors
// are mapped with errors.Is: an unknown device is 404 device_not_found, an
// invalid threshold set is 400 threshold_invalid, and an unreachable pull
// target is 503 device_unreachable. A push command with no live session is
// not an error; it returns 200 with delivered=false.
//
// # Graceful Degradation
//
// MQTT, InfluxDB and AMQP are optional. /health reports them as disabled,
// and as degraded rather than unhealthy when they fail.
package api
