// Package ingest records sensor samples and proofs of life.
//
// Every accepted sample refreshes the device's liveness in the same store
// transaction that appends the reading: the device becomes ACTIVE, its
// LastActiveAt moves to the ingestion time (never backwards) and a reported
// address replaces the stored one. Samples for unknown device codes are hard
// failures so that misconfigured or deprovisioned nodes surface quickly.
//
// Samples arrive over HTTP (internal/api) and, when MQTT is enabled, on
// firewatch/telemetry/{deviceCode}. Both transports decode the same
// Telemetry body.
package ingest
