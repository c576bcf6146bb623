// Package device holds the sensor-node model and its persistence.
//
// A Device is identified by the Code its firmware reports and carries the
// liveness fields (Status, LastActiveAt), the last reported network Address
// used for pull-mode commands, and alarm Thresholds that must always satisfy
// Safety < Warning < Danger.
//
// # Consistency
//
// The device row is the unit of consistency. Contacts (telemetry samples and
// push registrations) run as one transaction that locks the row, moves
// LastActiveAt forward only, sets ACTIVE and bumps Version. The reconciler's
// demotion is a compare-and-set on the LastActiveAt it observed:
//
//	UPDATE devices SET status = 'OFFLINE' ...
//	WHERE id = ? AND status <> 'OFFLINE' AND last_active_at = <observed>
//	RETURNING ...
//
// so a contact committed after the sweep read leaves the row ACTIVE. Both
// writes return the committed row, and its Version orders the status events
// built from it.
//
// # Stores
//
//   - SQLStore: SQLite or Postgres via internal/infrastructure/database
//   - MemoryStore: in-process, for tests and development
package device
