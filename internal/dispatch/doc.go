// Package dispatch delivers commands to devices over one of two transports.
//
// Every call names its Mode explicitly:
//
//   - ModePush sends a JSON command over the device's registered WebSocket
//     session. It never waits for a session: if none is registered the result
//     is Reason "session_absent" and nothing is sent.
//   - ModePull calls the HTTP endpoint the device exposes on its last reported
//     address, authenticated with a shared bearer token and bounded by the
//     configured request timeout.
//
// Threshold updates are pull-only and all-or-nothing. The requested values
// are merged over the stored ones and validated before any network I/O; the
// device row is updated only after the device answers success=true. Any
// remote failure returns ErrDeviceUnreachable and leaves the row untouched.
// The dispatcher never retries.
package dispatch
