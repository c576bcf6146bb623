// Package session tracks which devices hold an open push connection.
//
// A Registry maps device codes to Conn handles. It is an ordinary value,
// created in main and injected into the WebSocket endpoint and the command
// dispatcher, so tests can run any number of independent registries.
//
// # Protocol
//
// Devices speak JSON with a "type" discriminator. DecodeInbound turns a frame
// into one of Register, Heartbeat or Ack; callers switch on the concrete type.
// The server answers registrations with RegisteredReply or, for an unknown
// code, ErrorReply(ErrorCodeUnknownDevice, ...) followed by a close frame with
// CloseUnknownDevice. Commands go out as Command values.
//
// WSConn wraps a gorilla/websocket connection with a uuid transport ID and a
// write mutex.
package session
