// Package audit keeps the command_log table: one row per command the
// dispatcher attempted, delivered or not.
//
// The dispatcher writes through Recorder; the API reads entries back per
// device, newest first. IDs are "cmd-" plus a short UUID so they stay
// readable in logs.
package audit
