// Package notify sends operator notifications for device events.
//
// Telegram is an events.Sink. It reports every OFFLINE transition, the
// matching recovery, and readings at or above a device's warning threshold.
// Reading alerts are throttled per device, except that an escalation from
// warning to danger is always sent and a reading back under the warning
// level re-arms the device.
package notify
