// Package events fans device lifecycle events out to the rest of the system.
//
// Ingestion and the liveness reconciler emit events on a Bus; the Bus delivers
// them asynchronously to each registered Sink: the MQTT event bus, the AMQP
// exchange, the InfluxDB history mirror, the operator WebSocket stream and
// the Telegram notifier. A slow or failing sink never blocks the code path
// that produced the event. When the queue is full the event is dropped and
// counted. Status events carry the device row version and the Bus discards
// any that arrive behind a newer status for the same device.
//
// A nil *Bus is valid and discards everything.
package events
