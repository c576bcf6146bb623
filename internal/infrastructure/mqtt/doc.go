// Package mqtt provides the MQTT client used by FireWatch for its event bus.
//
// Devices may publish telemetry on firewatch/telemetry/{code} as an
// alternative to the HTTP endpoint. The core publishes retained device status
// changes and mirrors accepted readings so that dashboards and other services
// can follow the fleet without polling the API.
//
// The client wraps github.com/eclipse/paho.mqtt.golang with connection state
// tracking, subscription restoration on reconnect, a retained Last Will on
// firewatch/system/status and panic recovery around message handlers.
package mqtt
