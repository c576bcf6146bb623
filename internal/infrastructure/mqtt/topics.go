package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every FireWatch topic.
const TopicPrefix = "firewatch"

// Topics builds FireWatch topic strings.
//
//	firewatch/telemetry/{code}        device -> core, sensor samples
//	firewatch/device/{code}/status    core -> subscribers, retained
//	firewatch/device/{code}/reading   core -> subscribers
//	firewatch/system/status           core online/offline, retained
type Topics struct{}

// Telemetry returns the inbound telemetry topic for a device.
func (Topics) Telemetry(code string) string {
	return fmt.Sprintf("%s/telemetry/%s", TopicPrefix, code)
}

// AllTelemetry matches telemetry from every device.
func (Topics) AllTelemetry() string {
	return TopicPrefix + "/telemetry/+"
}

// DeviceStatus returns the retained status topic for a device.
func (Topics) DeviceStatus(code string) string {
	return fmt.Sprintf("%s/device/%s/status", TopicPrefix, code)
}

// DeviceReading returns the topic on which accepted readings are mirrored.
func (Topics) DeviceReading(code string) string {
	return fmt.Sprintf("%s/device/%s/reading", TopicPrefix, code)
}

// AllDeviceStatus matches every device status topic.
func (Topics) AllDeviceStatus() string {
	return TopicPrefix + "/device/+/status"
}

// SystemStatus returns the core service status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// DeviceCodeFromTelemetry extracts the device code from a telemetry topic.
func DeviceCodeFromTelemetry(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefix || parts[1] != "telemetry" || parts[2] == "" {
		return "", fmt.Errorf("%w: %q is not a telemetry topic", ErrInvalidTopic, topic)
	}
	if strings.ContainsAny(parts[2], "+#") {
		return "", fmt.Errorf("%w: wildcard in device code", ErrInvalidTopic)
	}
	return parts[2], nil
}
