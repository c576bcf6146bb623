package ingest

import (
	"math"
	"strings"
)

// Source identifies the channel a contact arrived on.
type Source string

const (
	SourceHTTP      Source = "http"
	SourceMQTT      Source = "mqtt"
	SourcePush      Source = "push"
	SourceHeartbeat Source = "heartbeat"
)

const (
	maxSensorTypeLength = 32
	maxAddressLength    = 255

	// DefaultSensorType is used when a device omits sensorType.
	DefaultSensorType = "smoke"
)

// Sample is one telemetry value reported by a device.
type Sample struct {
	DeviceCode string
	SensorType string
	Value      float64

	// Address is the device's reachable endpoint (host or host:port).
	// Empty leaves the stored address unchanged.
	Address string

	Source Source
}

// Telemetry is the wire body accepted over HTTP and MQTT.
type Telemetry struct {
	DeviceCode string   `json:"deviceCode"`
	SensorType string   `json:"sensorType"`
	Value      *float64 `json:"value"`
	Address    string   `json:"address,omitempty"`
}

// Sample converts the body into a Sample. Value is required.
func (t Telemetry) Sample(source Source) (Sample, error) {
	if t.Value == nil {
		return Sample{}, invalidf("value is required")
	}
	return Sample{
		DeviceCode: t.DeviceCode,
		SensorType: t.SensorType,
		Value:      *t.Value,
		Address:    t.Address,
		Source:     source,
	}, nil
}

// normalise trims and validates s in place.
func (s *Sample) normalise() error {
	s.DeviceCode = strings.TrimSpace(s.DeviceCode)
	if s.DeviceCode == "" {
		return invalidf("deviceCode is required")
	}

	s.SensorType = strings.ToLower(strings.TrimSpace(s.SensorType))
	if s.SensorType == "" {
		s.SensorType = DefaultSensorType
	}
	if len(s.SensorType) > maxSensorTypeLength {
		return invalidf("sensorType exceeds %d characters", maxSensorTypeLength)
	}
	for _, r := range s.SensorType {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return invalidf("sensorType %q must be lowercase letters, digits or underscore", s.SensorType)
		}
	}

	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return invalidf("value must be finite")
	}

	addr, err := normaliseAddress(s.Address)
	if err != nil {
		return err
	}
	s.Address = addr

	if s.Source == "" {
		s.Source = SourceHTTP
	}
	return nil
}

// normaliseAddress accepts a bare host or host:port. Schemes and paths are
// rejected because the dispatcher builds the URL itself.
func normaliseAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", nil
	}
	if len(addr) > maxAddressLength {
		return "", invalidf("address exceeds %d characters", maxAddressLength)
	}
	if strings.ContainsAny(addr, "/?#@ \t") {
		return "", invalidf("address %q must be host or host:port", addr)
	}
	return addr, nil
}
