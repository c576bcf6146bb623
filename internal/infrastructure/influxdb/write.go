package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by FireWatch.
const (
	MeasurementReading  = "readings"
	MeasurementLiveness = "liveness"
)

// WriteReading mirrors an accepted sensor sample.
//
//	readings,device_code=FW-001,sensor_type=smoke value=412.5 <ts>
func (c *Client) WriteReading(deviceCode, sensorType string, value float64, at time.Time) {
	c.writePoint(MeasurementReading,
		map[string]string{
			"device_code": deviceCode,
			"sensor_type": sensorType,
		},
		map[string]any{"value": value},
		at,
	)
}

// WriteTransition records a liveness change so outages can be charted.
// online is written as 1 for ACTIVE and 0 for OFFLINE.
func (c *Client) WriteTransition(deviceCode, status string, at time.Time) {
	online := 0
	if status == "ACTIVE" {
		online = 1
	}

	c.writePoint(MeasurementLiveness,
		map[string]string{"device_code": deviceCode},
		map[string]any{"online": online, "status": status},
		at,
	)
}

// writePoint queues a point on the non-blocking write API. It is a no-op
// while disconnected.
func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
