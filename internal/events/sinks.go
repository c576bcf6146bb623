package events

import (
	"context"
	"time"

	"github.com/nerrad567/firewatch-core/internal/infrastructure/amqp"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/mqtt"
)

// JSONPublisher is the part of mqtt.Client used by MQTTSink.
type JSONPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// MQTTSink publishes status changes (retained) and readings to the broker.
type MQTTSink struct {
	pub    JSONPublisher
	topics mqtt.Topics
}

// NewMQTTSink creates a sink over pub.
func NewMQTTSink(pub JSONPublisher) *MQTTSink {
	return &MQTTSink{pub: pub}
}

type statusPayload struct {
	DeviceID   int64  `json:"device_id"`
	DeviceCode string `json:"device_code"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

type readingPayload struct {
	DeviceCode string  `json:"device_code"`
	ReadingID  int64   `json:"reading_id"`
	SensorType string  `json:"sensor_type"`
	Value      float64 `json:"value"`
	Timestamp  int64   `json:"timestamp"`
}

func newStatusPayload(e Event) statusPayload {
	return statusPayload{
		DeviceID:   e.DeviceID,
		DeviceCode: e.DeviceCode,
		Status:     string(e.Status),
		Reason:     e.Reason,
		Timestamp:  e.At.UnixMilli(),
	}
}

func newReadingPayload(e Event) readingPayload {
	return readingPayload{
		DeviceCode: e.DeviceCode,
		ReadingID:  e.Reading.ID,
		SensorType: e.Reading.SensorType,
		Value:      e.Reading.Value,
		Timestamp:  e.Reading.Timestamp.UnixMilli(),
	}
}

// Deliver implements Sink.
func (s *MQTTSink) Deliver(_ context.Context, e Event) error {
	switch e.Kind {
	case KindStatusChanged:
		return s.pub.PublishJSON(s.topics.DeviceStatus(e.DeviceCode), newStatusPayload(e), true)
	case KindReading:
		if e.Reading == nil {
			return nil
		}
		return s.pub.PublishJSON(s.topics.DeviceReading(e.DeviceCode), newReadingPayload(e), false)
	}
	return nil
}

// KeyPublisher is the part of amqp.Client used by AMQPSink.
type KeyPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, v any) error
}

// AMQPSink forwards status changes and readings to a topic exchange using
// the same payloads as the MQTT bus.
type AMQPSink struct {
	pub KeyPublisher
}

// NewAMQPSink creates a sink over pub.
func NewAMQPSink(pub KeyPublisher) *AMQPSink {
	return &AMQPSink{pub: pub}
}

// Deliver implements Sink.
func (s *AMQPSink) Deliver(ctx context.Context, e Event) error {
	switch e.Kind {
	case KindStatusChanged:
		return s.pub.PublishJSON(ctx, amqp.RoutingKey(e.DeviceCode, "status"), newStatusPayload(e))
	case KindReading:
		if e.Reading == nil {
			return nil
		}
		return s.pub.PublishJSON(ctx, amqp.RoutingKey(e.DeviceCode, "reading"), newReadingPayload(e))
	}
	return nil
}

// PointWriter is the part of influxdb.Client used by HistorySink.
type PointWriter interface {
	WriteReading(deviceCode, sensorType string, value float64, at time.Time)
	WriteTransition(deviceCode, status string, at time.Time)
}

// HistorySink mirrors events into a time-series store.
type HistorySink struct {
	w PointWriter
}

// NewHistorySink creates a sink over w.
func NewHistorySink(w PointWriter) *HistorySink {
	return &HistorySink{w: w}
}

// Deliver implements Sink. Writes are buffered by the writer and never fail here.
func (s *HistorySink) Deliver(_ context.Context, e Event) error {
	switch e.Kind {
	case KindStatusChanged:
		s.w.WriteTransition(e.DeviceCode, string(e.Status), e.At)
	case KindReading:
		if e.Reading != nil {
			s.w.WriteReading(e.DeviceCode, e.Reading.SensorType, e.Reading.Value, e.Reading.Timestamp)
		}
	}
	return nil
}
