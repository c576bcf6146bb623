package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/firewatch-core/internal/infrastructure/mqtt"
)

// mqttHandlerTimeout bounds the store write for one MQTT sample.
const mqttHandlerTimeout = 5 * time.Second

// Subscriber is the part of mqtt.Client used to receive telemetry.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	QoS() byte
}

// SubscribeMQTT routes firewatch/telemetry/+ into the service.
func (s *Service) SubscribeMQTT(sub Subscriber) error {
	topic := mqtt.Topics{}.AllTelemetry()
	if err := sub.Subscribe(topic, sub.QoS(), s.HandleTelemetry); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	s.logger.Info("subscribed to MQTT telemetry", "topic", topic)
	return nil
}

// UnsubscribeMQTT stops telemetry delivery before the client disconnects.
func (s *Service) UnsubscribeMQTT(sub Subscriber) error {
	topic := mqtt.Topics{}.AllTelemetry()
	if err := sub.Unsubscribe(topic); err != nil {
		return fmt.Errorf("unsubscribing from %s: %w", topic, err)
	}
	return nil
}

// HandleTelemetry ingests one MQTT telemetry message. The device code comes
// from the topic; a deviceCode in the body must match it.
func (s *Service) HandleTelemetry(topic string, payload []byte) error {
	code, err := mqtt.DeviceCodeFromTelemetry(topic)
	if err != nil {
		return err
	}

	var body Telemetry
	if err := json.Unmarshal(payload, &body); err != nil {
		s.metrics.ObserveIngest(string(SourceMQTT), resultInvalid)
		return invalidf("malformed JSON on %s: %v", topic, err)
	}
	if body.DeviceCode != "" && body.DeviceCode != code {
		s.metrics.ObserveIngest(string(SourceMQTT), resultInvalid)
		return invalidf("deviceCode %q does not match topic %s", body.DeviceCode, topic)
	}
	body.DeviceCode = code

	sample, err := body.Sample(SourceMQTT)
	if err != nil {
		s.metrics.ObserveIngest(string(SourceMQTT), resultInvalid)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), mqttHandlerTimeout)
	defer cancel()

	_, err = s.Ingest(ctx, sample)
	return err
}
