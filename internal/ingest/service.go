package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/firewatch-core/internal/device"
	"github.com/nerrad567/firewatch-core/internal/events"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/metrics"
)

// Ingest metric results.
const (
	resultAccepted      = "accepted"
	resultInvalid       = "invalid"
	resultUnknownDevice = "unknown_device"
	resultError         = "error"
)

// Logger defines the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store is the part of device.Store ingestion writes to.
type Store interface {
	RecordContact(ctx context.Context, code string, c device.Contact) (*device.ContactResult, error)
	RecordSample(ctx context.Context, code string, c device.Contact, r device.Reading) (*device.ContactResult, error)
}

// Service validates samples and records them with their liveness side effect.
type Service struct {
	store   Store
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  Logger
	now     func() time.Time
}

// NewService creates an ingestion service over store.
func NewService(store Store) *Service {
	return &Service{
		store:  store,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetEvents attaches the event bus. Nil disables events.
func (s *Service) SetEvents(bus *events.Bus) {
	s.bus = bus
}

// SetMetrics attaches Prometheus collectors. Nil disables them.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Ingest validates sample and records it.
//
// An unknown device code returns an error wrapping device.ErrDeviceNotFound.
// On success the device is ACTIVE with LastActiveAt at the ingestion time and
// the stored reading is returned.
func (s *Service) Ingest(ctx context.Context, sample Sample) (*device.Reading, error) {
	if err := sample.normalise(); err != nil {
		s.metrics.ObserveIngest(string(sample.Source), resultInvalid)
		return nil, err
	}

	now := s.now()
	result, err := s.store.RecordSample(ctx, sample.DeviceCode,
		device.Contact{At: now, Address: sample.Address},
		device.Reading{SensorType: sample.SensorType, Value: sample.Value, Timestamp: now},
	)
	if err != nil {
		return nil, s.storeError(sample.Source, sample.DeviceCode, err)
	}

	s.metrics.ObserveIngest(string(sample.Source), resultAccepted)
	s.afterContact(result, sample.Source, now)
	s.bus.Publish(events.ReadingAccepted(result.Device, result.Reading))

	s.logger.Debug("sample ingested",
		"device_code", sample.DeviceCode,
		"sensor_type", sample.SensorType,
		"value", sample.Value,
		"source", sample.Source,
	)
	return result.Reading, nil
}

// RecordContact refreshes liveness without a reading. It is used for push
// registration and, when enabled, heartbeats.
func (s *Service) RecordContact(ctx context.Context, code, address, firmware string, source Source) (*device.Device, error) {
	addr, err := normaliseAddress(address)
	if err != nil {
		s.metrics.ObserveIngest(string(source), resultInvalid)
		return nil, err
	}

	now := s.now()
	result, err := s.store.RecordContact(ctx, code, device.Contact{
		At:              now,
		Address:         addr,
		FirmwareVersion: firmware,
	})
	if err != nil {
		return nil, s.storeError(source, code, err)
	}

	s.metrics.ObserveIngest(string(source), resultAccepted)
	s.afterContact(result, source, now)
	return result.Device, nil
}

func (s *Service) afterContact(result *device.ContactResult, source Source, at time.Time) {
	if !result.Promoted {
		return
	}
	s.logger.Info("device online",
		"device_id", result.Device.ID,
		"device_code", result.Device.Code,
		"source", source,
	)
	s.metrics.ObserveTransition(string(device.StatusActive))
	s.bus.Publish(events.StatusChanged(result.Device, events.ReasonContact, at))
}

func (s *Service) storeError(source Source, code string, err error) error {
	if errors.Is(err, device.ErrDeviceNotFound) {
		s.metrics.ObserveIngest(string(source), resultUnknownDevice)
		s.logger.Warn("sample from unknown device", "device_code", code, "source", source)
		return fmt.Errorf("ingest %s: %w", code, err)
	}
	s.metrics.ObserveIngest(string(source), resultError)
	s.logger.Error("recording contact failed", "device_code", code, "source", source, "error", err)
	return fmt.Errorf("ingest %s: %w", code, err)
}
