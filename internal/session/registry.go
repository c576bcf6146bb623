package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/firewatch-core/internal/device"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/metrics"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Conn is a live push-transport handle.
type Conn interface {
	// ID is unique per transport connection for the life of the process.
	ID() string

	// Send writes one message synchronously, bounded by the transport's
	// write timeout.
	Send(v any) error
}

// DeviceLookup resolves device codes at registration time.
type DeviceLookup interface {
	FindByCode(ctx context.Context, code string) (*device.Device, error)
}

// Registry maps device codes to their current push connection.
//
// At most one connection is held per code and one code per connection. A new
// registration supersedes the previous one without closing it; the superseded
// transport removes itself through Unregister when it closes, and that removal
// matches by connection ID so it can never evict its successor. A connection
// that registers a different code gives up the code it held before.
//
// All methods are safe for concurrent use. Network writes happen outside
// the lock.
type Registry struct {
	devices  DeviceLookup
	mu       sync.RWMutex
	sessions map[string]Conn
	byConn   map[string]string
	logger   Logger
	metrics  *metrics.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(devices DeviceLookup) *Registry {
	return &Registry{
		devices:  devices,
		sessions: make(map[string]Conn),
		byConn:   make(map[string]string),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetMetrics attaches Prometheus collectors. Nil disables them.
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Register binds conn to deviceCode. Unknown codes return ErrUnknownDevice
// and leave the registry untouched; the caller is expected to close the
// transport.
func (r *Registry) Register(ctx context.Context, deviceCode string, conn Conn) error {
	if _, err := r.devices.FindByCode(ctx, deviceCode); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			r.metrics.ObserveSessionRegistration("rejected")
			return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceCode)
		}
		return fmt.Errorf("looking up device %s: %w", deviceCode, err)
	}

	id := conn.ID()

	r.mu.Lock()
	released := ""
	if old, ok := r.byConn[id]; ok && old != deviceCode {
		if held, ok := r.sessions[old]; ok && held.ID() == id {
			delete(r.sessions, old)
			released = old
		}
	}
	prev, had := r.sessions[deviceCode]
	if had && prev.ID() != id {
		delete(r.byConn, prev.ID())
	}
	r.sessions[deviceCode] = conn
	r.byConn[id] = deviceCode
	active := len(r.sessions)
	r.mu.Unlock()

	r.metrics.ObserveSessionRegistration("accepted")
	r.metrics.SetSessionsActive(active)

	if released != "" {
		r.logger.Info("session re-registered",
			"device_code", deviceCode,
			"previous_code", released,
			"conn", id,
		)
	}
	if had && prev.ID() != id {
		r.logger.Info("session superseded",
			"device_code", deviceCode,
			"previous_conn", prev.ID(),
			"conn", conn.ID(),
		)
	} else {
		r.logger.Debug("session registered", "device_code", deviceCode, "conn", conn.ID())
	}
	return nil
}

// Unregister removes the entry held by conn and reports whether one was
// removed. An entry now held by a different connection is left alone.
func (r *Registry) Unregister(conn Conn) bool {
	id := conn.ID()

	r.mu.Lock()
	code, ok := r.byConn[id]
	delete(r.byConn, id)
	removed := false
	if held, found := r.sessions[code]; ok && found && held.ID() == id {
		delete(r.sessions, code)
		removed = true
	}
	active := len(r.sessions)
	r.mu.Unlock()

	if !removed {
		return false
	}

	r.metrics.SetSessionsActive(active)
	r.logger.Debug("session unregistered", "device_code", code, "conn", id)
	return true
}

// Send delivers msg to the device's current connection. It returns an error
// wrapping ErrNoSession when the device holds no session, or the transport
// error when the write fails. It never retries.
func (r *Registry) Send(deviceCode string, msg any) error {
	r.mu.RLock()
	conn, ok := r.sessions[deviceCode]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, deviceCode)
	}

	if err := conn.Send(msg); err != nil {
		r.logger.Warn("session send failed",
			"device_code", deviceCode,
			"conn", conn.ID(),
			"error", err,
		)
		return fmt.Errorf("sending to %s: %w", deviceCode, err)
	}
	return nil
}

// IsOnline reports whether deviceCode holds a session.
func (r *Registry) IsOnline(deviceCode string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[deviceCode]
	return ok
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Online returns the registered device codes, sorted.
func (r *Registry) Online() []string {
	r.mu.RLock()
	codes := make([]string, 0, len(r.sessions))
	for code := range r.sessions {
		codes = append(codes, code)
	}
	r.mu.RUnlock()

	sort.Strings(codes)
	return codes
}
