package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/firewatch-core/internal/audit"
	"github.com/nerrad567/firewatch-core/internal/device"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/metrics"
	"github.com/nerrad567/firewatch-core/internal/session"
)

// Logger defines the logging interface used by the Dispatcher.
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

// Store is the part of device.Store the dispatcher reads and commits to.
type Store interface {
	FindByID(ctx context.Context, id int64) (*device.Device, error)
	UpdateThresholds(ctx context.Context, id int64, t device.Thresholds) (*device.Device, error)
}

// Sessions is the part of session.Registry used for push delivery. Send
// returns an error wrapping session.ErrNoSession when the device holds no
// session.
type Sessions interface {
	Send(deviceCode string, msg any) error
}

// Dispatcher routes commands to devices.
type Dispatcher struct {
	store    Store
	sessions Sessions
	client   DeviceClient
	now      func() time.Time
	metrics  *metrics.Metrics
	audit    audit.Repository
	logger   Logger
}

// New creates a dispatcher.
func New(store Store, sessions Sessions, client DeviceClient) *Dispatcher {
	return &Dispatcher{
		store:    store,
		sessions: sessions,
		client:   client,
		now:      time.Now,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetMetrics attaches Prometheus collectors. Nil disables them.
func (d *Dispatcher) SetMetrics(m *metrics.Metrics) {
	d.metrics = m
}

// SetAudit records every attempted command to repo. Nil disables recording.
func (d *Dispatcher) SetAudit(repo audit.Repository) {
	d.audit = repo
}

// TriggerAlert sounds the device's alarm.
func (d *Dispatcher) TriggerAlert(ctx context.Context, id int64, mode Mode) (Result, error) {
	return d.alert(ctx, id, mode, session.ActionTriggerAlert)
}

// ResetAlert silences the device's alarm.
func (d *Dispatcher) ResetAlert(ctx context.Context, id int64, mode Mode) (Result, error) {
	return d.alert(ctx, id, mode, session.ActionResetAlert)
}

// Ping pushes a ping command. Pull mode returns ErrUnsupportedMode.
func (d *Dispatcher) Ping(ctx context.Context, id int64, mode Mode) (Result, error) {
	switch mode {
	case ModePush:
	case ModePull:
		return Result{}, fmt.Errorf("%w: ping is push only", ErrUnsupportedMode)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	dev, err := d.store.FindByID(ctx, id)
	if err != nil {
		return Result{}, err
	}
	return d.push(ctx, dev, session.ActionPing), nil
}

// alert returns an error only for an unknown device or mode; delivery
// failures are reported in the Result.
func (d *Dispatcher) alert(ctx context.Context, id int64, mode Mode, action session.Action) (Result, error) {
	if mode != ModePush && mode != ModePull {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	dev, err := d.store.FindByID(ctx, id)
	if err != nil {
		return Result{}, err
	}

	if mode == ModePush {
		return d.push(ctx, dev, action), nil
	}

	call := d.client.TriggerAlert
	if action == session.ActionResetAlert {
		call = d.client.ResetAlert
	}
	return d.pull(ctx, dev, action, call), nil
}

func (d *Dispatcher) push(ctx context.Context, dev *device.Device, action session.Action) Result {
	start := time.Now()
	result := newResult(dev, action, ModePush)

	err := d.sessions.Send(dev.Code, session.NewCommand(action, d.now()))
	switch {
	case errors.Is(err, session.ErrNoSession):
		result.Reason = ReasonSessionAbsent
		err = nil
	case err != nil:
		result.Reason = ReasonSendFailed
	default:
		result.Delivered = true
		result.Reason = ReasonDelivered
	}

	d.observe(ctx, result, start, err)
	return result
}

func (d *Dispatcher) pull(ctx context.Context, dev *device.Device, action session.Action, call func(context.Context, string) error) Result {
	start := time.Now()
	result := newResult(dev, action, ModePull)

	if dev.Address == "" {
		result.Reason = ReasonNoAddress
		d.observe(ctx, result, start, nil)
		return result
	}

	err := call(ctx, dev.Address)
	if err != nil {
		result.Reason = ReasonUnreachable
	} else {
		result.Delivered = true
		result.Reason = ReasonDelivered
	}

	d.observe(ctx, result, start, err)
	return result
}

// CheckHealth reports whether the device answers on the given transport.
// Push checks that a ping can be written to the device's session; pull calls
// GET /health. It never returns an error: unknown devices are unhealthy.
func (d *Dispatcher) CheckHealth(ctx context.Context, id int64, mode Mode) bool {
	dev, err := d.store.FindByID(ctx, id)
	if err != nil {
		return false
	}

	switch mode {
	case ModePush:
		return d.push(ctx, dev, session.ActionPing).Delivered
	case ModePull:
		return d.pull(ctx, dev, ActionHealth, d.client.Health).Delivered
	default:
		return false
	}
}

// ReadThresholds fetches the thresholds the device currently applies.
// The local row is not modified.
func (d *Dispatcher) ReadThresholds(ctx context.Context, id int64) (device.Thresholds, error) {
	dev, err := d.store.FindByID(ctx, id)
	if err != nil {
		return device.Thresholds{}, err
	}
	if dev.Address == "" {
		return device.Thresholds{}, fmt.Errorf("%w: %s has no known address", ErrDeviceUnreachable, dev.Code)
	}

	resp, err := d.client.GetThresholds(ctx, dev.Address)
	if err != nil {
		return device.Thresholds{}, err
	}
	if !resp.Success || resp.Thresholds == nil {
		return device.Thresholds{}, fmt.Errorf("%w: %s did not report thresholds", ErrDeviceUnreachable, dev.Code)
	}
	return *resp.Thresholds, nil
}

// UpdateThresholds applies a partial threshold change to the device and,
// once the device confirms it, to the stored row.
//
// Negative values and orderings other than safety < warning < danger (after
// merging over the stored values) fail with device.ErrThresholdInvalid before
// the device is contacted. A failed or declined remote call returns
// ErrDeviceUnreachable and the stored thresholds are left unchanged.
func (d *Dispatcher) UpdateThresholds(ctx context.Context, id int64, update device.ThresholdUpdate) (*device.Device, error) {
	if update.Empty() {
		return nil, fmt.Errorf("%w: no threshold supplied", device.ErrThresholdInvalid)
	}

	dev, err := d.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	merged, err := update.Resolve(dev.Thresholds)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := newResult(dev, ActionUpdateThresholds, ModePull)

	if dev.Address == "" {
		result.Reason = ReasonNoAddress
		d.observe(ctx, result, start, nil)
		return nil, fmt.Errorf("%w: %s has no known address", ErrDeviceUnreachable, dev.Code)
	}

	resp, err := d.client.PutThresholds(ctx, dev.Address, merged)
	if err != nil {
		result.Reason = ReasonUnreachable
		d.observe(ctx, result, start, err)
		return nil, err
	}
	if !resp.Success {
		result.Reason = ReasonRemoteRejected
		d.observe(ctx, result, start, nil)
		return nil, fmt.Errorf("%w: %s declined the threshold change", ErrDeviceUnreachable, dev.Code)
	}

	updated, err := d.store.UpdateThresholds(ctx, dev.ID, merged)
	if err != nil {
		// The device applied the change but the row did not follow.
		d.logger.Error("committing confirmed thresholds failed",
			"device_id", dev.ID,
			"device_code", dev.Code,
			"error", err,
		)
		return nil, fmt.Errorf("committing thresholds for %s: %w", dev.Code, err)
	}

	result.Delivered = true
	result.Reason = ReasonDelivered
	d.observe(ctx, result, start, nil)

	d.logger.Info("thresholds updated",
		"device_id", dev.ID,
		"device_code", dev.Code,
		"safety", merged.Safety,
		"warning", merged.Warning,
		"danger", merged.Danger,
	)
	return updated, nil
}

func newResult(dev *device.Device, action session.Action, mode Mode) Result {
	return Result{
		DeviceID:   dev.ID,
		DeviceCode: dev.Code,
		Action:     action,
		Mode:       mode,
	}
}

func (d *Dispatcher) observe(ctx context.Context, r Result, start time.Time, err error) {
	d.metrics.ObserveDispatch(string(r.Action), string(r.Mode), r.Reason, time.Since(start))
	d.record(ctx, r, err)

	if r.Delivered {
		d.logger.Debug("command delivered",
			"device_code", r.DeviceCode,
			"action", r.Action,
			"mode", r.Mode,
		)
		return
	}

	attrs := []any{
		"device_code", r.DeviceCode,
		"action", r.Action,
		"mode", r.Mode,
		"reason", r.Reason,
	}
	if err != nil {
		attrs = append(attrs, "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			attrs = append(attrs, "timed_out", true)
		}
	}
	d.logger.Warn("command not delivered", attrs...)
}

// record writes the outcome to the audit log. The write outlives a cancelled
// request so abandoned commands are still recorded.
func (d *Dispatcher) record(ctx context.Context, r Result, cause error) {
	if d.audit == nil {
		return
	}

	entry := &audit.Entry{
		DeviceID:   r.DeviceID,
		DeviceCode: r.DeviceCode,
		Action:     string(r.Action),
		Mode:       string(r.Mode),
		Delivered:  r.Delivered,
		Reason:     r.Reason,
		CreatedAt:  d.now(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	if err := d.audit.Create(context.WithoutCancel(ctx), entry); err != nil {
		d.logger.Warn("recording command failed",
			"device_code", r.DeviceCode,
			"action", r.Action,
			"error", err,
		)
	}
}
