package liveness

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/firewatch-core/internal/device"
	"github.com/nerrad567/firewatch-core/internal/events"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/metrics"
)

// Defaults used when the configured values are zero.
const (
	DefaultInterval = 10 * time.Second
	DefaultWindow   = 30 * time.Second
)

// Logger defines the logging interface used by the Reconciler.
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

// Store is the part of device.Store the reconciler needs.
type Store interface {
	List(ctx context.Context) ([]device.Device, error)
	MarkOffline(ctx context.Context, id int64, observed *time.Time) (*device.Device, error)
}

// SweepResult summarises one sweep.
type SweepResult struct {
	// Scanned is the number of devices examined.
	Scanned int

	// Demoted is the number of devices moved to OFFLINE.
	Demoted int

	// Skipped counts stale devices whose demotion lost the compare-and-set
	// to a concurrent contact.
	Skipped int

	// Failed counts devices whose demotion returned an error.
	Failed int
}

// Reconciler periodically demotes devices whose last contact is older than
// the staleness window.
type Reconciler struct {
	store    Store
	interval time.Duration
	window   time.Duration
	now      func() time.Time
	bus      *events.Bus
	metrics  *metrics.Metrics
	logger   Logger
}

// NewReconciler creates a reconciler. Zero durations select the defaults.
func NewReconciler(store Store, interval, window time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Reconciler{
		store:    store,
		interval: interval,
		window:   window,
		now:      time.Now,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the reconciler.
func (r *Reconciler) SetLogger(logger Logger) {
	r.logger = logger
}

// SetEvents attaches the event bus. Nil disables events.
func (r *Reconciler) SetEvents(bus *events.Bus) {
	r.bus = bus
}

// SetMetrics attaches Prometheus collectors. Nil disables them.
func (r *Reconciler) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Interval returns the sweep period.
func (r *Reconciler) Interval() time.Duration { return r.interval }

// Window returns the staleness window.
func (r *Reconciler) Window() time.Duration { return r.window }

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("liveness reconciler started",
		"interval", r.interval.String(),
		"window", r.window.String(),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("liveness reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("liveness sweep failed", "error", err)
			}
		}
	}
}

// Sweep examines every device once. It returns an error only when the device
// list cannot be read; per-device failures are counted in the result.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	var result SweepResult

	devices, err := r.store.List(ctx)
	if err != nil {
		r.metrics.ObserveSweep(time.Since(start), 1)
		return result, fmt.Errorf("listing devices: %w", err)
	}

	now := r.now()
	for i := range devices {
		d := &devices[i]
		result.Scanned++

		if !r.isStale(d, now) {
			continue
		}

		demoted, err := r.store.MarkOffline(ctx, d.ID, d.LastActiveAt)
		switch {
		case err != nil:
			result.Failed++
			r.logger.Error("demoting device failed",
				"device_id", d.ID,
				"device_code", d.Code,
				"error", err,
			)
		case demoted == nil:
			result.Skipped++
			r.logger.Debug("device refreshed during sweep", "device_code", d.Code)
		default:
			result.Demoted++
			r.demoted(demoted, now)
		}
	}

	r.metrics.ObserveSweep(time.Since(start), result.Failed)
	return result, nil
}

// isStale reports whether d should be demoted at now. A device that has never
// been seen is stale unless it is already OFFLINE.
func (r *Reconciler) isStale(d *device.Device, now time.Time) bool {
	if d.Status == device.StatusOffline {
		return false
	}
	silence, seen := d.SilentFor(now)
	return !seen || silence > r.window
}

// demoted reports a committed demotion. d is the row MarkOffline returned, so
// the event carries the committed Version.
func (r *Reconciler) demoted(d *device.Device, now time.Time) {
	attrs := []any{"device_id", d.ID, "device_code", d.Code}
	if silence, ok := d.SilentFor(now); ok {
		attrs = append(attrs, "silent_for", silence.Round(time.Second).String())
	}
	r.logger.Info("device offline", attrs...)

	r.metrics.ObserveTransition(string(device.StatusOffline))
	r.bus.Publish(events.StatusChanged(d, events.ReasonTimeout, now))
}
