package api

import (
	"context"
	"net/http"
	"runtime"
	"time"
)

// healthCheckTimeout bounds each dependency probe in /health.
const healthCheckTimeout = 2 * time.Second

// SystemMetrics is the operator snapshot served at /api/v1/system/metrics.
// Prometheus series live at /metrics; this is the human-readable summary.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	Sessions      SessionMetrics  `json:"sessions"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Devices       DeviceMetrics   `json:"devices"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// SessionMetrics counts live connections.
type SessionMetrics struct {
	Devices   int `json:"devices"`
	Operators int `json:"operators"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// DeviceMetrics counts provisioned devices.
type DeviceMetrics struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	Dialect         string `json:"dialect,omitempty"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
}

// handleSystemMetrics returns a snapshot of process and device state.
func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snapshot := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Sessions: SessionMetrics{
			Devices:   s.sessions.Count(),
			Operators: s.hub.Count(),
		},
		MQTT: MQTTMetrics{
			Enabled:   s.mqtt != nil,
			Connected: s.mqtt.IsConnected(),
		},
	}

	devices, err := s.devices.List(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	snapshot.Devices = DeviceMetrics{
		Total:    len(devices),
		ByStatus: make(map[string]int),
	}
	for _, d := range devices {
		snapshot.Devices.ByStatus[string(d.Status)]++
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		snapshot.Database = DatabaseMetrics{
			Dialect:         s.db.Dialect().Name(),
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// handleHealth reports the service and its dependencies. A failing database
// makes the service unhealthy; a failing optional integration only
// degrades it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"database": s.probe(r.Context(), s.db != nil, func(ctx context.Context) error { return s.db.HealthCheck(ctx) }),
		"mqtt":     s.probe(r.Context(), s.mqtt != nil, func(ctx context.Context) error { return s.mqtt.HealthCheck(ctx) }),
		"influxdb": s.probe(r.Context(), s.influx != nil, func(ctx context.Context) error { return s.influx.HealthCheck(ctx) }),
		"amqp":     s.probe(r.Context(), s.amqp != nil, func(ctx context.Context) error { return s.amqp.HealthCheck(ctx) }),
	}

	status, code := "ok", http.StatusOK
	switch {
	case checks["database"] == checkFailed:
		status, code = "unhealthy", http.StatusServiceUnavailable
	case checks["mqtt"] == checkFailed, checks["influxdb"] == checkFailed, checks["amqp"] == checkFailed:
		status = "degraded"
	}

	writeJSON(w, code, map[string]any{
		"status":   status,
		"version":  s.version,
		"sessions": s.sessions.Count(),
		"checks":   checks,
	})
}

const (
	checkOK       = "ok"
	checkFailed   = "failed"
	checkDisabled = "disabled"
)

func (s *Server) probe(parent context.Context, enabled bool, check func(context.Context) error) string {
	if !enabled {
		return checkDisabled
	}
	ctx, cancel := context.WithTimeout(parent, healthCheckTimeout)
	defer cancel()
	if err := check(ctx); err != nil {
		s.logger.Warn("health check failed", "error", err)
		return checkFailed
	}
	return checkOK
}
