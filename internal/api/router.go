package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Device push transport.
	r.Get(s.devicePath(), s.handleDeviceSocket)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system/metrics", s.handleSystemMetrics)

		r.Post("/telemetry", s.handleTelemetry)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleCreateDevice)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/readings", s.handleListReadings)
				r.Get("/commands", s.handleListCommands)
				r.Get("/commands/export", s.handleExportCommands)
				r.Post("/alert/{action}", s.handleAlert)
				r.Post("/ping", s.handlePing)
				r.Get("/health", s.handleDeviceHealth)
				r.Get("/thresholds", s.handleGetThresholds)
				r.Put("/thresholds", s.handleUpdateThresholds)
			})
		})

		r.Get("/sessions", s.handleListSessions)

		// Operator event stream.
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

func (s *Server) devicePath() string {
	if s.wsCfg.Path == "" {
		return "/ws/device"
	}
	return s.wsCfg.Path
}
