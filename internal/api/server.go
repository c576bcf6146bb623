package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/firewatch-core/internal/audit"
	"github.com/nerrad567/firewatch-core/internal/device"
	"github.com/nerrad567/firewatch-core/internal/dispatch"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/config"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/database"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/amqp"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/logging"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/metrics"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/firewatch-core/internal/ingest"
	"github.com/nerrad567/firewatch-core/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Liveness config.LivenessConfig
	Logger   *logging.Logger

	Devices    device.Store
	Sessions   *session.Registry
	Ingest     *ingest.Service
	Dispatcher *dispatch.Dispatcher

	// Optional. Nil components are reported as disabled by /health.
	Metrics *metrics.Metrics
	DB      *database.DB
	Audit   audit.Repository
	MQTT    *mqtt.Client
	Influx  *influxdb.Client
	AMQP    *amqp.Client

	// Hub receives device events for operator WebSocket clients. If nil the
	// server creates its own, which nothing feeds.
	Hub *Hub

	Version string
}

// Server is the HTTP API server for FireWatch Core.
//
// It serves the REST API, the device push endpoint and the operator event
// stream. The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	liveCfg    config.LivenessConfig
	logger     *logging.Logger
	devices    device.Store
	sessions   *session.Registry
	ingest     *ingest.Service
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Metrics
	db         *database.DB
	audit      audit.Repository
	mqtt       *mqtt.Client
	influx     *influxdb.Client
	amqp       *amqp.Client
	hub        *Hub
	version    string
	startTime  time.Time
	server     *http.Server
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if deps.Ingest == nil {
		return nil, fmt.Errorf("ingest service is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		liveCfg:    deps.Liveness,
		logger:     deps.Logger,
		devices:    deps.Devices,
		sessions:   deps.Sessions,
		ingest:     deps.Ingest,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		db:         deps.DB,
		audit:      deps.Audit,
		mqtt:       deps.MQTT,
		influx:     deps.Influx,
		amqp:       deps.AMQP,
		hub:        hub,
		version:    deps.Version,
		startTime:  time.Now(),
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete. Hijacked
// WebSocket connections are not tracked by Shutdown; the hub closes
// operator clients and device sockets end when their read deadline passes.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// Hub returns the operator event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}
