// FireWatch Core - smoke and gas alarm device backend.
//
// This is the main entry point. It ingests sensor telemetry, tracks which
// devices are reachable, and dispatches alert and threshold commands over a
// device-held WebSocket (push) or the device's LAN HTTP interface (pull).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/nerrad567/firewatch-core/migrations"

	"github.com/nerrad567/firewatch-core/internal/api"
	"github.com/nerrad567/firewatch-core/internal/audit"
	"github.com/nerrad567/firewatch-core/internal/device"
	"github.com/nerrad567/firewatch-core/internal/dispatch"
	"github.com/nerrad567/firewatch-core/internal/events"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/amqp"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/config"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/database"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/logging"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/metrics"
	"github.com/nerrad567/firewatch-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/firewatch-core/internal/ingest"
	"github.com/nerrad567/firewatch-core/internal/liveness"
	"github.com/nerrad567/firewatch-core/internal/notify"
	"github.com/nerrad567/firewatch-core/internal/session"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application body, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting FireWatch Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Driver:      cfg.Database.Driver,
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
		DSN:         cfg.Database.DSN,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "driver", db.Dialect().Name())

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store := device.NewSQLStore(db)
	commands := audit.NewSQLRepository(db)
	m := metrics.New()

	bus := events.NewBus(events.DefaultQueueSize)
	bus.SetLogger(log)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		bus.AddSink("mqtt", events.NewMQTTSink(mqttClient))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		bus.AddSink("influxdb", events.NewHistorySink(influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to RabbitMQ (optional)
	var amqpClient *amqp.Client
	if cfg.AMQP.Enabled {
		amqpClient, err = amqp.Connect(ctx, cfg.AMQP)
		if err != nil {
			return fmt.Errorf("connecting to AMQP: %w", err)
		}
		defer func() {
			log.Info("closing AMQP connection")
			if closeErr := amqpClient.Close(); closeErr != nil {
				log.Error("error closing AMQP", "error", closeErr)
			}
		}()
		amqpClient.SetLogger(log)
		bus.AddSink("amqp", events.NewAMQPSink(amqpClient))
		log.Info("AMQP connected", "exchange", cfg.AMQP.Exchange)
	} else {
		log.Info("AMQP disabled")
	}

	// Telegram notifications (optional)
	if cfg.Telegram.Enabled {
		bot, botErr := notify.NewBot(cfg.Telegram)
		if botErr != nil {
			return fmt.Errorf("connecting to Telegram: %w", botErr)
		}
		notifier := notify.NewTelegram(bot, cfg.Telegram.ChatID, store, cfg.Telegram.Throttle)
		notifier.SetLogger(log)
		bus.AddSink("telegram", notifier)
		log.Info("Telegram notifications enabled",
			"bot", bot.Self.UserName,
			"throttle", cfg.Telegram.Throttle,
		)
	} else {
		log.Info("Telegram notifications disabled")
	}

	hub := api.NewHub(cfg.WebSocket, log)
	bus.AddSink("operators", hub)

	sessions := session.NewRegistry(store)
	sessions.SetLogger(log)
	sessions.SetMetrics(m)

	ingestSvc := ingest.NewService(store)
	ingestSvc.SetLogger(log)
	ingestSvc.SetEvents(bus)
	ingestSvc.SetMetrics(m)
	if mqttClient != nil {
		if subErr := ingestSvc.SubscribeMQTT(mqttClient); subErr != nil {
			return fmt.Errorf("subscribing to telemetry: %w", subErr)
		}
		defer func() {
			if unsubErr := ingestSvc.UnsubscribeMQTT(mqttClient); unsubErr != nil {
				log.Warn("error unsubscribing from telemetry", "error", unsubErr)
			}
		}()
	}

	reconciler := liveness.NewReconciler(store, cfg.Liveness.SweepInterval, cfg.Liveness.StalenessWindow)
	reconciler.SetLogger(log)
	reconciler.SetEvents(bus)
	reconciler.SetMetrics(m)

	dispatcher := dispatch.New(store, sessions, dispatch.NewLANClient(cfg.Dispatch))
	dispatcher.SetLogger(log)
	dispatcher.SetMetrics(m)
	dispatcher.SetAudit(commands)

	// Background workers stop before the connections they use are closed.
	workCtx, stopWorkers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stopWorkers()
		wg.Wait()
		log.Info("background workers stopped")
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		bus.Run(workCtx)
	}()
	go func() {
		defer wg.Done()
		reconciler.Run(workCtx)
	}()
	log.Info("liveness reconciler started",
		"interval", reconciler.Interval(),
		"window", reconciler.Window(),
		"heartbeat_refreshes", cfg.Liveness.HeartbeatRefreshes,
	)

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Liveness:   cfg.Liveness,
		Logger:     log,
		Devices:    store,
		Sessions:   sessions,
		Ingest:     ingestSvc,
		Dispatcher: dispatcher,
		Metrics:    m,
		DB:         db,
		Audit:      commands,
		MQTT:       mqttClient,
		Influx:     influxClient,
		AMQP:       amqpClient,
		Hub:        hub,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(workCtx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient, amqpClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API server, workers
	// (the bus drains queued events), AMQP, InfluxDB, MQTT, database.

	log.Info("FireWatch Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FIREWATCH_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("FIREWATCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections. Nil optional clients
// are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, amqpClient *amqp.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if amqpClient != nil {
		if err := amqpClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("amqp: %w", err)
		}
	}

	return nil
}
