// Gray Logic HASS - Home Assistant bridge
//
// This is the main entry point for the Home Assistant bridge. It keeps a
// websocket session to a Home Assistant hub, mirrors entity state changes to
// MQTT, InfluxDB and an SQLite history, accepts service calls over MQTT and
// serves a small diagnostic HTTP API.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/api"
	"github.com/nerrad567/gray-logic-hass/internal/audit"
	"github.com/nerrad567/gray-logic-hass/internal/hass"
	"github.com/nerrad567/gray-logic-hass/internal/history"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hass/internal/relay"
	"github.com/nerrad567/gray-logic-hass/internal/scheduler"
	"github.com/nerrad567/gray-logic-hass/internal/supervisor"
	"github.com/nerrad567/gray-logic-hass/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on Ctrl+C and SIGTERM for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		err = runMigrate(ctx, os.Args[2:], os.Stdout)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic HASS bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.PathFromEnv()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	mode, err := hass.ParseMode(cfg.HASS.Mode)
	if err != nil {
		return fmt.Errorf("parsing hass mode: %w", err)
	}
	policy, err := supervisor.ParsePolicy(cfg.HASS.FaultPolicy)
	if err != nil {
		return fmt.Errorf("parsing fault policy: %w", err)
	}

	faults := relay.NewFaultNotifier(log.Component("faults"))
	sup := supervisor.New(ctx,
		supervisor.WithPolicy(policy),
		supervisor.WithLogger(log.Component("supervisor")),
		supervisor.WithHandler(faults.Notify),
	)
	sched := scheduler.New(
		scheduler.WithSupervisor(sup),
		scheduler.WithLogger(log.Component("scheduler")),
	)
	// Set once MQTT is up; read only by the engine after Run starts.
	var statusClient *mqtt.Client
	engine, err := hass.New(engineConfig(cfg.HASS),
		hass.WithLogger(log.Component("hass")),
		hass.WithSupervisor(sup),
		hass.WithScheduler(sched),
		hass.WithConnectionHook(func(connected bool, haVersion string) {
			if statusClient != nil {
				statusClient.SetHubStatus(connected, haVersion)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Close()

	var (
		sinks       []relay.Sink
		automations []hass.Automation
		historyRepo history.Repository
		checks      = make(map[string]api.HealthChecker)
	)

	// SQLite: state history and audit trail (optional)
	var (
		auditRec *audit.Recorder
		dbStats  api.DatabaseStats
	)
	if cfg.Database.Enabled() {
		db, openErr := openDatabase(ctx, cfg.Database)
		if openErr != nil {
			return openErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		applied, pending, statusErr := db.MigrationStatus(ctx, migrations.FS)
		if statusErr != nil {
			return fmt.Errorf("reading migration status: %w", statusErr)
		}
		log.Info("database ready",
			"path", cfg.Database.Path,
			"migrations_applied", len(applied),
			"migrations_pending", len(pending),
		)
		checks["database"] = db
		dbStats = db

		if cfg.Database.History.Enabled {
			repo := history.NewSQLiteRepository(db.DB)
			historyRepo = repo
			sinks = append(sinks, relay.NewHistorySink(repo, cfg.Database.History.Retention, log.Component("history")))
		} else {
			log.Info("state history disabled")
		}

		if cfg.Database.Audit.Enabled {
			auditRec = audit.NewRecorder(audit.NewSQLiteRepository(db.DB), log.Component("audit"))
			defer auditRec.Close()
		} else {
			log.Info("audit trail disabled")
		}
	} else {
		log.Info("state history and audit trail disabled")
	}

	// MQTT mirror and command bridge (optional)
	if cfg.MQTT.Mirror.Enabled {
		mqttClient, connErr := mqtt.Connect(cfg.MQTT)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
			"topic_prefix", mqttClient.Topics().Prefix,
		)

		sinks = append(sinks, relay.NewMQTTSink(mqttClient, mqttClient.Topics()))
		faults.Attach(mqttClient, mqttClient.Topics())
		statusClient = mqttClient

		var bridgeOpts []relay.BridgeOption
		if auditRec != nil {
			bridgeOpts = append(bridgeOpts, relay.WithAuditor(auditRec))
		}
		bridge := relay.NewCommandBridge(mqttClient, sup, mqttClient.Topics(), mqttClient.QoS(),
			log.Component("commands"), bridgeOpts...)
		defer func() {
			if closeErr := bridge.Close(); closeErr != nil {
				log.Warn("error removing command subscription", "error", closeErr)
			}
		}()
		automations = append(automations, bridge)
		checks["mqtt"] = mqttClient
	} else {
		log.Info("MQTT mirror disabled")
	}

	// InfluxDB telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB, influxdb.WithHub(cfg.HASS.Host))
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			st := influxClient.Stats()
			log.Info("closing InfluxDB connection",
				"points_queued", st.Queued,
				"write_failures", st.Failed,
				"points_dropped", st.Dropped,
			)
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		sinks = append(sinks, relay.NewInfluxSink(influxClient))
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	var rel *relay.Relay
	if len(sinks) > 0 {
		rel = relay.New(sinks, relay.WithLogger(log.Component("relay")))
		automations = append(automations, rel)
	}

	// Diagnostic API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:    cfg.API,
			Logger:    log,
			Engine:    engine,
			Scheduler: sched,
			History:   historyRepo,
			Faults:    sup,
			Database:  dbStats,
			Checks:    checks,
			Version:   version,
		}
		if rel != nil {
			deps.Relay = rel
		}
		if auditRec != nil {
			deps.Audit = auditRec
		}

		srv, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("Gray Logic HASS bridge started",
		"mode", mode.String(),
		"fault_policy", string(policy),
		"sinks", len(sinks),
	)

	runErr := engine.Run(ctx, mode, automations...)
	if runErr != nil {
		log.Error("engine stopped", "error", runErr)
		return fmt.Errorf("running engine: %w", runErr)
	}

	log.Info("shutting down Gray Logic HASS bridge",
		"faults", sup.Faults(),
	)
	return nil
}

// openDatabase opens the SQLite database described by c.
func openDatabase(ctx context.Context, c config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        c.Path,
		WALMode:     c.WALMode,
		BusyTimeout: c.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// runMigrate handles "graylogic-hass migrate [status|up|down]" against the
// configured database. Without an argument it prints the status.
//
// Parameters:
//   - ctx: Context for cancellation
//   - args: Arguments after "migrate"
//   - out: Destination of the status report
//
// Returns:
//   - error: If the configuration, database or migration fails
func runMigrate(ctx context.Context, args []string, out io.Writer) error {
	action := "status"
	if len(args) > 0 {
		action = args[0]
	}
	if action != "status" && action != "up" && action != "down" {
		return fmt.Errorf("unknown migrate action %q (want status, up or down)", action)
	}

	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is not set")
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-mostly command, close error is not actionable

	switch action {
	case "up":
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	case "down":
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
	}

	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	for _, r := range applied {
		fmt.Fprintf(out, "applied  %s  %s\n", r.Version, r.AppliedAt.UTC().Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}

// engineConfig maps the hass configuration section to the engine's session
// configuration.
func engineConfig(c config.HASSConfig) hass.Config {
	return hass.Config{
		Host:              c.Host,
		Port:              c.Port,
		Secure:            c.Secure,
		AccessToken:       c.AccessToken,
		Timeout:           c.RequestTimeout,
		Debug:             c.Debug,
		ReconnectOnClose:  c.ReconnectOnClose,
		ReconnectDelay:    c.ReconnectDelay,
		HeartbeatInterval: c.HeartbeatInterval,
		HeartbeatTimeout:  c.HeartbeatTimeout,
		MaxCacheAge:       c.MaxCacheAge,
	}
}
