// Autelis Bridge - pool controller to MQTT gateway
//
// This is the main entry point for the Autelis bridge. The bridge polls an
// Autelis pool controller over HTTP, publishes its state to MQTT and turns
// MQTT (or REST) commands into controller writes.
//
// Configuration is read from the file named by AUTELIS_CONFIG, defaulting
// to configs/config.yaml.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/autelis-bridge/migrations"

	"github.com/nerrad567/autelis-bridge/internal/api"
	"github.com/nerrad567/autelis-bridge/internal/bridges/autelis"
	"github.com/nerrad567/autelis-bridge/internal/history"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/config"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/database"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// pruneInterval is how often old history rows are removed.
	pruneInterval = time.Hour
)

func main() {
	issueSubject := flag.String("issue-token", "", "print an API bearer token for `subject` and exit")
	tokenTTL := flag.Duration("token-ttl", 0, "lifetime of the token printed by -issue-token (0 = no expiry)")
	flag.Parse()

	if *issueSubject != "" {
		if err := issueToken(os.Stdout, *issueSubject, *tokenTTL); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Autelis bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"controller", cfg.Controller.String(),
		"level", cfg.Logging.Level,
	)

	// Open database (optional)
	var (
		db          *database.DB
		historyRepo *history.SQLiteRepository
	)
	if cfg.Database.Enabled {
		db, historyRepo, err = openHistory(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
	} else {
		log.Info("state history disabled")
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the bridge
	bridge, err := startBridge(ctx, cfg, mqttClient, historyRepo, influxClient, log)
	if err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	// Start the REST API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := startAPI(ctx, cfg, bridge, historyRepo, mqttClient, db, log)
		if apiErr != nil {
			return fmt.Errorf("starting API: %w", apiErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("REST API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, bridge, InfluxDB, MQTT, database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses AUTELIS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("AUTELIS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openHistory opens the database, applies migrations and starts the
// history pruner. The pruner stops with ctx.
func openHistory(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, *history.SQLiteRepository, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	repo := history.NewSQLiteRepository(db.DB)
	if cfg.Database.HistoryRetention > 0 {
		go repo.RunPruner(ctx, cfg.Database.HistoryRetention, pruneInterval, log.With("component", "history"))
	}
	return db, repo, nil
}

// startBridge builds the controller client and starts the Autelis bridge.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	mqttClient *mqtt.Client,
	historyRepo *history.SQLiteRepository,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*autelis.Bridge, error) {
	controller, err := autelis.NewHTTPController(cfg.Controller)
	if err != nil {
		return nil, fmt.Errorf("creating controller client: %w", err)
	}

	opts := autelis.BridgeOptions{
		BridgeID:          cfg.Bridge.ID,
		Version:           version,
		Controller:        controller,
		ControllerAddress: controller.BaseURL(),
		MQTTClient:        &mqttBridgeAdapter{client: mqttClient},
		Devices:           cfg.Devices,
		Topics:            mqttClient.Topics(),
		QoS:               byte(cfg.MQTT.QoS), //nolint:gosec // validated 0..2 by config
		PollInterval:      cfg.Controller.PollInterval,
		RequestSpacing:    cfg.Controller.RequestSpacing,
		HealthInterval:    cfg.GetHealthInterval(),
		Logger:            log.With("component", "bridge"),
	}
	// Interfaces are only set when the backing client exists; a typed nil
	// pointer would not compare equal to nil inside the bridge.
	if historyRepo != nil {
		opts.History = historyRepo
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	bridge, err := autelis.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, err
	}

	log.Info("bridge started",
		"bridge_id", cfg.Bridge.ID,
		"controller", controller.BaseURL(),
		"poll_interval", cfg.Controller.PollInterval.String(),
		"devices", len(cfg.Devices.Forward),
	)
	return bridge, nil
}

// startAPI creates and starts the REST API server.
func startAPI(
	ctx context.Context,
	cfg *config.Config,
	bridge *autelis.Bridge,
	historyRepo *history.SQLiteRepository,
	mqttClient *mqtt.Client,
	db *database.DB,
	log *logging.Logger,
) (*api.Server, error) {
	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.With("component", "api"),
		Bridge:   bridge,
		MQTT:     mqttClient,
		Version:  version,
	}
	if historyRepo != nil {
		deps.History = historyRepo
	}
	if db != nil {
		deps.DB = db
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	return srv, nil
}

// issueToken prints a bearer token signed with the configured JWT secret.
func issueToken(w io.Writer, subject string, ttl time.Duration) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	token, err := api.IssueToken(cfg.Security.JWT.Secret, subject, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Autelis bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements autelis.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements autelis.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements autelis.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
