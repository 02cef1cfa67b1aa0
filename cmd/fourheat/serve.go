package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/fourheat-core/internal/api"
	"github.com/nerrad567/fourheat-core/internal/bridges/stove"
	"github.com/nerrad567/fourheat-core/internal/controller"
	"github.com/nerrad567/fourheat-core/internal/device"
	"github.com/nerrad567/fourheat-core/internal/infrastructure/config"
	"github.com/nerrad567/fourheat-core/internal/infrastructure/database"
	"github.com/nerrad567/fourheat-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/fourheat-core/internal/infrastructure/logging"
	"github.com/nerrad567/fourheat-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/fourheat-core/migrations"
)

const (
	// pruneInterval is how often expired state history rows are deleted.
	pruneInterval = time.Hour

	// historyWriteTimeout bounds one state history insert from the poll hook.
	historyWriteTimeout = 5 * time.Second
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the stove service",
		Long: `Poll the stove on a fixed interval and expose it.

Each successful poll is recorded to the SQLite state history when it
changes, written to InfluxDB and published to MQTT when those are enabled,
and pushed to WebSocket clients of the HTTP API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

// runServe is the service lifecycle: wire everything, wait for ctx, and
// let the deferred closes run in reverse order.
//
// Parameters:
//   - ctx: Cancelled on shutdown signals
//   - opts: Persistent flags
//
// Returns:
//   - error: nil on clean shutdown, or the first startup failure
func runServe(ctx context.Context, opts *rootOptions) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting fourheat",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := opts.loadConfig(false)
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", opts.configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	recorder := device.NewRecorder(device.NewSQLiteHistoryRepository(db.DB), cfg.Device.ID)
	recorder.SetLogger(log.Component("history"))

	// Device client and poll controller
	client := newDeviceClient(cfg, log)
	defer func() {
		log.Info("closing device transport")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing device transport", "error", closeErr)
		}
	}()
	if cfg.Device.Host == "" {
		log.Info("no device host configured, using UDP discovery",
			"broadcast", fmt.Sprintf("%s:%d", cfg.Discovery.BroadcastAddress, cfg.Discovery.BroadcastPort),
		)
	}

	ctrl := newController(cfg, client, log)
	ctrl.OnPoll(func(result controller.PollResult) {
		if result.State == nil {
			return
		}
		writeCtx, cancel := context.WithTimeout(ctx, historyWriteTimeout)
		defer cancel()
		recorder.Observe(writeCtx, result.State, device.SourcePoll) //nolint:errcheck // logged by the recorder; retried next poll
	})

	// Connect to InfluxDB (optional)
	influxClient, err := startInflux(cfg, ctrl, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

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
		)

		bridge, bridgeErr := startStoveBridge(ctx, cfg, mqttClient, ctrl, client.CurrentHost, log)
		if bridgeErr != nil {
			return fmt.Errorf("starting stove bridge: %w", bridgeErr)
		}
		defer func() {
			log.Info("stopping stove bridge")
			bridge.Stop()
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Metrics:  cfg.Metrics,
			Logger:   log.Component("api"),
			DeviceID: cfg.Device.ID,
			Stove:    ctrl,
			History:  recorder,
			HostFunc: client.CurrentHost,
			Version:  version,
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		ctrl.OnPoll(server.ObservePoll)
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Started last so it is stopped first: no poll hook outlives its sink.
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("starting poll controller: %w", err)
	}
	defer func() {
		log.Info("stopping poll controller")
		ctrl.Stop()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return recorder.PruneLoop(gctx, cfg.GetHistoryRetention(), pruneInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	log.Info("initialisation complete, waiting for shutdown signal")
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// startInflux connects to InfluxDB when enabled and registers the poll hook
// that writes telemetry. It returns nil, nil when InfluxDB is disabled.
func startInflux(cfg *config.Config, ctrl *controller.Controller, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}

	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)

	deviceID := cfg.Device.ID
	ctrl.OnPoll(func(result controller.PollResult) {
		client.WritePollOutcome(deviceID, result.State != nil, result.Duration, result.Failures)
		if result.State != nil {
			client.WriteStoveState(deviceID, result.State)
		}
	})
	return client, nil
}

// startStoveBridge creates the MQTT bridge, subscribes it to the command
// topic and registers it for poll results.
//
// Parameters:
//   - ctx: Context for the subscription
//   - cfg: Application configuration
//   - mqttClient: Connected broker client
//   - ctrl: Poll controller the bridge drives
//   - hostFunc: Reports the resolved device address
//   - log: Logger instance
//
// Returns:
//   - *stove.Bridge: Running bridge
//   - error: If the bridge fails to subscribe
func startStoveBridge(ctx context.Context, cfg *config.Config, mqttClient *mqtt.Client, ctrl *controller.Controller, hostFunc func() string, log *logging.Logger) (*stove.Bridge, error) {
	bridge, err := stove.NewBridge(stove.Options{
		DeviceID:       cfg.Device.ID,
		Version:        version,
		HealthInterval: time.Duration(cfg.MQTT.HealthInterval) * time.Second,
		QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2 by config
		MQTT:           mqttClient,
		Stove:          ctrl,
		HostFunc:       hostFunc,
		Logger:         log.Component("stove-bridge"),
	})
	if err != nil {
		return nil, err
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, err
	}
	ctrl.OnPoll(bridge.HandlePoll)

	log.Info("stove bridge started", "device_id", cfg.Device.ID)
	return bridge, nil
}

// healthCheck verifies the infrastructure connections that are enabled.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (nil if disabled)
//   - influxClient: InfluxDB client to check (nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
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

	// The device is not checked: the poll controller owns reachability and
	// backs off on its own.
	return nil
}
