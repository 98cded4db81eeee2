package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nerrad567/tdsconn/internal/api"
	"github.com/nerrad567/tdsconn/internal/history"
	"github.com/nerrad567/tdsconn/internal/infrastructure/database"
	"github.com/nerrad567/tdsconn/internal/infrastructure/influxdb"
	"github.com/nerrad567/tdsconn/internal/infrastructure/logging"
	"github.com/nerrad567/tdsconn/internal/infrastructure/mqtt"
	"github.com/nerrad567/tdsconn/internal/monitor"
	"github.com/nerrad567/tdsconn/internal/pool"
	"github.com/nerrad567/tdsconn/internal/tds"

	_ "github.com/nerrad567/tdsconn/migrations" // registers the history schema
)

const (
	// statsInterval is how often pool size is reported to metrics sinks.
	statsInterval = 15 * time.Second

	// closeAllTimeout bounds the final pool teardown.
	closeAllTimeout = 15 * time.Second
)

func newServeCmd(a *app) *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the diagnostics API with a tracked connection pool",
		Long: `Run the HTTP diagnostics API. Connections opened through the API are tracked
in a pool; connections that fail are evicted automatically. Lifecycle events
are journalled to SQLite and, when enabled, published to MQTT and InfluxDB.

Examples:
  tdsconn serve --config configs/config.yaml
  TDSCONN_JWT_SECRET=... tdsconn serve --history-retention 168h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context(), retention)
		},
	}
	cmd.Flags().DurationVar(&retention, "history-retention", 30*24*time.Hour, "Prune history older than this on start; 0 keeps everything")
	return cmd
}

// runServe wires every component and blocks until ctx is cancelled.
// Deferred teardown runs in reverse order of construction.
//
//nolint:gocognit,gocyclo // Linear wiring of optional components
func (a *app) runServe(ctx context.Context, retention time.Duration) error {
	// serve logs to logging.output; other commands keep stdout for results
	a.log = logging.New(a.cfg.Logging, version)
	log := a.log
	cfg := a.cfg
	log.Info("starting tdsconn", "version", version, "commit", commit, "build_date", date)

	// Open the history journal
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	historyRepo := history.NewSQLiteRepository(db.DB)
	if retention > 0 {
		pruned, pruneErr := historyRepo.Prune(ctx, time.Now().Add(-retention))
		if pruneErr != nil {
			return fmt.Errorf("pruning history: %w", pruneErr)
		}
		log.Info("history pruned", "removed", pruned, "retention", retention)
	}
	recorder := history.NewRecorder(historyRepo, log.Component("history"))
	defer func() {
		recorder.Close()
		if dropped := recorder.Dropped(); dropped > 0 {
			log.Warn("history events dropped", "count", dropped)
		}
	}()

	// Prometheus
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := monitor.NewPrometheusCollector(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	observers := []monitor.Observer{recorder.Observe, collector.Observe}

	// MQTT (optional)
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

		//nolint:gosec // QoS validated to 0..2 by config
		publisher := mqtt.NewLifecyclePublisher(mqttClient, byte(cfg.MQTT.QoS), log.Component("mqtt"))
		defer publisher.Close()
		observers = append(observers, publisher.Observe)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "org", cfg.InfluxDB.Org, "bucket", cfg.InfluxDB.Bucket)
		observers = append(observers, influxClient.Observe)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connection manager and pool. The API server owns the WebSocket hub,
	// which doubles as the trace sink for debug connections.
	var hub *api.Hub
	manager, err := a.newManager(tds.Deps{
		Diagnostics: tds.DiagnosticsFunc(func(ev tds.Event) {
			if hub != nil {
				hub.Trace(ev)
			}
		}),
	})
	if err != nil {
		return err
	}
	defer manager.Close() //nolint:errcheck // Close only clears the type registry

	connPool := pool.New(manager, log.Component("pool"))
	manager.SetPool(connPool)

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Manager:  manager,
		Pool:     connPool,
		History:  historyRepo,
		MQTT:     mqttClient,
		DB:       db,
		Gatherer: registry,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	hub = server.Hub()
	observers = append(observers, hub.Observe)
	manager.SetObserver(monitor.Fanout(observers...))

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Runs before the server closes so no new handles are tracked after it
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeAllTimeout)
		defer cancel()
		log.Info("disconnecting tracked connections", "count", connPool.Len())
		if closeErr := connPool.CloseAll(closeCtx); closeErr != nil {
			log.Error("error disconnecting pool", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if cfg.Security.JWT.Secret == "" {
		log.Warn("security.jwt.secret is not set, the API is unauthenticated")
	}
	log.Info("initialisation complete, waiting for shutdown signal", "address", server.Addr())

	reportStats(ctx, connPool, collector, influxClient)

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// reportStats publishes the pool size until ctx is cancelled.
func reportStats(ctx context.Context, p *pool.Pool, collector monitor.Collector, influxClient *influxdb.Client) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	report := func() {
		n := p.Len()
		collector.SetTracked(n)
		influxClient.WritePoolSize(n)
	}
	report()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report()
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
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
	return nil
}
