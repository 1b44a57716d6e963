// Push Relay - notification relay for mobile push networks.
//
// This is the main entry point of the relay. Devices register their push
// network token against an origin address and receive a dispatch token;
// origins later send batches of messages addressed by dispatch token, which
// the relay delivers through a notification broker (Amazon SNS, direct FCM,
// or MQTT gateways).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"

	_ "github.com/nerrad567/pushrelay/migrations"

	"github.com/nerrad567/pushrelay/internal/api"
	"github.com/nerrad567/pushrelay/internal/broker"
	"github.com/nerrad567/pushrelay/internal/dispatch"
	"github.com/nerrad567/pushrelay/internal/endpoint"
	"github.com/nerrad567/pushrelay/internal/infrastructure/config"
	"github.com/nerrad567/pushrelay/internal/infrastructure/influxdb"
	"github.com/nerrad567/pushrelay/internal/infrastructure/logging"
	"github.com/nerrad567/pushrelay/internal/infrastructure/mqtt"
	"github.com/nerrad567/pushrelay/internal/metrics"
	"github.com/nerrad567/pushrelay/internal/ratelimit"
	"github.com/nerrad567/pushrelay/internal/registration"
	"github.com/nerrad567/pushrelay/internal/stats"
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

// startupCheckTimeout bounds the health check run before serving.
const startupCheckTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear start-up sequence
	log := logging.Default()
	log.Info("starting push relay",
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
		"environment", cfg.Environment,
	)

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := st.close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	// MQTT is required by the mqtt broker driver only.
	var mqttClient *mqtt.Client
	if cfg.Broker.Driver == config.BrokerDriverMQTT {
		mqttClient, err = mqtt.Connect(cfg.MQTT, log)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	// Connect to InfluxDB (optional)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	b, err := newBroker(ctx, cfg, mqttClient)
	if err != nil {
		return fmt.Errorf("creating broker: %w", err)
	}
	b = broker.NewThrottled(b, cfg.Broker.RequestsPerSecond)
	log.Info("broker ready",
		"driver", cfg.Broker.Driver,
		"requests_per_second", cfg.Broker.RequestsPerSecond,
	)

	limiter := ratelimit.New(cfg.RateLimit.Ceiling, ratelimit.WithWindow(cfg.RateLimit.Window))
	m := metrics.New(version)
	m.WatchLimiter(limiter)

	provisioner := endpoint.NewProvisioner(b, st.devices, applications(cfg))
	provisioner.SetLogger(log)

	engineOpts := []dispatch.Option{
		dispatch.WithMaxConcurrency(cfg.Dispatch.MaxConcurrency),
		dispatch.WithLogger(log),
		dispatch.WithObserver(m),
	}
	regObservers := []registration.Observer{m}
	if influxClient != nil {
		t := telemetry{client: influxClient}
		engineOpts = append(engineOpts, dispatch.WithObserver(t))
		regObservers = append(regObservers, t)
	}

	engine := dispatch.NewEngine(st.devices, limiter, provisioner, b, stats.NewAggregator(st.origins, st.devices), engineOpts...)
	manager := registration.NewManager(st.devices, regObservers...)
	manager.SetLogger(log)

	checks := []api.HealthCheck{{Name: "database", Check: st.healthCheck}}
	if mqttClient != nil {
		checks = append(checks, api.HealthCheck{Name: "mqtt", Check: mqttClient.HealthCheck})
	}
	if influxClient != nil {
		checks = append(checks, api.HealthCheck{Name: "influxdb", Check: influxClient.HealthCheck})
	}

	checkCtx, cancelCheck := context.WithTimeout(ctx, startupCheckTimeout)
	err = healthCheck(checkCtx, checks)
	cancelCheck()
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	status := api.StatusSource{
		DB:           st.stats,
		Limiter:      limiter.Stats,
		BrokerDriver: cfg.Broker.Driver,
	}
	if mqttClient != nil {
		status.MQTTConnected = mqttClient.IsConnected
	}

	server, err := api.New(api.Deps{
		Config:       cfg.API,
		Production:   cfg.IsProduction(),
		Logger:       log,
		Registrar:    manager,
		Dispatcher:   engine,
		HealthChecks: checks,
		Status:       status,
		Metrics:      m.Handler(),
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, InfluxDB, MQTT, database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses PUSHRELAY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PUSHRELAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck runs every check and reports all failures together.
func healthCheck(ctx context.Context, checks []api.HealthCheck) error {
	var result *multierror.Error
	for _, hc := range checks {
		if err := hc.Check(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", hc.Name, err))
		}
	}
	return result.ErrorOrNil()
}

// newBroker builds the configured broker driver.
func newBroker(ctx context.Context, cfg *config.Config, mqttClient *mqtt.Client) (broker.Broker, error) {
	switch cfg.Broker.Driver {
	case config.BrokerDriverSNS:
		return broker.NewSNS(ctx, cfg.Broker.SNS.Region)
	case config.BrokerDriverFCM:
		return broker.NewFCM(ctx, cfg.Broker.FCM)
	case config.BrokerDriverMQTT:
		if mqttClient == nil {
			return nil, fmt.Errorf("mqtt driver needs an MQTT connection")
		}
		return broker.NewMQTT(mqttClient), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Broker.Driver)
	}
}

// fcmApplication names the FCM application when the fcm driver runs
// without an explicit identity.
const fcmApplication = "firebase"

// applications returns the per-network application table. The fcm driver
// only serves FCM devices and needs no configured identity.
func applications(cfg *config.Config) endpoint.Applications {
	if cfg.Broker.Driver == config.BrokerDriverFCM {
		app := cfg.Broker.Applications.FCM
		if app == "" {
			app = fcmApplication
		}
		return endpoint.ApplicationsFromConfig(config.ApplicationsConfig{FCM: app})
	}
	return endpoint.ApplicationsFromConfig(cfg.Broker.Applications)
}

// telemetry forwards dispatch and registration events to InfluxDB.
type telemetry struct {
	client *influxdb.Client
}

func (t telemetry) ObserveDispatch(s dispatch.Summary) {
	if s.Outcome != "ok" && s.Outcome != "partial" {
		return
	}
	t.client.WriteDispatch(influxdb.DispatchSample{
		Messages:      s.Messages,
		Devices:       s.Devices,
		Attempted:     s.Attempted,
		InvalidTokens: s.InvalidTokens,
		Errors:        s.Errors,
		Duration:      s.Duration,
		Time:          s.At,
	})
}

func (t telemetry) ObserveRegistration(network string) {
	t.client.WriteRegistration(network, time.Now().UTC())
}
