package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/pushrelay/internal/api"
	"github.com/nerrad567/pushrelay/internal/device"
	"github.com/nerrad567/pushrelay/internal/infrastructure/config"
	"github.com/nerrad567/pushrelay/internal/infrastructure/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails on an unparseable config file.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("PUSHRELAY_CONFIG", writeConfig(t, "rate_limit: [not, a, map"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with an invalid config file")
	}
}

// TestRun_MissingApplications verifies the sns driver refuses to start
// without platform applications.
func TestRun_MissingApplications(t *testing.T) {
	t.Setenv("PUSHRELAY_CONFIG", writeConfig(t, `
broker:
  driver: sns
  applications: {}
`))
	for _, key := range []string{"FCM_ARN", "APNS_ARN", "WNS_ARN", "PUSHRELAY_FCM_APPLICATION", "PUSHRELAY_APNS_APPLICATION", "PUSHRELAY_WNS_APPLICATION"} {
		t.Setenv(key, "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "config") {
		t.Fatalf("run() error = %v, want config validation failure", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("PUSHRELAY_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("PUSHRELAY_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestHealthCheck_ReportsAllFailures(t *testing.T) {
	checks := []api.HealthCheck{
		{Name: "database", Check: func(context.Context) error { return errors.New("locked") }},
		{Name: "mqtt", Check: func(context.Context) error { return nil }},
		{Name: "influxdb", Check: func(context.Context) error { return errors.New("unreachable") }},
	}

	err := healthCheck(context.Background(), checks)
	if err == nil {
		t.Fatal("healthCheck() should fail")
	}
	msg := err.Error()
	if !strings.Contains(msg, "database: locked") || !strings.Contains(msg, "influxdb: unreachable") {
		t.Errorf("error = %q, want both failures", msg)
	}
	if strings.Contains(msg, "mqtt") {
		t.Errorf("error = %q mentions a passing check", msg)
	}

	if err := healthCheck(context.Background(), checks[1:2]); err != nil {
		t.Errorf("healthCheck() with passing checks = %v", err)
	}
}

func TestApplications(t *testing.T) {
	cfg := &config.Config{Broker: config.BrokerConfig{
		Driver:       config.BrokerDriverSNS,
		Applications: config.ApplicationsConfig{FCM: "arn:fcm", APNS: "arn:apns"},
	}}
	apps := applications(cfg)
	if apps[device.NetworkFCM] != "arn:fcm" || apps[device.NetworkAPNS] != "arn:apns" {
		t.Errorf("sns applications = %v", apps)
	}

	cfg.Broker.Driver = config.BrokerDriverFCM
	cfg.Broker.Applications = config.ApplicationsConfig{}
	apps = applications(cfg)
	if len(apps) != 1 || apps[device.NetworkFCM] != fcmApplication {
		t.Errorf("fcm applications = %v", apps)
	}
}

func TestNewBroker_Errors(t *testing.T) {
	cfg := &config.Config{Broker: config.BrokerConfig{Driver: config.BrokerDriverMQTT}}
	if _, err := newBroker(context.Background(), cfg, nil); err == nil {
		t.Error("mqtt driver without a connection should fail")
	}

	cfg.Broker.Driver = "carrier-pigeon"
	if _, err := newBroker(context.Background(), cfg, nil); err == nil {
		t.Error("unknown driver should fail")
	}
}

func TestOpenStore_SQLite(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{
		Driver:      config.DatabaseDriverSQLite,
		Path:        filepath.Join(t.TempDir(), "relay.db"),
		BusyTimeout: 5,
	}}

	st, err := openStore(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	defer st.close() //nolint:errcheck // Test cleanup

	if err := st.healthCheck(context.Background()); err != nil {
		t.Errorf("healthCheck() error = %v", err)
	}
	if _, err := st.devices.GetByID(context.Background(), "missing"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("GetByID() error = %v, want ErrDeviceNotFound", err)
	}
}
