package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names accepted in Config.Environment.
const (
	EnvironmentProduction  = "production"
	EnvironmentDevelopment = "development"
)

// Supported store drivers.
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// Supported broker drivers.
const (
	BrokerDriverSNS  = "sns"
	BrokerDriverMQTT = "mqtt"
	BrokerDriverFCM  = "fcm"
)

// Config is the root configuration structure for the push relay.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Environment string          `yaml:"environment"`
	Database    DatabaseConfig  `yaml:"database"`
	API         APIConfig       `yaml:"api"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Broker      BrokerConfig    `yaml:"broker"`
	Dispatch    DispatchConfig  `yaml:"dispatch"`
	MQTT        MQTTConfig      `yaml:"mqtt"`
	InfluxDB    InfluxDBConfig  `yaml:"influxdb"`
	Logging     LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig selects and configures the relational store.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver"`

	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSL      bool   `yaml:"ssl"`

	// ConnectRetryInterval is the delay between connection attempts while
	// the server is still refusing connections (seconds).
	ConnectRetryInterval int `yaml:"connect_retry_interval"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// RegisterRequestsPerMinute throttles POST /register per client IP.
	// 0 disables the throttle.
	RegisterRequestsPerMinute int `yaml:"register_requests_per_minute"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// RateLimitConfig configures the per-origin dispatch ceiling.
type RateLimitConfig struct {
	// Ceiling is the number of messages an origin may dispatch per window.
	Ceiling int `yaml:"ceiling"`

	// Window is the wall-clock bucket size. Default: 15m
	Window time.Duration `yaml:"window"`
}

// BrokerConfig configures the notification broker.
type BrokerConfig struct {
	// Driver is "sns" (default), "mqtt" or "fcm".
	Driver string `yaml:"driver"`

	// Applications maps each push network to the broker-side application
	// identity (an SNS platform application ARN for the sns driver).
	Applications ApplicationsConfig `yaml:"applications"`

	// RequestsPerSecond paces calls to the broker. 0 disables pacing.
	RequestsPerSecond int `yaml:"requests_per_second"`

	SNS SNSConfig `yaml:"sns"`
	FCM FCMConfig `yaml:"fcm"`
}

// ApplicationsConfig holds one application identity per push network.
type ApplicationsConfig struct {
	FCM  string `yaml:"fcm"`
	APNS string `yaml:"apns"`
	WNS  string `yaml:"wns"`
}

// SNSConfig contains Amazon SNS settings.
type SNSConfig struct {
	Region string `yaml:"region"`
}

// FCMConfig contains Firebase Cloud Messaging settings.
type FCMConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	CredentialsJSON string `yaml:"credentials_json"`
}

// DispatchConfig tunes message fan-out.
type DispatchConfig struct {
	// MaxConcurrency bounds the number of devices delivered to in parallel.
	MaxConcurrency int `yaml:"max_concurrency"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped if the file does not exist
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern PUSHRELAY_SECTION_KEY, e.g.
// PUSHRELAY_DATABASE_PATH. The variable names used by earlier deployments
// (RATE_LIMIT, FCM_ARN, APNS_ARN, WNS_ARN, POSTGRES_*) are honoured too.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be parsed or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Environment-only configuration.
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Environment: EnvironmentDevelopment,
		Database: DatabaseConfig{
			Driver:      DatabaseDriverSQLite,
			Path:        "./data/pushrelay.db",
			WALMode:     true,
			BusyTimeout: 5,
			Postgres: PostgresConfig{
				Host:                 "localhost",
				Port:                 5432,
				Database:             "pushrelay",
				ConnectRetryInterval: 5,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  60,
			},
			CORS: CORSConfig{
				AllowedMethods: []string{"POST"},
			},
			RegisterRequestsPerMinute: 120,
		},
		RateLimit: RateLimitConfig{
			Ceiling: 50000,
			Window:  15 * time.Minute,
		},
		Broker: BrokerConfig{
			Driver:            BrokerDriverSNS,
			RequestsPerSecond: 0,
			SNS: SNSConfig{
				Region: "us-east-1",
			},
		},
		Dispatch: DispatchConfig{
			MaxConcurrency: 8,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pushrelay",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			TopicPrefix: "pushrelay",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PUSHRELAY_ENVIRONMENT"); v != "" {
		cfg.Environment = strings.ToLower(v)
	}

	// Database
	if v := os.Getenv("PUSHRELAY_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("PUSHRELAY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := firstEnv("PUSHRELAY_POSTGRES_HOST", "POSTGRES_HOST"); v != "" {
		cfg.Database.Postgres.Host = v
		// Setting a PostgreSQL host implies the postgres driver unless
		// one was chosen explicitly.
		if os.Getenv("PUSHRELAY_DATABASE_DRIVER") == "" {
			cfg.Database.Driver = DatabaseDriverPostgres
		}
	}
	if v := firstEnv("PUSHRELAY_POSTGRES_USER", "POSTGRES_USER"); v != "" {
		cfg.Database.Postgres.User = v
	}
	if v := firstEnv("PUSHRELAY_POSTGRES_PASSWORD", "POSTGRES_PASSWORD"); v != "" {
		cfg.Database.Postgres.Password = v
	}
	if v := firstEnv("PUSHRELAY_POSTGRES_DB", "POSTGRES_DB"); v != "" {
		cfg.Database.Postgres.Database = v
	}

	// API
	if v := os.Getenv("PUSHRELAY_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if n, ok := envInt("PUSHRELAY_API_PORT"); ok {
		cfg.API.Port = n
	}
	if v := firstEnv("PUSHRELAY_TLS_CERT_FILE", "SSL_CERTIFICATE_PATH"); v != "" {
		cfg.API.TLS.CertFile = v
	}
	if v := firstEnv("PUSHRELAY_TLS_KEY_FILE", "SSL_PRIVATE_KEY_PATH"); v != "" {
		cfg.API.TLS.KeyFile = v
	}
	if cfg.API.TLS.CertFile != "" && cfg.API.TLS.KeyFile != "" {
		cfg.API.TLS.Enabled = true
	}

	// Rate limit
	if n, ok := envInt("PUSHRELAY_RATE_LIMIT", "RATE_LIMIT"); ok {
		cfg.RateLimit.Ceiling = n
	}

	// Broker
	if v := os.Getenv("PUSHRELAY_BROKER_DRIVER"); v != "" {
		cfg.Broker.Driver = strings.ToLower(v)
	}
	if v := firstEnv("PUSHRELAY_FCM_APPLICATION", "FCM_ARN"); v != "" {
		cfg.Broker.Applications.FCM = v
	}
	if v := firstEnv("PUSHRELAY_APNS_APPLICATION", "APNS_ARN"); v != "" {
		cfg.Broker.Applications.APNS = v
	}
	if v := firstEnv("PUSHRELAY_WNS_APPLICATION", "WNS_ARN"); v != "" {
		cfg.Broker.Applications.WNS = v
	}
	if v := firstEnv("PUSHRELAY_SNS_REGION", "AWS_REGION"); v != "" {
		cfg.Broker.SNS.Region = v
	}
	if v := os.Getenv("PUSHRELAY_FCM_CREDENTIALS_FILE"); v != "" {
		cfg.Broker.FCM.CredentialsFile = v
	}

	// MQTT
	if v := os.Getenv("PUSHRELAY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PUSHRELAY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PUSHRELAY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("PUSHRELAY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// firstEnv returns the value of the first non-empty environment variable.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// envInt parses the first non-empty environment variable as an integer.
// Unparsable values are ignored, matching how earlier deployments fell back
// to the default rate limit.
func envInt(keys ...string) (int, bool) {
	v := firstEnv(keys...)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	switch c.Environment {
	case EnvironmentProduction, EnvironmentDevelopment:
	default:
		errs = append(errs, "environment must be \"production\" or \"development\"")
	}

	// Database validation
	switch c.Database.Driver {
	case DatabaseDriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case DatabaseDriverPostgres:
		if c.Database.Postgres.Host == "" {
			errs = append(errs, "database.postgres.host is required for the postgres driver")
		}
		if c.Database.Postgres.Database == "" {
			errs = append(errs, "database.postgres.database is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be \"sqlite\" or \"postgres\"")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls requires both cert_file and key_file")
	}

	// Rate limit validation
	if c.RateLimit.Ceiling < 1 {
		errs = append(errs, "rate_limit.ceiling must be positive")
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, "rate_limit.window must be positive")
	}

	// Broker validation
	switch c.Broker.Driver {
	case BrokerDriverSNS:
		if c.Broker.Applications.IsEmpty() {
			errs = append(errs, "broker.applications needs at least one platform application for the sns driver")
		}
	case BrokerDriverMQTT:
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	case BrokerDriverFCM:
		if c.Broker.FCM.CredentialsFile == "" && c.Broker.FCM.CredentialsJSON == "" {
			errs = append(errs, "broker.fcm needs credentials_file or credentials_json")
		}
	default:
		errs = append(errs, "broker.driver must be \"sns\", \"mqtt\" or \"fcm\"")
	}
	if c.Broker.RequestsPerSecond < 0 {
		errs = append(errs, "broker.requests_per_second must not be negative")
	}

	if c.Dispatch.MaxConcurrency < 1 {
		errs = append(errs, "dispatch.max_concurrency must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsEmpty reports whether no application identity is configured.
func (a ApplicationsConfig) IsEmpty() bool {
	return a.FCM == "" && a.APNS == "" && a.WNS == ""
}

// IsProduction reports whether unexpected error details must be hidden
// from API clients.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
