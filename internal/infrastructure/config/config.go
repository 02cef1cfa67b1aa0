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

// Config is the root configuration structure for the stove service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Polling    PollingConfig    `yaml:"polling"`
	Thermostat ThermostatConfig `yaml:"thermostat"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
}

// DeviceConfig identifies the stove and its command port.
type DeviceConfig struct {
	// ID names the stove in MQTT topics and telemetry tags.
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// Host is the device address. Empty means UDP discovery.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// TimeoutMS is the TCP idle timeout in milliseconds.
	TimeoutMS int `yaml:"timeout_ms"`

	// ConnectDelayMS is the settle delay between connect and write.
	ConnectDelayMS int `yaml:"connect_delay_ms"`

	// DebugTCP logs every frame at info level.
	DebugTCP bool `yaml:"debug_tcp"`
}

// DiscoveryConfig contains UDP discovery settings.
type DiscoveryConfig struct {
	BroadcastAddress string `yaml:"broadcast_address"`
	BroadcastPort    int    `yaml:"broadcast_port"`
	ListenPort       int    `yaml:"listen_port"`
	TimeoutMS        int    `yaml:"timeout_ms"`
	Retries          int    `yaml:"retries"`
}

// PollingConfig contains status polling settings.
type PollingConfig struct {
	// Interval is the regular poll period in seconds.
	Interval int `yaml:"interval"`

	// SuspendAfter is the failure count that suspends regular polling.
	SuspendAfter int `yaml:"suspend_after"`

	// BackoffSteps are the retry delays in seconds.
	BackoffSteps []int `yaml:"backoff_steps"`
}

// ThermostatConfig bounds the target temperature.
type ThermostatConfig struct {
	MinTemp float64 `yaml:"min_temp"`
	MaxTemp float64 `yaml:"max_temp"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetentionDays bounds the state history table. 0 keeps everything.
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled        bool                `yaml:"enabled"`
	Broker         MQTTBrokerConfig    `yaml:"broker"`
	Auth           MQTTAuthConfig      `yaml:"auth"`
	QoS            int                 `yaml:"qos"`
	Reconnect      MQTTReconnectConfig `yaml:"reconnect"`
	HealthInterval int                 `yaml:"health_interval"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`

	// PasswordHash is the Argon2id PHC hash checked by POST /auth/login.
	// Empty disables password login; tokens can still be issued by the CLI.
	PasswordHash string `yaml:"password_hash"`
}

// JWTConfig contains JWT token settings.
// An empty secret leaves mutating API routes unauthenticated.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// minJWTSecretLength is the shortest accepted HMAC secret.
const minJWTSecretLength = 32

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FOURHEAT_SECTION_KEY
// For example: FOURHEAT_DEVICE_HOST, FOURHEAT_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(cfg)
}

// LoadOptional is Load, except that a missing file yields the defaults
// with environment overrides applied. Used by the one-shot CLI commands.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return finish(Default())
	}
	return cfg, err
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:             "stove",
			Name:           "4HEAT Stove",
			Port:           80,
			TimeoutMS:      5000,
			ConnectDelayMS: 500,
		},
		Discovery: DiscoveryConfig{
			BroadcastAddress: "255.255.255.255",
			BroadcastPort:    6666,
			ListenPort:       5555,
			TimeoutMS:        3000,
			Retries:          3,
		},
		Polling: PollingConfig{
			Interval:     30,
			SuspendAfter: 3,
			BackoffSteps: []int{5, 10, 30, 60},
		},
		Thermostat: ThermostatConfig{
			MinTemp: 30,
			MaxTemp: 75,
		},
		Database: DatabaseConfig{
			Path:                 "./data/fourheat.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fourheat",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			HealthInterval: 30,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Org:           "fourheat",
			Bucket:        "stove",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FOURHEAT_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}

	// Device
	setString("FOURHEAT_DEVICE_ID", &cfg.Device.ID)
	setString("FOURHEAT_DEVICE_HOST", &cfg.Device.Host)
	setInt("FOURHEAT_DEVICE_PORT", &cfg.Device.Port)
	setInt("FOURHEAT_POLLING_INTERVAL", &cfg.Polling.Interval)

	// Database
	setString("FOURHEAT_DATABASE_PATH", &cfg.Database.Path)

	// MQTT
	setString("FOURHEAT_MQTT_HOST", &cfg.MQTT.Broker.Host)
	setString("FOURHEAT_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	setString("FOURHEAT_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)

	// API
	setString("FOURHEAT_API_HOST", &cfg.API.Host)
	setInt("FOURHEAT_API_PORT", &cfg.API.Port)

	// InfluxDB
	setString("FOURHEAT_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	// Logging
	setString("FOURHEAT_LOG_LEVEL", &cfg.Logging.Level)

	// Security
	setString("FOURHEAT_JWT_SECRET", &cfg.Security.JWT.Secret)
	setString("FOURHEAT_PASSWORD_HASH", &cfg.Security.PasswordHash)

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}
	if c.Device.Port < 1 || c.Device.Port > 65535 {
		errs = append(errs, "device.port must be between 1 and 65535")
	}
	if c.Device.TimeoutMS <= 0 {
		errs = append(errs, "device.timeout_ms must be positive")
	}
	if c.Device.ConnectDelayMS < 0 {
		errs = append(errs, "device.connect_delay_ms must not be negative")
	}

	if c.Polling.Interval <= 0 {
		errs = append(errs, "polling.interval must be positive")
	}
	for _, s := range c.Polling.BackoffSteps {
		if s <= 0 {
			errs = append(errs, "polling.backoff_steps must all be positive")
			break
		}
	}

	if c.Thermostat.MinTemp >= c.Thermostat.MaxTemp {
		errs = append(errs, "thermostat.min_temp must be below thermostat.max_temp")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// An unset secret disables authentication; a weak one is refused.
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}
	if h := c.Security.PasswordHash; h != "" {
		if !strings.HasPrefix(h, "$argon2id$") {
			errs = append(errs, "security.password_hash must be an argon2id hash (see fourheat hash-password)")
		}
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.password_hash requires security.jwt.secret")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetDeviceTimeout returns the TCP idle timeout.
func (c *Config) GetDeviceTimeout() time.Duration {
	return time.Duration(c.Device.TimeoutMS) * time.Millisecond
}

// GetConnectDelay returns the post-connect settle delay.
func (c *Config) GetConnectDelay() time.Duration {
	return time.Duration(c.Device.ConnectDelayMS) * time.Millisecond
}

// GetDiscoveryTimeout returns the length of one discovery round.
func (c *Config) GetDiscoveryTimeout() time.Duration {
	return time.Duration(c.Discovery.TimeoutMS) * time.Millisecond
}

// GetPollInterval returns the regular poll period.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Polling.Interval) * time.Second
}

// GetBackoffSteps returns the retry delays.
func (c *Config) GetBackoffSteps() []time.Duration {
	steps := make([]time.Duration, len(c.Polling.BackoffSteps))
	for i, s := range c.Polling.BackoffSteps {
		steps[i] = time.Duration(s) * time.Second
	}
	return steps
}

// GetHistoryRetention returns how long state history rows are kept.
// Zero means forever.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.Database.HistoryRetentionDays) * 24 * time.Hour
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
