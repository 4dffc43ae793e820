package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when GRAYLOGIC_HASS_CONFIG is not set.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for Gray Logic HASS.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	HASS     HASSConfig     `yaml:"hass"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HASSConfig contains the Home Assistant session settings.
type HASSConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Secure      bool   `yaml:"secure"`
	AccessToken string `yaml:"access_token"`

	// RequestTimeout bounds each request/response round trip. 0 disables it.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	Debug            bool          `yaml:"debug"`
	ReconnectOnClose bool          `yaml:"reconnect_on_close"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	MaxCacheAge       time.Duration `yaml:"max_cache_age"`

	// Mode is "automatic", "keep_running" or "just_initialize".
	Mode string `yaml:"mode"`

	// FaultPolicy is "isolate" or "escalate".
	FaultPolicy string `yaml:"fault_policy"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	WALMode     bool          `yaml:"wal_mode"`
	BusyTimeout int           `yaml:"busy_timeout"`
	History     HistoryConfig `yaml:"history"`
	Audit       AuditConfig   `yaml:"audit"`
}

// Enabled reports whether any feature needs the database.
func (c DatabaseConfig) Enabled() bool {
	return c.History.Enabled || c.Audit.Enabled
}

// HistoryConfig controls the entity state history table.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Retention is how long history rows are kept. 0 keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// AuditConfig controls the audit log of service calls made through the
// API and the MQTT command bridge.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Mirror    MirrorConfig        `yaml:"mirror"`
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

// MirrorConfig controls republishing entity states to MQTT.
type MirrorConfig struct {
	Enabled     bool   `yaml:"enabled"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// APIConfig contains the diagnostic HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_HASS_TOKEN, GRAYLOGIC_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// PathFromEnv returns GRAYLOGIC_HASS_CONFIG, or DefaultPath when unset.
func PathFromEnv() string {
	if v := os.Getenv("GRAYLOGIC_HASS_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		HASS: HASSConfig{
			Port:              8123,
			RequestTimeout:    2 * time.Second,
			ReconnectOnClose:  true,
			ReconnectDelay:    5 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			HeartbeatTimeout:  15 * time.Second,
			MaxCacheAge:       15 * time.Minute,
			Mode:              "automatic",
			FaultPolicy:       "isolate",
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-hass.db",
			WALMode:     true,
			BusyTimeout: 5,
			History: HistoryConfig{
				Enabled:   true,
				Retention: 30 * 24 * time.Hour,
			},
			Audit: AuditConfig{Enabled: true},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-hass",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			Mirror: MirrorConfig{
				TopicPrefix: "graylogic/hass",
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "hass",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Home Assistant
	if v := os.Getenv("GRAYLOGIC_HASS_HOST"); v != "" {
		cfg.HASS.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_HASS_TOKEN"); v != "" {
		cfg.HASS.AccessToken = v
	}
	if v := os.Getenv("GRAYLOGIC_HASS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing GRAYLOGIC_HASS_PORT: %w", err)
		}
		cfg.HASS.Port = port
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Home Assistant
	if c.HASS.Host == "" {
		errs = append(errs, "hass.host is required (set GRAYLOGIC_HASS_HOST)")
	}
	if c.HASS.AccessToken == "" {
		errs = append(errs, "hass.access_token is required (set GRAYLOGIC_HASS_TOKEN)")
	}
	if c.HASS.Port < 1 || c.HASS.Port > 65535 {
		errs = append(errs, "hass.port must be between 1 and 65535")
	}
	if c.HASS.RequestTimeout < 0 {
		errs = append(errs, "hass.request_timeout must not be negative")
	}
	switch c.HASS.Mode {
	case "", "automatic", "keep_running", "just_initialize":
	default:
		errs = append(errs, "hass.mode must be automatic, keep_running or just_initialize")
	}
	switch c.HASS.FaultPolicy {
	case "", "isolate", "escalate":
	default:
		errs = append(errs, "hass.fault_policy must be isolate or escalate")
	}

	// Database
	if c.Database.Enabled() && c.Database.Path == "" {
		errs = append(errs, "database.path is required when history or audit is enabled")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Mirror.Enabled && c.MQTT.Mirror.TopicPrefix == "" {
		errs = append(errs, "mqtt.mirror.topic_prefix is required when the mirror is enabled")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
