package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Autelis bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge     BridgeConfig     `yaml:"bridge"`
	Controller ControllerConfig `yaml:"controller"`
	Devices    DevicesConfig    `yaml:"devices"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
}

// BridgeConfig contains bridge identity and reporting settings.
type BridgeConfig struct {
	// ID uniquely identifies this bridge instance in health and metric output.
	ID string `yaml:"id"`

	// HealthInterval is how often to publish health status (seconds).
	HealthInterval int `yaml:"health_interval"`
}

// ControllerConfig describes the pool controller HTTP endpoint.
type ControllerConfig struct {
	// BaseURL is the controller root, e.g. "http://poolcontrol".
	BaseURL string `yaml:"base_url"`

	// Username and Password are sent as HTTP basic auth on every request.
	// WARNING: Never log Password. Use String() for safe logging.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// PollInterval is the fixed delay between status polls.
	PollInterval time.Duration `yaml:"poll_interval"`

	// RequestSpacing is the fixed delay between queued controller writes.
	RequestSpacing time.Duration `yaml:"request_spacing"`

	// Timeout bounds a single HTTP request to the controller.
	Timeout time.Duration `yaml:"timeout"`
}

// String returns a representation with the password masked.
func (c ControllerConfig) String() string {
	password := ""
	if c.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("ControllerConfig{BaseURL:%q, Username:%q, Password:%s, PollInterval:%s, RequestSpacing:%s}",
		c.BaseURL, c.Username, password, c.PollInterval, c.RequestSpacing)
}

// MarshalJSON implements json.Marshaler to redact the password.
func (c ControllerConfig) MarshalJSON() ([]byte, error) {
	type redacted ControllerConfig
	safe := redacted(c)
	if safe.Password != "" {
		safe.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// DevicesConfig holds the device name mapping table and write whitelist.
//
// Forward maps bridge names to controller field names (jets -> aux1),
// Backward maps controller field names to bridge names (aux1 -> jets).
// Entries may be present in one direction only.
type DevicesConfig struct {
	Forward   map[string]string `yaml:"forward"`
	Backward  map[string]string `yaml:"backward"`
	Whitelist []string          `yaml:"whitelist"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetention is how long field history and command log rows are
	// kept before the pruner removes them.
	HistoryRetention time.Duration `yaml:"history_retention"`
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
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
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
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains settings for validating API bearer tokens.
type JWTConfig struct {
	Secret string `yaml:"secret"`
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
// Environment variables follow the pattern: AUTELIS_SECTION_KEY
// For example: AUTELIS_CONTROLLER_PASSWORD, AUTELIS_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDeviceDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "autelis-bridge-01",
			HealthInterval: 30,
		},
		Controller: ControllerConfig{
			BaseURL:        "http://poolcontrol",
			PollInterval:   2 * time.Second,
			RequestSpacing: 1500 * time.Millisecond,
			Timeout:        10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:             "./data/autelis.db",
			WALMode:          true,
			BusyTimeout:      5,
			HistoryRetention: 30 * 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "autelis-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "autelis",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyDeviceDefaults fills in the stock device table when the file omits it.
// Maps are defaulted only when both directions are absent so that a partial
// table in the file is never merged with the stock one.
func applyDeviceDefaults(cfg *Config) {
	if len(cfg.Devices.Forward) == 0 && len(cfg.Devices.Backward) == 0 {
		cfg.Devices.Forward = DefaultForwardMap()
		cfg.Devices.Backward = DefaultBackwardMap()
	}
	if len(cfg.Devices.Whitelist) == 0 {
		cfg.Devices.Whitelist = DefaultWhitelist()
	}
}

// DefaultForwardMap is the stock bridge-name to controller-field mapping.
func DefaultForwardMap() map[string]string {
	return map[string]string{
		"pump":         "pump",
		"spa":          "spa",
		"jets":         "aux1",
		"blower":       "aux2",
		"cleaner":      "aux3",
		"waterfall":    "aux4",
		"poolLight":    "aux5",
		"spaLight":     "aux6",
		"spaSetpoint":  "spasp",
		"poolSetpoint": "poolsp",
		"spaHeat":      "spaht",
		"poolHeat":     "poolht",
	}
}

// DefaultBackwardMap is the stock controller-field to bridge-name mapping.
func DefaultBackwardMap() map[string]string {
	return map[string]string{
		"pump":   "pump",
		"spa":    "spa",
		"aux1":   "jets",
		"aux2":   "blower",
		"aux3":   "cleaner",
		"aux4":   "waterfall",
		"aux5":   "poolLight",
		"aux6":   "spaLight",
		"spasp":  "spaSetpoint",
		"poolsp": "poolSetpoint",
		"spaht":  "spaHeat",
		"poolht": "poolHeat",
	}
}

// DefaultWhitelist lists the controller fields that accept writes.
func DefaultWhitelist() []string {
	list := []string{"pump", "pumplo", "spa", "waterfall", "cleaner", "poolht", "spaht", "solarht"}
	for i := 1; i <= 23; i++ {
		list = append(list, fmt.Sprintf("aux%d", i))
	}
	return append(list, "poolsp", "poolsp2", "spasp")
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Controller
	if v := os.Getenv("AUTELIS_CONTROLLER_URL"); v != "" {
		cfg.Controller.BaseURL = v
	}
	if v := os.Getenv("AUTELIS_CONTROLLER_USERNAME"); v != "" {
		cfg.Controller.Username = v
	}
	if v := os.Getenv("AUTELIS_CONTROLLER_PASSWORD"); v != "" {
		cfg.Controller.Password = v
	}

	// Database
	if v := os.Getenv("AUTELIS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("AUTELIS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("AUTELIS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("AUTELIS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("AUTELIS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("AUTELIS_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateBridge()...)
	errs = append(errs, c.validateController()...)
	errs = append(errs, c.validateDevices()...)
	errs = append(errs, c.validateMQTT()...)
	errs = append(errs, c.validateOptional()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateBridge() []string {
	var errs []string
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	return errs
}

func (c *Config) validateController() []string {
	var errs []string
	if c.Controller.BaseURL == "" {
		errs = append(errs, "controller.base_url is required")
	} else if u, err := url.Parse(c.Controller.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("controller.base_url %q is not an absolute URL", c.Controller.BaseURL))
	}
	if c.Controller.PollInterval <= 0 {
		errs = append(errs, "controller.poll_interval must be positive")
	}
	if c.Controller.RequestSpacing <= 0 {
		errs = append(errs, "controller.request_spacing must be positive")
	}
	if c.Controller.Timeout <= 0 {
		errs = append(errs, "controller.timeout must be positive")
	}
	return errs
}

// validateDevices checks that forward and backward maps are consistent inverses
// for every entry present in both directions.
func (c *Config) validateDevices() []string {
	var errs []string
	for canonical, native := range c.Devices.Forward {
		if canonical == "" || native == "" {
			errs = append(errs, "devices.forward contains an empty name")
			continue
		}
		if back, ok := c.Devices.Backward[native]; ok && back != canonical {
			errs = append(errs, fmt.Sprintf("devices: forward %s->%s disagrees with backward %s->%s", canonical, native, native, back))
		}
	}
	seen := make(map[string]string, len(c.Devices.Backward))
	for native, canonical := range c.Devices.Backward {
		if other, dup := seen[canonical]; dup {
			errs = append(errs, fmt.Sprintf("devices.backward maps both %s and %s to %s", other, native, canonical))
		}
		seen[canonical] = native
	}
	if len(c.Devices.Whitelist) == 0 {
		errs = append(errs, "devices.whitelist must have at least one entry")
	}
	return errs
}

func (c *Config) validateMQTT() []string {
	var errs []string
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		errs = append(errs, "mqtt.topic_prefix must be non-empty and free of wildcards")
	}
	return errs
}

// validateOptional validates sections that only matter when enabled.
func (c *Config) validateOptional() []string {
	var errs []string
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}
	if c.Database.Enabled && c.Database.HistoryRetention <= 0 {
		errs = append(errs, "database.history_retention must be positive")
	}
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters when the API is enabled (set AUTELIS_JWT_SECRET)")
		}
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}
	return errs
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
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
