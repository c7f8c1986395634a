package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport kinds accepted in transport.kind.
const (
	TransportMQTT   = "mqtt"
	TransportValkey = "valkey"
)

// maxIntervalMillis bounds the reconnect wait and attempt timeout options.
const maxIntervalMillis = 60000

// Config is the root configuration structure for the Gray Logic publisher.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Transport TransportConfig `yaml:"transport"`
	Publisher PublisherConfig `yaml:"publisher"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServiceConfig identifies this publisher instance.
type ServiceConfig struct {
	Name string `yaml:"name"`

	// ClientID is presented to the broker. Empty means a generated app_<uuid>.
	ClientID string `yaml:"client_id"`
}

// TransportConfig selects and configures the broker transport.
type TransportConfig struct {
	Kind      string          `yaml:"kind"`
	Broker    BrokerConfig    `yaml:"broker"`
	Auth      AuthConfig      `yaml:"auth"`
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// CompressionLevel is the zlib level applied to payloads (0 disables).
	CompressionLevel int `yaml:"compression_level"`

	// KeepAlive is the keep-alive period in seconds.
	KeepAlive int `yaml:"keep_alive"`

	// QoS is used for persistent delivery on MQTT; direct delivery is always QoS 0.
	QoS int `yaml:"qos"`

	// InFlight caps unacknowledged publishes before the transport reports would-block.
	InFlight int `yaml:"in_flight"`
}

// BrokerConfig contains broker connection details.
type BrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`
}

// AuthConfig contains broker credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ReconnectConfig contains retry settings. Counts use -1 for "forever".
type ReconnectConfig struct {
	Attempts          int `yaml:"attempts"`
	WaitInterval      int `yaml:"wait_interval_ms"`
	ConnectionRetries int `yaml:"connection_retries"`
	AttemptTimeout    int `yaml:"attempt_timeout_ms"`
}

// PublisherConfig contains the settings of the process publisher.
type PublisherConfig struct {
	BackPressure   string `yaml:"back_pressure"`
	BufferCapacity int    `yaml:"buffer_capacity"`
	DeliveryMode   string `yaml:"delivery_mode"`
	TerminateGrace int    `yaml:"terminate_grace_ms"`
	Topic          string `yaml:"topic"`
}

// DatabaseConfig contains SQLite settings for the dead-letter journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

	// ReportInterval is how often publisher statistics are written, in seconds.
	ReportInterval int `yaml:"report_interval"`
}

// APIConfig contains status HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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
// For example: GRAYLOGIC_TRANSPORT_HOST, GRAYLOGIC_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file; empty means defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name: "graylogic-pub",
		},
		Transport: TransportConfig{
			Kind: TransportMQTT,
			Broker: BrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			Reconnect: ReconnectConfig{
				Attempts:          -1,
				WaitInterval:      3000,
				ConnectionRetries: 0,
				AttemptTimeout:    10000,
			},
			KeepAlive: 60,
			QoS:       1,
			InFlight:  64,
		},
		Publisher: PublisherConfig{
			BackPressure:   "reject",
			BufferCapacity: 256,
			DeliveryMode:   "direct",
			TerminateGrace: 5000,
			Topic:          "graylogic/pub/out",
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-pub.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:      100,
			FlushInterval:  10,
			ReportInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	setInt := func(name string, dst *int) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not an integer", name, v))
			return
		}
		*dst = n
	}

	if v := os.Getenv("GRAYLOGIC_SERVICE_CLIENT_ID"); v != "" {
		cfg.Service.ClientID = v
	}

	// Transport
	if v := os.Getenv("GRAYLOGIC_TRANSPORT_KIND"); v != "" {
		cfg.Transport.Kind = v
	}
	if v := os.Getenv("GRAYLOGIC_TRANSPORT_HOST"); v != "" {
		cfg.Transport.Broker.Host = v
	}
	setInt("GRAYLOGIC_TRANSPORT_PORT", &cfg.Transport.Broker.Port)
	if v := os.Getenv("GRAYLOGIC_TRANSPORT_USERNAME"); v != "" {
		cfg.Transport.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_TRANSPORT_PASSWORD"); v != "" {
		cfg.Transport.Auth.Password = v
	}

	// Publisher
	if v := os.Getenv("GRAYLOGIC_PUBLISHER_BACK_PRESSURE"); v != "" {
		cfg.Publisher.BackPressure = v
	}
	setInt("GRAYLOGIC_PUBLISHER_BUFFER_CAPACITY", &cfg.Publisher.BufferCapacity)
	if v := os.Getenv("GRAYLOGIC_PUBLISHER_TOPIC"); v != "" {
		cfg.Publisher.Topic = v
	}

	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	setInt("GRAYLOGIC_API_PORT", &cfg.API.Port)

	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Transport validation
	switch c.Transport.Kind {
	case TransportMQTT, TransportValkey:
	default:
		errs = append(errs, fmt.Sprintf("transport.kind must be %q or %q", TransportMQTT, TransportValkey))
	}
	if c.Transport.Broker.Host == "" {
		errs = append(errs, "transport.broker.host is required")
	}
	if c.Transport.Broker.Port < 1 || c.Transport.Broker.Port > 65535 {
		errs = append(errs, "transport.broker.port must be between 1 and 65535")
	}
	r := c.Transport.Reconnect
	if r.Attempts < -1 {
		errs = append(errs, "transport.reconnect.attempts must be -1 or greater")
	}
	if r.ConnectionRetries < -1 {
		errs = append(errs, "transport.reconnect.connection_retries must be -1 or greater")
	}
	if r.WaitInterval < 0 || r.WaitInterval > maxIntervalMillis {
		errs = append(errs, "transport.reconnect.wait_interval_ms must be between 0 and 60000")
	}
	if r.AttemptTimeout < 0 || r.AttemptTimeout > maxIntervalMillis {
		errs = append(errs, "transport.reconnect.attempt_timeout_ms must be between 0 and 60000")
	}
	if c.Transport.CompressionLevel < 0 || c.Transport.CompressionLevel > 9 {
		errs = append(errs, "transport.compression_level must be between 0 and 9")
	}
	if c.Transport.QoS < 0 || c.Transport.QoS > 2 {
		errs = append(errs, "transport.qos must be 0, 1, or 2")
	}
	if c.Transport.InFlight < 1 {
		errs = append(errs, "transport.in_flight must be at least 1")
	}

	// Publisher validation
	switch strings.ToLower(c.Publisher.BackPressure) {
	case "none":
	case "reject", "block", "wait":
		if c.Publisher.BufferCapacity < 1 {
			errs = append(errs, "publisher.buffer_capacity must be at least 1 for buffered back-pressure")
		}
	default:
		errs = append(errs, "publisher.back_pressure must be none, reject, or block")
	}
	switch strings.ToLower(c.Publisher.DeliveryMode) {
	case "direct", "persistent":
	default:
		errs = append(errs, "publisher.delivery_mode must be direct or persistent")
	}
	if c.Publisher.TerminateGrace < 0 {
		errs = append(errs, "publisher.terminate_grace_ms must not be negative")
	}
	if c.Publisher.Topic == "" {
		errs = append(errs, "publisher.topic is required")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.ReportInterval < 1 {
			errs = append(errs, "influxdb.report_interval must be at least 1 second")
		}
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerURI returns the broker address in the form the transport expects.
func (c *Config) BrokerURI() string {
	scheme := "tcp"
	switch {
	case c.Transport.Kind == TransportValkey && c.Transport.Broker.TLS:
		scheme = "rediss"
	case c.Transport.Kind == TransportValkey:
		scheme = "redis"
	case c.Transport.Broker.TLS:
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Transport.Broker.Host, c.Transport.Broker.Port)
}

// GetTerminateGrace returns the publisher terminate grace period as a Duration.
func (c *Config) GetTerminateGrace() time.Duration {
	return time.Duration(c.Publisher.TerminateGrace) * time.Millisecond
}

// GetReportInterval returns the InfluxDB statistics interval as a Duration.
func (c *Config) GetReportInterval() time.Duration {
	return time.Duration(c.InfluxDB.ReportInterval) * time.Second
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
