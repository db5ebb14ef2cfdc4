package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Connection modes of a device.
const (
	ConnectionPush = "push"
	ConnectionPoll = "poll"
)

const KindLinkBulb = "linkbulb"

// Config represents the application configuration
type Config struct {
	Log             LogConfig       `yaml:"log"`
	Database        DatabaseConfig  `yaml:"database"`
	Transport       TransportConfig `yaml:"transport"`
	Polling         PollingConfig   `yaml:"polling"`
	Notify          NotifyConfig    `yaml:"notify"`
	MQTT            MQTTConfig      `yaml:"mqtt"`
	InfluxDB        InfluxDBConfig  `yaml:"influxdb"`
	Ledger          LedgerConfig    `yaml:"ledger"`
	EventBus        EventBusConfig  `yaml:"eventbus"`
	Script          string          `yaml:"script"`
	Hubs            []HubConfig     `yaml:"hubs"`
	Devices         []DeviceConfig  `yaml:"devices"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// DatabaseConfig contains database settings. An empty path keeps all state
// in memory.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TransportConfig contains device request settings
type TransportConfig struct {
	Timeout      Duration `yaml:"timeout"`        // Per-request timeout
	RateLimitRPS float64  `yaml:"rate_limit_rps"` // Requests per second per device
}

// PollingConfig contains refresh settings for poll-only devices
type PollingConfig struct {
	Interval Duration `yaml:"interval"`
}

// NotifyConfig contains the push listener settings
type NotifyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig contains the MQTT mirror settings
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
	QoS      int    `yaml:"qos"`
}

// InfluxDBConfig contains energy history settings
type InfluxDBConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URL           string   `yaml:"url"`
	Token         string   `yaml:"token"`
	Org           string   `yaml:"org"`
	Bucket        string   `yaml:"bucket"`
	BatchSize     int      `yaml:"batch_size"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// LedgerConfig contains command ledger settings
type LedgerConfig struct {
	Enabled         bool     `yaml:"enabled"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 1)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 256)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 1
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 256
	}
	return c.QueueSize
}

// HubConfig describes a gateway that link bulbs are reached through
type HubConfig struct {
	ID   string `yaml:"id"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DeviceConfig describes one appliance
type DeviceConfig struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Connection string `yaml:"connection"` // push or poll
	Hub        string `yaml:"hub"`        // hub id, link bulbs only

	BrightnessStep float64  `yaml:"brightness_step"`
	ShowTodayTotal bool     `yaml:"show_today_total"`
	WattDiff       float64  `yaml:"watt_diff"`
	TimeDiff       Duration `yaml:"time_diff"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a configuration document, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Transport defaults
	if cfg.Transport.Timeout == 0 {
		cfg.Transport.Timeout = Duration(10 * time.Second)
	}
	if cfg.Transport.RateLimitRPS == 0 {
		cfg.Transport.RateLimitRPS = 5.0
	}

	if cfg.Polling.Interval == 0 {
		cfg.Polling.Interval = Duration(30 * time.Second)
	}

	// Notify defaults
	if cfg.Notify.Host == "" {
		cfg.Notify.Host = "0.0.0.0"
	}
	if cfg.Notify.Port == 0 {
		cfg.Notify.Port = 3400
	}

	// MQTT defaults
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = 1883
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "wemod"
	}
	if cfg.MQTT.Prefix == "" {
		cfg.MQTT.Prefix = "wemod"
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	for i := range cfg.Hubs {
		if cfg.Hubs[i].Port == 0 {
			cfg.Hubs[i].Port = 49153
		}
	}
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		if d.Name == "" {
			d.Name = d.ID
		}
		if d.Port == 0 {
			d.Port = 49153
		}
		if d.Connection == "" {
			d.Connection = ConnectionPush
		}
	}
}

// Validate checks device and hub references.
func (cfg *Config) Validate() error {
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt: qos must be 0, 1 or 2")
	}

	hubs := make(map[string]bool, len(cfg.Hubs))
	for _, h := range cfg.Hubs {
		if h.ID == "" {
			return fmt.Errorf("hub: id is required")
		}
		if h.Host == "" {
			return fmt.Errorf("hub %s: host is required", h.ID)
		}
		if hubs[h.ID] {
			return fmt.Errorf("hub %s: duplicate id", h.ID)
		}
		hubs[h.ID] = true
	}

	seen := make(map[string]bool, len(cfg.Devices))
	for _, d := range cfg.Devices {
		if d.ID == "" {
			return fmt.Errorf("device: id is required")
		}
		if seen[d.ID] {
			return fmt.Errorf("device %s: duplicate id", d.ID)
		}
		seen[d.ID] = true

		if d.Kind == "" {
			return fmt.Errorf("device %s: kind is required", d.ID)
		}
		if d.Connection != ConnectionPush && d.Connection != ConnectionPoll {
			return fmt.Errorf("device %s: connection must be %q or %q", d.ID, ConnectionPush, ConnectionPoll)
		}
		if d.Kind == KindLinkBulb {
			if !hubs[d.Hub] {
				return fmt.Errorf("device %s: unknown hub %q", d.ID, d.Hub)
			}
			continue
		}
		if d.Host == "" {
			return fmt.Errorf("device %s: host is required", d.ID)
		}
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

