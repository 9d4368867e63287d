package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Hue             HueConfig         `yaml:"hue"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	HTTP            HTTPConfig        `yaml:"http"`
	Calibration     CalibrationConfig `yaml:"calibration"`
	Rooms           []RoomConfig      `yaml:"rooms"`
	Script          string            `yaml:"script"`
	RefreshInterval Duration          `yaml:"refresh_interval"` // Estimate recompute cadence
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// HueConfig contains Hue bridge connection settings
type HueConfig struct {
	Bridge           string   `yaml:"bridge"` // Empty = discover via mDNS/cloud
	Token            string   `yaml:"token"`
	Timeout          Duration `yaml:"timeout"`           // HTTP timeout for Hue API requests
	DiscoveryTimeout Duration `yaml:"discovery_timeout"` // Timeout for bridge discovery
}

// MQTTConfig contains MQTT broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// Enabled reports whether MQTT publishing is configured
func (c *MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the configured log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// HTTPConfig contains control API server settings
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// CalibrationConfig contains tunables for the calibration protocol.
// Zero values are replaced with the defaults the protocol was validated with.
type CalibrationConfig struct {
	ContributionThreshold float64  `yaml:"contribution_threshold"` // Minimum lux for a light to count
	PairTolerancePercent  float64  `yaml:"pair_tolerance_percent"` // Additivity error tolerance
	TimingBuffer          float64  `yaml:"timing_buffer"`          // Settle time safety multiplier
	CommandRetries        int      `yaml:"command_retries"`        // Read-back verification retries
	VerifyDelay           Duration `yaml:"verify_delay"`           // Wait before read-back verification
}

// RoomConfig names a calibratable room: its reference sensor and lights
type RoomConfig struct {
	Name   string   `yaml:"name"`
	Sensor string   `yaml:"sensor"`
	Lights []string `yaml:"lights"` // Empty = resolved from the Hue room group
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

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./luxd.sqlite"
	}

	// Hue defaults
	if cfg.Hue.Timeout == 0 {
		cfg.Hue.Timeout = Duration(30 * time.Second)
	}
	if cfg.Hue.DiscoveryTimeout == 0 {
		cfg.Hue.DiscoveryTimeout = Duration(5 * time.Second)
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "luxd"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "luxd"
	}

	// HTTP defaults
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "127.0.0.1"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 9190
	}

	// Calibration defaults
	if cfg.Calibration.ContributionThreshold == 0 {
		cfg.Calibration.ContributionThreshold = 10.0
	}
	if cfg.Calibration.PairTolerancePercent == 0 {
		cfg.Calibration.PairTolerancePercent = 30.0
	}
	if cfg.Calibration.TimingBuffer == 0 {
		cfg.Calibration.TimingBuffer = 1.25
	}
	if cfg.Calibration.CommandRetries == 0 {
		cfg.Calibration.CommandRetries = 2
	}
	if cfg.Calibration.VerifyDelay == 0 {
		cfg.Calibration.VerifyDelay = Duration(2 * time.Second)
	}

	// Refresh cadence
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = Duration(10 * time.Second)
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate rejects configurations the daemon cannot run with
func validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Rooms))
	for i := range cfg.Rooms {
		room := &cfg.Rooms[i]
		if room.Name == "" {
			return fmt.Errorf("rooms[%d]: name is required", i)
		}
		if room.Sensor == "" {
			return fmt.Errorf("room %q: sensor is required", room.Name)
		}
		if seen[room.Name] {
			return fmt.Errorf("room %q: duplicate room name", room.Name)
		}
		seen[room.Name] = true
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
