package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the root configuration structure
type Config struct {
	App        AppConfig        `json:"app"`
	Driver     DriverConfig     `json:"driver"`
	Session    SessionConfig    `json:"session"`
	NATS       NATSConfig       `json:"nats"`
	Logging    LoggingConfig    `json:"logging"`
	Monitoring MonitoringConfig `json:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name       string `json:"name"`
	InstanceID string `json:"instance_id"`
	ClientName string `json:"client_name"` // Name our own ports register under
}

// DriverConfig selects and tunes the MIDI input backend
type DriverConfig struct {
	Backend string       `json:"backend"` // "gomidi", "portmidi" or "serial"
	Serial  SerialConfig `json:"serial"`
}

// SerialConfig tunes the MIDI-over-UART backend. The baud rate is fixed by
// the MIDI electrical spec and is not configurable.
type SerialConfig struct {
	ReadTimeoutMS int `json:"read_timeout_ms"`
}

// SessionConfig tunes the session controller loop
type SessionConfig struct {
	PollIntervalMS    int  `json:"poll_interval_ms"`     // Request/drain cycle period
	BatchSize         int  `json:"batch_size"`           // Messages per log lock hold
	MaxBatchesPerPoll int  `json:"max_batches_per_poll"` // Drain cap per cycle
	MessageBuffer     int  `json:"message_buffer"`       // Callback-to-controller queue depth
	AutoConnect       bool `json:"auto_connect"`         // Bind slot one at startup
}

// NATSConfig contains NATS connection settings for session event publishing
type NATSConfig struct {
	Enabled          bool   `json:"enabled"`
	URL              string `json:"url"`                // NATS server URL
	SubjectPrefix    string `json:"subject_prefix"`     // Prefix for subjects (e.g., "midi")
	MaxReconnects    int    `json:"max_reconnects"`     // Max reconnection attempts
	ReconnectWaitSec int    `json:"reconnect_wait_sec"` // Wait between reconnects
}

// LoggingConfig contains logging and log rotation settings
type LoggingConfig struct {
	BasePath   string `json:"base_path"`   // Base directory for log files
	MaxSizeMB  int    `json:"max_size_mb"` // Max size before rotation
	MaxBackups int    `json:"max_backups"` // Max number of old log files
	Compress   bool   `json:"compress"`    // Compress rotated logs
	Level      string `json:"level"`       // Log level: debug, info, warn, error
}

// MonitoringConfig contains HTTP monitoring server settings
type MonitoringConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"` // HTTP port for monitoring endpoints
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration usable without a config file. File
// rotation is opt-in via a config file; config-less runs log to stdout.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	cfg.Logging.BasePath = ""
	return &cfg
}

// setDefaults fills in default values for optional fields
func (c *Config) setDefaults() {
	// App defaults
	if c.App.Name == "" {
		c.App.Name = "Midimon"
	}
	if c.App.InstanceID == "" {
		c.App.InstanceID = "default"
	}
	if c.App.ClientName == "" {
		c.App.ClientName = "midimon"
	}

	// Driver defaults
	if c.Driver.Backend == "" {
		c.Driver.Backend = "gomidi"
	}
	if c.Driver.Serial.ReadTimeoutMS == 0 {
		c.Driver.Serial.ReadTimeoutMS = 100
	}

	// Session defaults
	if c.Session.PollIntervalMS == 0 {
		c.Session.PollIntervalMS = 20
	}
	if c.Session.BatchSize == 0 {
		c.Session.BatchSize = 5
	}
	if c.Session.MaxBatchesPerPoll == 0 {
		c.Session.MaxBatchesPerPoll = 6
	}
	if c.Session.MessageBuffer == 0 {
		c.Session.MessageBuffer = 512
	}

	// NATS defaults
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "midi"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectWaitSec == 0 {
		c.NATS.ReconnectWaitSec = 5
	}

	// Logging defaults
	if c.Logging.BasePath == "" {
		c.Logging.BasePath = "/var/log/midimon"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	// Monitoring defaults
	if c.Monitoring.Port == 0 {
		c.Monitoring.Port = 8080
	}
}

// Helper methods for time conversions
func (s *SerialConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s *SessionConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMS) * time.Millisecond
}

func (n *NATSConfig) ReconnectWait() time.Duration {
	return time.Duration(n.ReconnectWaitSec) * time.Second
}
