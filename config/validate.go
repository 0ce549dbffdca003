package config

import (
	"fmt"
	"os"
	"strings"
)

var (
	// Valid driver backends
	validBackends = map[string]bool{
		"gomidi":   true,
		"portmidi": true,
		"serial":   true,
	}

	// Valid log levels
	validLogLevels = map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
)

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.validateApp(); err != nil {
		return fmt.Errorf("app config: %w", err)
	}

	if err := c.validateDriver(); err != nil {
		return fmt.Errorf("driver config: %w", err)
	}

	if err := c.validateSession(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.validateNATS(); err != nil {
		return fmt.Errorf("nats config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.validateMonitoring(); err != nil {
		return fmt.Errorf("monitoring config: %w", err)
	}

	return nil
}

func (c *Config) validateApp() error {
	if c.App.Name == "" {
		return fmt.Errorf("name is required")
	}

	if c.App.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}

	if c.App.ClientName == "" {
		return fmt.Errorf("client_name is required")
	}

	return nil
}

func (c *Config) validateDriver() error {
	if !validBackends[c.Driver.Backend] {
		return fmt.Errorf("invalid backend %s, must be one of: gomidi, portmidi, serial", c.Driver.Backend)
	}

	if c.Driver.Serial.ReadTimeoutMS <= 0 {
		return fmt.Errorf("read_timeout_ms must be positive, got: %d", c.Driver.Serial.ReadTimeoutMS)
	}

	return nil
}

func (c *Config) validateSession() error {
	if c.Session.PollIntervalMS <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive, got: %d", c.Session.PollIntervalMS)
	}

	if c.Session.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got: %d", c.Session.BatchSize)
	}

	if c.Session.MaxBatchesPerPoll <= 0 {
		return fmt.Errorf("max_batches_per_poll must be positive, got: %d", c.Session.MaxBatchesPerPoll)
	}

	if c.Session.MessageBuffer <= 0 {
		return fmt.Errorf("message_buffer must be positive, got: %d", c.Session.MessageBuffer)
	}

	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}

	if c.NATS.URL == "" {
		return fmt.Errorf("url is required")
	}

	if !strings.HasPrefix(c.NATS.URL, "nats://") {
		return fmt.Errorf("url must start with nats://, got: %s", c.NATS.URL)
	}

	if c.NATS.SubjectPrefix == "" {
		return fmt.Errorf("subject_prefix is required")
	}

	// -1 means unlimited reconnects (NATS client convention)
	if c.NATS.MaxReconnects < -1 {
		return fmt.Errorf("max_reconnects must be -1 (unlimited) or non-negative, got: %d", c.NATS.MaxReconnects)
	}

	if c.NATS.ReconnectWaitSec <= 0 {
		return fmt.Errorf("reconnect_wait_sec must be positive, got: %d", c.NATS.ReconnectWaitSec)
	}

	return nil
}

func (c *Config) validateLogging() error {
	if c.Logging.BasePath == "" {
		return fmt.Errorf("base_path is required")
	}

	// Check if base path exists or can be created
	if _, err := os.Stat(c.Logging.BasePath); os.IsNotExist(err) {
		if err := os.MkdirAll(c.Logging.BasePath, 0755); err != nil {
			return fmt.Errorf("base_path %s does not exist and cannot be created: %w", c.Logging.BasePath, err)
		}
	}

	if c.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("max_size_mb must be positive, got: %d", c.Logging.MaxSizeMB)
	}

	if c.Logging.MaxBackups < 0 {
		return fmt.Errorf("max_backups must be non-negative, got: %d", c.Logging.MaxBackups)
	}

	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %s, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

func (c *Config) validateMonitoring() error {
	if !c.Monitoring.Enabled {
		return nil
	}

	if c.Monitoring.Port <= 0 || c.Monitoring.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got: %d", c.Monitoring.Port)
	}

	return nil
}
