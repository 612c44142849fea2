package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/ironbot/internal/device"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel       string        `yaml:"log_level" default:"info"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`

	// WriteTimeout bounds how long the CLI waits for a write result; the session itself never times out
	WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`

	// NamePrefix narrows scans to peripherals advertising a matching name; empty lists everything
	NamePrefix string `yaml:"name_prefix"`

	ReadUUIDs  []string `yaml:"read_uuids"`
	WriteUUIDs []string `yaml:"write_uuids"`

	// TelemetryBuffer is the longest notification line kept before it is emitted unterminated
	TelemetryBuffer int `yaml:"telemetry_buffer" default:"256"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.fillEndpoints()
	return cfg
}

// Load reads a YAML config file. Missing fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	defaults.SetDefaults(cfg)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.fillEndpoints()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) fillEndpoints() {
	if len(c.ReadUUIDs) == 0 {
		c.ReadUUIDs = []string{device.DefaultReadUUID}
	}
	if len(c.WriteUUIDs) == 0 {
		c.WriteUUIDs = []string{device.DefaultWriteUUID}
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.ScanTimeout <= 0 {
		return fmt.Errorf("scan_timeout must be > 0")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be > 0")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be > 0")
	}
	if c.TelemetryBuffer <= 0 {
		return fmt.Errorf("telemetry_buffer must be > 0")
	}
	if _, err := device.ValidateUUID(c.ReadUUIDs...); err != nil {
		return fmt.Errorf("read_uuids: %w", err)
	}
	if _, err := device.ValidateUUID(c.WriteUUIDs...); err != nil {
		return fmt.Errorf("write_uuids: %w", err)
	}
	return nil
}

// Level returns the configured log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// Rules returns the endpoint rule table built from the configured UUIDs.
func (c *Config) Rules() *device.Rules {
	return device.NewRules(c.ReadUUIDs, c.WriteUUIDs)
}
