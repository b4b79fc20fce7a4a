package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/camshare/internal/devicefactory"
	"github.com/srg/camshare/pkg/device"
	"github.com/srg/camshare/pkg/shared"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path
const EnvConfigPath = "CAMSHARE_CONFIG"

// Config holds application configuration
type Config struct {
	LogLevel string        `yaml:"log_level" default:"info"`
	Driver   string        `yaml:"driver" default:"sim"`
	Camera   device.Config `yaml:"camera"`
	Manager  ManagerConfig `yaml:"manager"`
	Sim      SimConfig     `yaml:"sim"`
}

// ManagerConfig tunes the shared device manager
type ManagerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" default:"100ms"`
	// ReadyTimeout bounds the first acquirer's wait; 0 waits forever.
	ReadyTimeout time.Duration `yaml:"ready_timeout" default:"0s"`
	EventBuffer  int           `yaml:"event_buffer" default:"128"`
}

// SimConfig configures the simulated camera driver
type SimConfig struct {
	Warmup     time.Duration `yaml:"warmup" default:"300ms"`
	NeverReady bool          `yaml:"never_ready"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path falls back to
// $CAMSHARE_CONFIG and then to the defaults alone.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the manager cannot work with
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if err := c.Camera.Validate(); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if c.Manager.PollInterval <= 0 {
		return fmt.Errorf("manager: poll_interval must be positive, got %s", c.Manager.PollInterval)
	}
	if c.Manager.ReadyTimeout < 0 {
		return fmt.Errorf("manager: ready_timeout must not be negative, got %s", c.Manager.ReadyTimeout)
	}
	if c.Manager.EventBuffer <= 0 {
		return fmt.Errorf("manager: event_buffer must be positive, got %d", c.Manager.EventBuffer)
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// DriverOptions returns the driver knobs for devicefactory
func (c *Config) DriverOptions() devicefactory.Options {
	return devicefactory.Options{
		SimWarmup:     c.Sim.Warmup,
		SimNeverReady: c.Sim.NeverReady,
	}
}

// ManagerOptions returns the shared.Manager options described by the configuration
func (c *Config) ManagerOptions(logger *logrus.Logger) []shared.Option {
	return []shared.Option{
		shared.WithLogger(logger),
		shared.WithPollInterval(c.Manager.PollInterval),
		shared.WithReadyTimeout(c.Manager.ReadyTimeout),
		shared.WithEventBuffer(c.Manager.EventBuffer),
	}
}

// NewDriver builds the configured camera driver
func (c *Config) NewDriver(logger *logrus.Logger) (device.Driver, error) {
	return devicefactory.DriverFactory(c.Driver, c.DriverOptions(), logger)
}

// NewManager builds a shared.Manager with the configured driver
func (c *Config) NewManager(logger *logrus.Logger) (*shared.Manager, error) {
	drv, err := c.NewDriver(logger)
	if err != nil {
		return nil, err
	}
	return shared.New(drv, c.ManagerOptions(logger)...), nil
}
