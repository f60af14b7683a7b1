// Package config loads and validates the server configuration from YAML,
// environment variables, and CLI flag overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig configures the RPC listener and worker pool.
type ServerConfig struct {
	// Listen is the IP:port the server binds.
	Listen string `mapstructure:"listen" validate:"required,hostname_port"`

	// Workers is the worker pool size.
	Workers int `mapstructure:"workers" validate:"min=1,max=256"`
}

// StorageConfig configures the data directory.
type StorageConfig struct {
	// Dir is the data directory backing the filesystem.
	Dir string `mapstructure:"dir" validate:"required"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json"`
	Output string `mapstructure:"output"`
}

// MetricsConfig configures the admin HTTP endpoint serving prometheus
// metrics and health.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen" validate:"omitempty,hostname_port"`
}

// TelemetryConfig configures tracing and profiling.
type TelemetryConfig struct {
	Enabled    bool            `mapstructure:"enabled"`
	Endpoint   string          `mapstructure:"endpoint"`
	Insecure   bool            `mapstructure:"insecure"`
	SampleRate float64         `mapstructure:"sample_rate" validate:"min=0,max=1"`
	Profiling  ProfilingConfig `mapstructure:"profiling"`
}

// ProfilingConfig configures Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Endpoint     string   `mapstructure:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types"`
}

// Load reads the configuration: defaults, then the optional YAML file,
// then ZIPPYNFS_* environment overrides (ZIPPYNFS_SERVER_LISTEN, ...).
// Validation is deferred to Validate so CLI flags can override first.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ZIPPYNFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
