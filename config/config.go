// Package config loads the splice configuration and builds the components
// it describes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	yaml "gopkg.in/yaml.v3"

	"github.com/sarchlab/splice/registry"
	"github.com/sarchlab/splice/verify"
)

type (
	// RegistryConfig tunes plan rebuilding.
	RegistryConfig struct {
		Parallelism int  `yaml:"parallelism" validate:"gte=0"`
		Metrics     bool `yaml:"metrics"`
	}

	// SimulatorConfig tunes the functional simulator that runs decoded
	// bodies.
	SimulatorConfig struct {
		MaxSteps int `yaml:"max_steps" validate:"gte=1"`
	}

	// Config is the whole configuration.
	Config struct {
		Version   int             `yaml:"version" validate:"eq=1"`
		Logging   LoggingConfig   `yaml:"logging"`
		Registry  RegistryConfig  `yaml:"registry"`
		Simulator SimulatorConfig `yaml:"simulator"`
	}
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Version: 1,
		Logging: LoggingConfig{
			ConsoleLogger: LoggerConfig{Level: "normal"},
			FileLogger:    LoggerConfig{Level: "none"},
		},
		Simulator: SimulatorConfig{MaxSteps: verify.DefaultMaxSteps},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration against its field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// Parse superimposes YAML data on the defaults and validates the result.
// Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadConfiguration reads the configuration file at path. An empty path
// yields the defaults.
func LoadConfiguration(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}

	return cfg, nil
}

// Dump encodes the configuration as YAML.
func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %w", err)
	}

	return data, nil
}

// RegistryBuilder returns a registry builder configured by c. Metrics are
// registered with reg when enabled.
func (c *Config) RegistryBuilder(reg prometheus.Registerer) registry.Builder {
	b := registry.MakeBuilder().WithParallelism(c.Registry.Parallelism)
	if c.Registry.Metrics && reg != nil {
		b = b.WithRegisterer(reg)
	}

	return b
}

// Env returns an empty simulator environment configured by c.
func (c *Config) Env() *verify.Env {
	env := verify.NewEnv()
	env.MaxSteps = c.Simulator.MaxSteps

	return env
}
