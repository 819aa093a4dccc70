package common

import (
	"fmt"
	"os"

	"github.com/flashbots/fedledger/ledger"
	"github.com/flashbots/fedledger/protocol"
	"gopkg.in/yaml.v3"
)

// Config is the server configuration file.
type Config struct {
	HTTPAddr       string   `yaml:"http_addr"`
	MetricsAddr    string   `yaml:"metrics_addr"`
	AdminToken     string   `yaml:"admin_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// SessionKey is the hex encoded run-wide AES-256 key shared with
	// clients out of band. A fresh key is generated when empty.
	SessionKey string `yaml:"session_key"`

	// Schedule is a cron expression for closing rounds automatically.
	// Empty means rounds are opened and aggregated through the API only.
	Schedule string `yaml:"schedule"`

	// HeldOutSamples is the size of the synthetic evaluation set.
	HeldOutSamples int `yaml:"held_out_samples"`

	Log    LogConfig          `yaml:"log"`
	Ledger ledger.Config      `yaml:"ledger"`
	Model  *protocol.FLConfig `yaml:"model"`
}

// LogConfig selects log verbosity and format.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns a configuration that runs with an in-memory ledger.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:       ":8080",
		HeldOutSamples: 200,
		Log:            LogConfig{Level: "info"},
		Ledger:         ledger.DefaultConfig(),
		Model:          protocol.DefaultFLConfig(),
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(body)
}

// ParseConfig parses YAML over the defaults.
func ParseConfig(body []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(body, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields that have no usable zero value.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if c.MetricsAddr != "" && c.MetricsAddr == c.HTTPAddr {
		return fmt.Errorf("metrics_addr must differ from http_addr")
	}
	if c.Model == nil || c.Model.InputDim <= 0 || c.Model.OutputDim <= 0 {
		return fmt.Errorf("model.input_dim and model.output_dim must be positive")
	}
	switch c.Ledger.Driver {
	case "", ledger.DriverMemory, ledger.DriverSQLite, ledger.DriverPostgres:
	default:
		return fmt.Errorf("unknown ledger driver %q", c.Ledger.Driver)
	}
	return nil
}
