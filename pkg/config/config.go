package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/budgetly/budgetly/pkg/models"
)

// Config holds all Budgetly configuration.
type Config struct {
	Listen     string             `yaml:"listen"`
	DBPath     string             `yaml:"db_path"`
	Controller string             `yaml:"controller"`
	Tokens     []string           `yaml:"tokens"`
	Logging    LoggingConfig      `yaml:"logging"`
	Auth       AuthConfig         `yaml:"auth"`
	Custody    CustodyConfig      `yaml:"custody"`
	Events     models.EventConfig `yaml:"events"`
	Metrics    MetricsConfig      `yaml:"metrics"`
}

// LoggingConfig selects the zap preset and level.
type LoggingConfig struct {
	Env   string `yaml:"env"` // local, dev or prod
	Level string `yaml:"level"`
}

// AuthConfig maps bearer API keys to caller identities.
// An empty map disables key checks on the HTTP surface.
type AuthConfig struct {
	APIKeys map[string]string `yaml:"api_keys"`
}

// CustodyConfig controls the reference token vault.
type CustodyConfig struct {
	DBPath string `yaml:"db_path"`
	Escrow string `yaml:"escrow"`
}

// MetricsConfig controls the Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:     "127.0.0.1:8080",
		DBPath:     "budgetly.db",
		Controller: "admin",
		Logging: LoggingConfig{
			Env:   "local",
			Level: "info",
		},
		Custody: CustodyConfig{
			DBPath: "budgetly-custody.db",
			Escrow: "budgetly",
		},
		Events: models.EventConfig{
			DBPath: "budgetly-events.db",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "budgetly",
		},
	}
}

// Load reads a YAML config file and expands environment variables. A .env
// file beside the config is loaded first; it never overrides variables that
// are already set.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the ledger cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Controller == "" {
		errs = append(errs, errors.New("controller is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.Custody.DBPath == "" {
		errs = append(errs, errors.New("custody.db_path is required"))
	}
	for key, identity := range c.Auth.APIKeys {
		if key == "" || identity == "" {
			errs = append(errs, errors.New("auth.api_keys entries need a key and an identity"))
			break
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
