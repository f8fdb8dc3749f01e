/*
config.go - Process configuration

PURPOSE:
  Settings the server process needs before it can reach the database:
  listen port, database path, CORS origins, config-cache TTL and the
  calculation log queue size. Business parameters (rates, brackets,
  durations) are NOT here; they live in the database behind ConfigStore.

FILE FORMAT (YAML):
  port: 8080
  db_path: pawn.db
  cors_origins:
    - http://localhost:5173
  config_cache_ttl: 5m
  calculation_log_queue: 256
  metrics: true

  Missing keys keep their defaults. Command-line flags override the file.

SEE ALSO:
  - cmd/server/main.go: Flag overrides
  - pawn/configstore.go: Business parameters
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/pawn-engine/pawn"
)

type Config struct {
	Port                int           `yaml:"port"`
	DBPath              string        `yaml:"db_path"`
	CORSOrigins         []string      `yaml:"cors_origins"`
	ConfigCacheTTL      time.Duration `yaml:"config_cache_ttl"`
	CalculationLogQueue int           `yaml:"calculation_log_queue"`
	Metrics             bool          `yaml:"metrics"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Port:                8080,
		DBPath:              "pawn.db",
		CORSOrigins:         []string{"http://localhost:5173", "http://localhost:8080"},
		ConfigCacheTTL:      pawn.DefaultCacheTTL,
		CalculationLogQueue: pawn.DefaultLogQueueSize,
		Metrics:             true,
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("db_path is required")
	}
	if c.ConfigCacheTTL <= 0 {
		return fmt.Errorf("config_cache_ttl must be positive, got %s", c.ConfigCacheTTL)
	}
	if c.CalculationLogQueue <= 0 {
		return fmt.Errorf("calculation_log_queue must be positive, got %d", c.CalculationLogQueue)
	}
	return nil
}

// Addr is the listen address for http.Server.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }
