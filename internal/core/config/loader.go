package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file. A .env file, if present,
// is loaded first so ${VAR} references in the YAML resolve.
func Load(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Queue.MaxConcurrent == 0 {
		cfg.Queue.MaxConcurrent = 3
	}
	if cfg.Queue.ProcessingTimeout == 0 {
		cfg.Queue.ProcessingTimeout = 600 * time.Second
	}
	if cfg.Queue.CircuitBreaker.FailureThreshold == 0 {
		cfg.Queue.CircuitBreaker.FailureThreshold = 5
	}
	if cfg.Queue.CircuitBreaker.ResetTimeout == 0 {
		cfg.Queue.CircuitBreaker.ResetTimeout = 30 * time.Second
	}

	for i := range cfg.Providers {
		if cfg.Providers[i].Timeout == 0 {
			cfg.Providers[i].Timeout = 120 * time.Second
		}
	}

	return &cfg, nil
}
