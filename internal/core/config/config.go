package config

import (
	"time"

	"github.com/vietddude/genqueue/internal/breaker"
	"github.com/vietddude/genqueue/internal/deadletter"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Environment string            `yaml:"environment"` // development, production
	Queue       QueueConfig       `yaml:"queue"`
	Providers   []ProviderConfig  `yaml:"providers"`
	Redis       deadletter.Config `yaml:"redis"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// QueueConfig holds scheduler settings.
type QueueConfig struct {
	MaxConcurrent     int            `yaml:"max_concurrent"`
	ProcessingTimeout time.Duration  `yaml:"processing_timeout"`
	RetryPolicy       string         `yaml:"retry_policy"` // default, cost-safe; empty = by environment
	CircuitBreaker    breaker.Config `yaml:"circuit_breaker"`
}

// ProviderConfig holds settings for a generation provider.
type ProviderConfig struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}
