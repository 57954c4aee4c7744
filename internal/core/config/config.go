package config

import (
	"github.com/vietddude/sentinel/internal/core/domain"
	"github.com/vietddude/sentinel/internal/dlq"
	redisclient "github.com/vietddude/sentinel/internal/infra/redis"
	"github.com/vietddude/sentinel/internal/infra/storage/postgres"
	"github.com/vietddude/sentinel/internal/recovery"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig                      `yaml:"server"`
	Logging     LoggingConfig                     `yaml:"logging"`
	Queue       dlq.Config                        `yaml:"queue"`
	Processor   dlq.ProcessorConfig               `yaml:"processor"`
	Breaker     recovery.BreakerConfig            `yaml:"breaker"`
	Classes     map[string]recovery.BreakerConfig `yaml:"breaker_classes"`
	Backoff     recovery.BackoffConfig            `yaml:"backoff"`
	Integration IntegrationConfig                 `yaml:"integration"`
	Redis       redisclient.Config                `yaml:"redis"`
	Database    postgres.Config                   `yaml:"database"`
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

// IntegrationConfig controls how exhausted work is handed to the queue.
type IntegrationConfig struct {
	Mode domain.IntegrationPolicy `yaml:"mode"` // automatic, selective, manual, disabled
}
