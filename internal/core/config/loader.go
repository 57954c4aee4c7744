package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/sentinel/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
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
	if cfg.Integration.Mode == "" {
		cfg.Integration.Mode = domain.IntegrationAutomatic
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *AppConfig) error {
	switch cfg.Integration.Mode {
	case domain.IntegrationAutomatic, domain.IntegrationSelective,
		domain.IntegrationManual, domain.IntegrationDisabled:
	default:
		return fmt.Errorf("invalid integration mode: %s", cfg.Integration.Mode)
	}

	switch cfg.Queue.DefaultPolicy {
	case "", domain.RetryNever, domain.RetryLinear,
		domain.RetryExponential, domain.RetryImmediate:
	default:
		return fmt.Errorf("invalid default retry policy: %s", cfg.Queue.DefaultPolicy)
	}

	if cfg.Queue.MaxSize < 0 {
		return fmt.Errorf("queue max_size must not be negative")
	}
	if cfg.Processor.Concurrency < 0 {
		return fmt.Errorf("processor concurrency must not be negative")
	}
	return nil
}
