package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrConfig marks configuration problems: unreadable job file, invalid values,
// missing environment.
var ErrConfig = errors.New("configuration error")

// LoadConfig reads, parses, and validates the YAML configuration file.
// It applies defaults before returning the validated configuration.
func LoadConfig(filename string) (*JobConfig, error) {
	fileBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file '%s': %v", ErrConfig, filename, err)
	}
	return ParseConfig(fileBytes, filename)
}

// ParseConfig parses YAML bytes into a validated JobConfig. name is used in messages only.
func ParseConfig(data []byte, name string) (*JobConfig, error) {
	var cfg JobConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML in '%s': %v", ErrConfig, name, err)
	}

	applyDefaults(&cfg)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no job file exists.
func Default() *JobConfig {
	var cfg JobConfig
	applyDefaults(&cfg)
	return &cfg
}

// applyDefaults sets default values for various configuration sections.
func applyDefaults(cfg *JobConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}

	if cfg.Source.Type == "" {
		cfg.Source.Type = DefaultSourceType
	}
	if cfg.Source.Table == "" {
		cfg.Source.Table = DefaultSourceTable
	}
	if cfg.Source.TimeoutSeconds <= 0 {
		cfg.Source.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = DefaultOutputDir
	}
	if cfg.Output.Prefix == "" {
		cfg.Output.Prefix = DefaultOutputPrefix
	}

	if cfg.ErrorHandling == nil {
		cfg.ErrorHandling = &ErrorHandlingConfig{Mode: DefaultErrorMode}
	} else if cfg.ErrorHandling.Mode == "" {
		cfg.ErrorHandling.Mode = DefaultErrorMode
	}
}
