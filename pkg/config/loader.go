package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding the document. Useful for injecting the
// per-run identifiers into a shared configuration file.
const (
	EnvCorrelationID = "CASTELLAN_CORRELATION_ID"
	EnvScope         = "CASTELLAN_SCOPE"
	EnvManifestURL   = "CASTELLAN_MANIFEST_URL"
	EnvRemoteBaseURL = "CASTELLAN_REMOTE_BASE_URL"
	EnvStorePath     = "CASTELLAN_STORE_PATH"
	EnvLogLevel      = "CASTELLAN_LOG_LEVEL"
)

// Loader reads, defaults, and validates deployment configuration documents.
type Loader struct {
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{
		schemaRegistry: NewSchemaRegistry(),
		validator:      validator.New(),
	}
}

// Load reads a YAML configuration file, applies environment overrides and
// defaults, and validates the result.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := l.Parse(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes and validates a YAML configuration document.
func (l *Loader) Parse(ctx context.Context, content []byte) (*Config, error) {
	var cfg Config

	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := l.Validate(ctx, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs struct-tag validation and the CUE schema checks.
func (l *Loader) Validate(ctx context.Context, cfg *Config) error {
	if err := l.validator.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if err := l.schemaRegistry.ValidateAgainstSchema(ctx, "config", cfg); err != nil {
		return fmt.Errorf("config schema check failed: %w", err)
	}

	for i, setting := range cfg.Settings {
		if err := l.schemaRegistry.ValidateAgainstSchema(ctx, "setting", setting); err != nil {
			return fmt.Errorf("setting %d (%s) schema check failed: %w", i, setting.Name, err)
		}
	}

	if err := l.schemaRegistry.ValidateAgainstSchema(ctx, "telemetry", cfg.Telemetry); err != nil {
		return fmt.Errorf("telemetry schema check failed: %w", err)
	}

	return nil
}

// applyEnvOverrides lets per-run identifiers override the document.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvCorrelationID); v != "" {
		cfg.Deployment.CorrelationID = v
	}
	if v := os.Getenv(EnvScope); v != "" {
		cfg.Deployment.Scope = v
	}
	if v := os.Getenv(EnvManifestURL); v != "" {
		cfg.Deployment.ManifestURL = v
	}
	if v := os.Getenv(EnvRemoteBaseURL); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
}

// applyDefaults fills unset optional fields.
func applyDefaults(cfg *Config) {
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = Duration(30 * time.Second)
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "castellan.db"
	}
	if cfg.Telemetry.Metrics.Listen == "" {
		cfg.Telemetry.Metrics.Listen = ":9090"
	}
	if cfg.Telemetry.Tracing.Exporter == "" {
		cfg.Telemetry.Tracing.Exporter = "none"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}
