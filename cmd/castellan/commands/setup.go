package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/castellan-io/castellan/pkg/config"
	"github.com/castellan-io/castellan/pkg/policy"
	"github.com/castellan-io/castellan/pkg/remote"
	"github.com/castellan-io/castellan/pkg/stores"
	"github.com/castellan-io/castellan/pkg/telemetry"
)

// defaultTokenEnv is consulted when the config names no token variable.
const defaultTokenEnv = "CASTELLAN_TOKEN"

// loadConfig reads the configuration file named by the global --config flag.
func loadConfig(ctx context.Context) (*config.Config, error) {
	loader := config.NewLoader()
	return loader.Load(ctx, configPath)
}

// buildTelemetry assembles the telemetry stack from the configuration,
// starting from defaults so only the configured knobs move.
func buildTelemetry(cfg *config.Config, version string) (*telemetry.Telemetry, error) {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Logging.Level = cfg.Logging.Level
	tc.Logging.Format = cfg.Logging.Format
	tc.Logging.Output = "stderr"
	if verbose {
		tc.Logging.Level = "debug"
	}
	if jsonOutput {
		tc.Logging.Format = "json"
	}

	tc.Metrics.Enabled = cfg.Telemetry.Metrics.Enabled
	if cfg.Telemetry.Metrics.Listen != "" {
		tc.Metrics.ListenAddress = cfg.Telemetry.Metrics.Listen
	}

	tc.Tracing.Enabled = cfg.Telemetry.Tracing.Exporter != "none"
	tc.Tracing.Exporter = cfg.Telemetry.Tracing.Exporter
	tc.Tracing.Endpoint = cfg.Telemetry.Tracing.Endpoint

	return telemetry.NewTelemetry(tc)
}

// buildRemoteClient constructs the resource API client. The bearer token
// comes from the environment; credential acquisition is outside this tool.
func buildRemoteClient(cfg *config.Config, version string, logger zerolog.Logger) (*remote.HTTPClient, error) {
	tokenEnv := cfg.Remote.TokenEnv
	if tokenEnv == "" {
		tokenEnv = defaultTokenEnv
	}
	token := os.Getenv(tokenEnv)
	if token == "" {
		return nil, fmt.Errorf("no bearer token in $%s", tokenEnv)
	}

	return remote.NewHTTPClient(remote.ClientConfig{
		BaseURL:   cfg.Remote.BaseURL,
		Timeout:   cfg.Remote.Timeout.Std(),
		UserAgent: "castellan/" + version,
	}, remote.StaticTokenSource(token), logger)
}

// openStore opens and migrates the deployment journal database.
func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// buildGate constructs the policy engine when enforcement is enabled. A nil
// gate disables policy checks in the pipeline.
func buildGate(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*policy.Engine, error) {
	if !cfg.Policy.Enabled {
		return nil, nil
	}

	engine, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := engine.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return nil, err
		}

		if cfg.Policy.Watch {
			loader := policy.NewLoader(logger)
			err := loader.Watch(ctx, cfg.Policy.Paths, func(policies []policy.Policy) error {
				return engine.ReplacePolicies(ctx, policies)
			})
			if err != nil {
				return nil, fmt.Errorf("failed to watch policy paths: %w", err)
			}
		}
	}
	return engine, nil
}
