package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/castellan-io/castellan/pkg/pipeline"
	"github.com/castellan-io/castellan/pkg/reconcile"
	"github.com/castellan-io/castellan/pkg/remote"
)

// Duration wraps time.Duration so YAML documents can write "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full deployment configuration document.
type Config struct {
	// Remote configures the resource-addressed HTTP client.
	Remote RemoteConfig `json:"remote" yaml:"remote" validate:"required"`

	// Deployment identifies the target workspace and what to deploy into it.
	Deployment DeploymentConfig `json:"deployment" yaml:"deployment" validate:"required"`

	// Settings lists the infrastructure settings and connectors to reconcile.
	Settings []SettingConfig `json:"settings,omitempty" yaml:"settings" validate:"dive"`

	// Policy configures the Rego policy gate.
	Policy PolicyConfig `json:"policy,omitempty" yaml:"policy"`

	// Store configures the deployment journal.
	Store StoreConfig `json:"store,omitempty" yaml:"store"`

	// Telemetry configures metrics and tracing.
	Telemetry TelemetryConfig `json:"telemetry,omitempty" yaml:"telemetry"`

	// Logging configures log output.
	Logging LoggingConfig `json:"logging,omitempty" yaml:"logging"`
}

// RemoteConfig configures the remote resource client.
type RemoteConfig struct {
	// BaseURL is the management API endpoint.
	BaseURL string `json:"base_url" yaml:"base_url" validate:"required,url"`

	// Timeout bounds each remote request.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout"`

	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv string `json:"token_env,omitempty" yaml:"token_env"`
}

// DeploymentConfig identifies one deployment run.
type DeploymentConfig struct {
	// CorrelationID tags the target workspace; the preflight stage resolves
	// it to a workspace path.
	CorrelationID string `json:"correlation_id" yaml:"correlation_id" validate:"required"`

	// Scope is the resource scope deployed into.
	Scope string `json:"scope" yaml:"scope" validate:"required,startswith=/"`

	// ManifestURL locates the rule manifest. Empty skips the content stage.
	ManifestURL string `json:"manifest_url,omitempty" yaml:"manifest_url" validate:"omitempty,url"`

	// PrincipalID overrides automation principal discovery when set.
	PrincipalID string `json:"principal_id,omitempty" yaml:"principal_id"`

	// BindDuringAutomations binds roles eagerly in the automations stage
	// instead of waiting for finalization.
	BindDuringAutomations bool `json:"bind_during_automations,omitempty" yaml:"bind_during_automations"`

	// Automations lists the logical automation names to deploy.
	Automations []string `json:"automations,omitempty" yaml:"automations"`

	// RoleDefinitionIDs lists the roles bound to the automation principal.
	RoleDefinitionIDs []string `json:"role_definition_ids,omitempty" yaml:"role_definition_ids"`
}

// SettingConfig declares one setting or connector to reconcile.
type SettingConfig struct {
	// Kind is the setting kind.
	Kind string `json:"kind" yaml:"kind" validate:"required,oneof=EntityAnalytics Ueba Anomalies DiagnosticSetting DataConnector"`

	// Name is the remote object name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// BasePath overrides the workspace path for this setting. Usually left
	// empty and filled from the preflight workspace lookup.
	BasePath string `json:"base_path,omitempty" yaml:"base_path"`

	// Enabled gates whether the setting is deployed at all.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// RetryInFinalize opts the setting into one re-reconcile during
	// finalization after a permission skip.
	RetryInFinalize bool `json:"retry_in_finalize,omitempty" yaml:"retry_in_finalize"`

	// Payload is the desired remote body.
	Payload map[string]interface{} `json:"payload,omitempty" yaml:"payload"`
}

// PolicyConfig configures policy enforcement.
type PolicyConfig struct {
	// Enabled indicates if policy enforcement is enabled.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Paths lists .rego policy file paths loaded alongside the builtins.
	Paths []string `json:"paths,omitempty" yaml:"paths"`

	// Watch reloads policy files on change.
	Watch bool `json:"watch,omitempty" yaml:"watch"`
}

// StoreConfig configures the deployment journal database.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string `json:"path,omitempty" yaml:"path"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	// Metrics configures the Prometheus listener.
	Metrics MetricsConfig `json:"metrics,omitempty" yaml:"metrics"`

	// Tracing configures the trace exporter.
	Tracing TracingConfig `json:"tracing,omitempty" yaml:"tracing"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled starts the metrics listener.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Listen is the metrics listen address.
	Listen string `json:"listen,omitempty" yaml:"listen"`
}

// TracingConfig configures trace export.
type TracingConfig struct {
	// Exporter selects the span exporter.
	Exporter string `json:"exporter,omitempty" yaml:"exporter" validate:"omitempty,oneof=none stdout otlp"`

	// Endpoint is the OTLP collector endpoint.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is the minimum log level.
	Level string `json:"level,omitempty" yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`

	// Format selects console or JSON output.
	Format string `json:"format,omitempty" yaml:"format" validate:"omitempty,oneof=console json"`
}

// collectionForKind maps a setting kind to its remote collection.
func collectionForKind(kind string) string {
	switch kind {
	case "DataConnector":
		return "dataConnectors"
	case "DiagnosticSetting":
		return "diagnosticSettings"
	default:
		return "settings"
	}
}

// ToRequest converts the configuration into a pipeline request.
func (c *Config) ToRequest() (pipeline.Request, error) {
	settings := make([]reconcile.DesiredSetting, 0, len(c.Settings))
	for _, sc := range c.Settings {
		payload := json.RawMessage(`{}`)
		if sc.Payload != nil {
			encoded, err := json.Marshal(sc.Payload)
			if err != nil {
				return pipeline.Request{}, fmt.Errorf("failed to encode payload for setting %s: %w", sc.Name, err)
			}
			payload = encoded
		}

		settings = append(settings, reconcile.DesiredSetting{
			Ref:             remote.NewResourceRef(sc.BasePath, collectionForKind(sc.Kind), sc.Name),
			Kind:            reconcile.SettingKind(sc.Kind),
			Payload:         payload,
			EnabledByPolicy: sc.Enabled,
			RetryInFinalize: sc.RetryInFinalize,
		})
	}

	return pipeline.Request{
		CorrelationID:     c.Deployment.CorrelationID,
		Scope:             c.Deployment.Scope,
		ManifestURL:       c.Deployment.ManifestURL,
		Settings:          settings,
		AutomationNames:   c.Deployment.Automations,
		RoleDefinitionIDs: c.Deployment.RoleDefinitionIDs,
		Overrides: pipeline.Overrides{
			PrincipalID:           c.Deployment.PrincipalID,
			BindDuringAutomations: c.Deployment.BindDuringAutomations,
		},
	}, nil
}
