package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/castellan-io/castellan/pkg/reconcile"
)

const validDocument = `
remote:
  base_url: https://management.example.com
  timeout: 45s
  token_env: CASTELLAN_TOKEN

deployment:
  correlation_id: deploy-tag-1234
  scope: /subscriptions/s1/resourceGroups/rg1
  manifest_url: https://content.example.com/manifest.json
  bind_during_automations: true
  automations:
    - isolate-host
    - notify-soc
  role_definition_ids:
    - role-responder

settings:
  - kind: EntityAnalytics
    name: EntityAnalytics
    enabled: true
  - kind: Ueba
    name: Ueba
    enabled: true
    retry_in_finalize: true
    payload:
      dataSources:
        - AuditLogs
  - kind: DataConnector
    name: office365
    enabled: true
    payload:
      state: enabled

store:
  path: /var/lib/castellan/journal.db

logging:
  level: debug
`

func TestLoaderParse(t *testing.T) {
	loader := NewLoader()

	cfg, err := loader.Parse(context.Background(), []byte(validDocument))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Remote.BaseURL != "https://management.example.com" {
		t.Errorf("unexpected base URL: %s", cfg.Remote.BaseURL)
	}
	if cfg.Remote.Timeout.Std() != 45*time.Second {
		t.Errorf("expected timeout 45s, got %s", cfg.Remote.Timeout.Std())
	}
	if cfg.Deployment.CorrelationID != "deploy-tag-1234" {
		t.Errorf("unexpected correlation ID: %s", cfg.Deployment.CorrelationID)
	}
	if len(cfg.Settings) != 3 {
		t.Fatalf("expected 3 settings, got %d", len(cfg.Settings))
	}
	if !cfg.Settings[1].RetryInFinalize {
		t.Error("expected Ueba to opt into finalize retry")
	}
	if cfg.Store.Path != "/var/lib/castellan/journal.db" {
		t.Errorf("unexpected store path: %s", cfg.Store.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("unexpected log level: %s", cfg.Logging.Level)
	}
}

func TestLoaderDefaults(t *testing.T) {
	loader := NewLoader()

	minimal := `
remote:
  base_url: https://management.example.com
deployment:
  correlation_id: deploy-tag-1
  scope: /subscriptions/s1
`
	cfg, err := loader.Parse(context.Background(), []byte(minimal))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Remote.Timeout.Std() != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %s", cfg.Remote.Timeout.Std())
	}
	if cfg.Store.Path != "castellan.db" {
		t.Errorf("expected default store path, got %s", cfg.Store.Path)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Errorf("expected default logging, got %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}
	if cfg.Telemetry.Tracing.Exporter != "none" {
		t.Errorf("expected default tracing exporter none, got %s", cfg.Telemetry.Tracing.Exporter)
	}
}

func TestLoaderRejectsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		document string
		wantErr  string
	}{
		{
			name: "missing correlation id",
			document: `
remote:
  base_url: https://management.example.com
deployment:
  scope: /subscriptions/s1
`,
			wantErr: "CorrelationID",
		},
		{
			name: "relative scope",
			document: `
remote:
  base_url: https://management.example.com
deployment:
  correlation_id: deploy-tag-1
  scope: subscriptions/s1
`,
			wantErr: "Scope",
		},
		{
			name: "unknown setting kind",
			document: `
remote:
  base_url: https://management.example.com
deployment:
  correlation_id: deploy-tag-1
  scope: /subscriptions/s1
settings:
  - kind: Watchlist
    name: vips
    enabled: true
`,
			wantErr: "Kind",
		},
		{
			name: "bad duration",
			document: `
remote:
  base_url: https://management.example.com
  timeout: soon
deployment:
  correlation_id: deploy-tag-1
  scope: /subscriptions/s1
`,
			wantErr: "duration",
		},
		{
			name: "unknown field",
			document: `
remote:
  base_url: https://management.example.com
deployment:
  correlation_id: deploy-tag-1
  scope: /subscriptions/s1
workspace: prod
`,
			wantErr: "not found",
		},
	}

	loader := NewLoader()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Parse(context.Background(), []byte(tt.document))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoaderEnvOverrides(t *testing.T) {
	t.Setenv(EnvCorrelationID, "deploy-tag-env")
	t.Setenv(EnvStorePath, "/tmp/override.db")

	loader := NewLoader()
	minimal := `
remote:
  base_url: https://management.example.com
deployment:
  correlation_id: deploy-tag-file
  scope: /subscriptions/s1
`
	cfg, err := loader.Parse(context.Background(), []byte(minimal))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Deployment.CorrelationID != "deploy-tag-env" {
		t.Errorf("expected env override, got %s", cfg.Deployment.CorrelationID)
	}
	if cfg.Store.Path != "/tmp/override.db" {
		t.Errorf("expected store path override, got %s", cfg.Store.Path)
	}
}

func TestLoaderLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy.yaml")
	if err := os.WriteFile(path, []byte(validDocument), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	loader := NewLoader()
	cfg, err := loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Deployment.Scope != "/subscriptions/s1/resourceGroups/rg1" {
		t.Errorf("unexpected scope: %s", cfg.Deployment.Scope)
	}

	if _, err := loader.Load(context.Background(), filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestToRequest(t *testing.T) {
	loader := NewLoader()
	cfg, err := loader.Parse(context.Background(), []byte(validDocument))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	req, err := cfg.ToRequest()
	if err != nil {
		t.Fatalf("ToRequest failed: %v", err)
	}

	if req.CorrelationID != "deploy-tag-1234" {
		t.Errorf("unexpected correlation ID: %s", req.CorrelationID)
	}
	if len(req.Settings) != 3 {
		t.Fatalf("expected 3 settings, got %d", len(req.Settings))
	}

	connector := req.Settings[2]
	if connector.Kind != reconcile.KindDataConnector {
		t.Errorf("expected data connector kind, got %s", connector.Kind)
	}
	if connector.Ref.Kind != "dataConnectors" {
		t.Errorf("expected dataConnectors collection, got %s", connector.Ref.Kind)
	}
	if !strings.Contains(string(connector.Payload), `"state":"enabled"`) {
		t.Errorf("unexpected connector payload: %s", connector.Payload)
	}

	// Settings without payloads get an empty object, never null.
	if string(req.Settings[0].Payload) != "{}" {
		t.Errorf("expected empty payload object, got %s", req.Settings[0].Payload)
	}

	if !req.Overrides.BindDuringAutomations {
		t.Error("expected early binding override to carry through")
	}
	if len(req.AutomationNames) != 2 || req.AutomationNames[0] != "isolate-host" {
		t.Errorf("unexpected automation names: %v", req.AutomationNames)
	}
}
