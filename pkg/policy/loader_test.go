package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const customRego = `package castellan.policies.custom

# Blocks rules that query the audit table directly

import rego.v1

deny contains violation if {
	input.rule
	contains(input.rule.query, "AuditLogs")
	violation := {
		"message": sprintf("Rule %s must not query AuditLogs directly", [input.rule.id]),
		"severity": "error",
		"rule_id": input.rule.id,
	}
}
`

func TestLoadFromFile_Rego(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "no-audit-queries.rego")

	if err := os.WriteFile(policyFile, []byte(customRego), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "no-audit-queries" {
		t.Errorf("Expected name 'no-audit-queries', got '%s'", policy.Name)
	}

	if policy.Rego != customRego {
		t.Error("Rego content doesn't match")
	}

	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}

	if policy.Description == "" {
		t.Error("Expected description extracted from leading comment")
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "custom.json")

	policy := Policy{
		Name:        "custom-json-policy",
		Description: "A custom policy",
		Rego:        "package castellan.policies.custom\ndeny[msg] { false }",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"custom"},
	}

	data, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}

	if err := os.WriteFile(policyFile, data, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if loaded.Name != policy.Name {
		t.Errorf("Expected name '%s', got '%s'", policy.Name, loaded.Name)
	}

	if loaded.Severity != policy.Severity {
		t.Errorf("Expected severity '%s', got '%s'", policy.Severity, loaded.Severity)
	}
}

func TestLoadFromDirectory(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	nested := filepath.Join(tmpDir, "extra")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("Failed to create nested dir: %v", err)
	}

	files := map[string]string{
		filepath.Join(tmpDir, "first.rego"):   customRego,
		filepath.Join(nested, "second.rego"):  customRego,
		filepath.Join(tmpDir, "ignored.yaml"): "not: a policy",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
	}

	policies, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}

	if len(policies) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(policies))
	}
}

func TestLoadedPolicyGatesRules(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "no-audit-queries.rego")
	if err := os.WriteFile(policyFile, []byte(customRego), 0644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{tmpDir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	rule := scheduledRule("rule-audit")
	rule.Query = "AuditLogs | take 10"

	result, err := eng.EvaluateRule(context.Background(), &rule)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Errorf("Expected custom policy to block, violations: %+v", result.Violations)
	}
}

func TestExtractDescription(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "single comment",
			content:  "# Blocks something\npackage p\n",
			expected: "Blocks something",
		},
		{
			name:     "multiple comment lines",
			content:  "# First line\n# second line\npackage p\n",
			expected: "First line second line",
		},
		{
			name:     "no comments",
			content:  "package p\n",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := loader.extractDescription(tt.content)
			if got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestClearCache(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "cached.rego")
	if err := os.WriteFile(policyFile, []byte(customRego), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	if _, err := loader.loadFromFile(context.Background(), policyFile); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	loader.ClearCache()

	loader.mu.RLock()
	size := len(loader.cache)
	loader.mu.RUnlock()

	if size != 0 {
		t.Errorf("Expected empty cache, got %d entries", size)
	}
}

func TestReloadRecompilesEngine(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "no-audit-queries.rego")
	if err := os.WriteFile(policyFile, []byte(customRego), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	ctx := context.Background()
	paths := []string{tmpDir}
	reload := func(policies []Policy) error {
		return eng.ReplacePolicies(ctx, policies)
	}

	if err := loader.triggerReload(ctx, paths, reload); err != nil {
		t.Fatalf("Initial reload failed: %v", err)
	}
	if _, err := eng.GetPolicy("no-audit-queries"); err != nil {
		t.Fatalf("Expected custom policy after reload: %v", err)
	}

	// Swap the policy file on disk the way an operator would, then reload
	// again. The engine must pick up the new file and drop the old one.
	replacement := strings.Replace(customRego, "castellan.policies.custom", "castellan.policies.tablescans", 1)
	replacementFile := filepath.Join(tmpDir, "no-table-scans.rego")
	if err := os.WriteFile(replacementFile, []byte(replacement), 0644); err != nil {
		t.Fatalf("Failed to write replacement file: %v", err)
	}
	if err := os.Remove(policyFile); err != nil {
		t.Fatalf("Failed to remove original file: %v", err)
	}
	loader.ClearCache()

	if err := loader.triggerReload(ctx, paths, reload); err != nil {
		t.Fatalf("Second reload failed: %v", err)
	}

	if _, err := eng.GetPolicy("no-table-scans"); err != nil {
		t.Errorf("Expected replacement policy after reload: %v", err)
	}
	if _, err := eng.GetPolicy("no-audit-queries"); err == nil {
		t.Error("Expected removed policy to be dropped on reload")
	}
	if _, err := eng.GetPolicy("rule-severity"); err != nil {
		t.Errorf("Expected built-in policy to survive reload: %v", err)
	}
}

func TestWatchPicksUpNewPolicyFile(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 1)
	err := loader.Watch(ctx, []string{tmpDir}, func(policies []Policy) error {
		select {
		case reloaded <- policies:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer loader.StopWatching()

	policyFile := filepath.Join(tmpDir, "no-audit-queries.rego")
	if err := os.WriteFile(policyFile, []byte(customRego), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	select {
	case policies := <-reloaded:
		found := false
		for _, p := range policies {
			if p.Name == "no-audit-queries" {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected reloaded set to contain the new policy, got %d policies", len(policies))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the watcher to reload")
	}
}

func TestLoadFromPath_NonExistent(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	if _, err := loader.LoadFromPaths(context.Background(), []string{"/no/such/path"}); err == nil {
		t.Error("Expected error for non-existent path")
	}
}
