package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/castellan-io/castellan/pkg/rules"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func scheduledRule(id string) rules.RuleDefinition {
	return rules.RuleDefinition{
		ID:              id,
		Name:            "Suspicious sign-in burst",
		Kind:            rules.KindScheduled,
		Enabled:         true,
		Severity:        "Medium",
		Query:           "SigninLogs | where ResultType != 0",
		QueryFrequency:  "PT1H",
		QueryPeriod:     "PT1H",
		TriggerOperator: "GreaterThan",
	}
}

func TestNewEngine(t *testing.T) {
	eng := testEngine(t)

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"rule-severity",
		"scheduled-rule-window",
		"nrt-rule-restrictions",
		"high-severity-entities",
		"role-binding-scope",
		"manifest-integrity",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluateRule(t *testing.T) {
	eng := testEngine(t)

	tests := []struct {
		name            string
		mutate          func(*rules.RuleDefinition)
		expectAllowed   bool
		expectViolation bool
	}{
		{
			name:            "valid scheduled rule",
			mutate:          func(r *rules.RuleDefinition) {},
			expectAllowed:   true,
			expectViolation: false,
		},
		{
			name: "unsupported severity",
			mutate: func(r *rules.RuleDefinition) {
				r.Severity = "Critical"
			},
			expectAllowed:   false,
			expectViolation: true,
		},
		{
			name: "scheduled rule missing lookback period",
			mutate: func(r *rules.RuleDefinition) {
				r.QueryPeriod = ""
			},
			expectAllowed:   false,
			expectViolation: true,
		},
		{
			name: "scheduled rule missing trigger operator",
			mutate: func(r *rules.RuleDefinition) {
				r.TriggerOperator = ""
			},
			expectAllowed:   false,
			expectViolation: true,
		},
		{
			name: "nrt rule with schedule fields",
			mutate: func(r *rules.RuleDefinition) {
				r.Kind = rules.KindNRT
				r.QueryPeriod = ""
				r.TriggerOperator = ""
			},
			expectAllowed:   false,
			expectViolation: true,
		},
		{
			name: "valid nrt rule",
			mutate: func(r *rules.RuleDefinition) {
				r.Kind = rules.KindNRT
				r.QueryFrequency = ""
				r.QueryPeriod = ""
				r.TriggerOperator = ""
			},
			expectAllowed:   true,
			expectViolation: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := scheduledRule("rule-1")
			tt.mutate(&rule)

			result, err := eng.EvaluateRule(context.Background(), &rule)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v, violations: %+v",
					tt.expectAllowed, result.Allowed, result.Violations)
			}

			hasViolation := len(result.Violations) > 0
			if hasViolation != tt.expectViolation {
				t.Errorf("Expected violation=%v, got %v violations: %+v",
					tt.expectViolation, hasViolation, result.Violations)
			}
		})
	}
}

func TestEvaluateRule_HighSeverityWithoutEntitiesWarns(t *testing.T) {
	eng := testEngine(t)

	rule := scheduledRule("rule-high")
	rule.Severity = "High"

	result, err := eng.EvaluateRule(context.Background(), &rule)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	// A warning must surface but not block
	if !result.Allowed {
		t.Errorf("Expected warning not to block, violations: %+v", result.Violations)
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "high-severity-entities" && v.Severity == SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected high-severity-entities warning, got: %+v", result.Violations)
	}
}

func TestIsAllowedSeverityThreshold(t *testing.T) {
	tests := []struct {
		name       string
		violations []Violation
		want       bool
	}{
		{"no violations", nil, true},
		{"info only", []Violation{{Policy: "p", Severity: SeverityInfo}}, true},
		{"warning only", []Violation{{Policy: "p", Severity: SeverityWarning}}, true},
		{"error blocks", []Violation{{Policy: "p", Severity: SeverityError}}, false},
		{"critical blocks", []Violation{{Policy: "p", Severity: SeverityCritical}}, false},
		{"error among warnings", []Violation{
			{Policy: "a", Severity: SeverityWarning},
			{Policy: "b", Severity: SeverityError},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAllowed(tt.violations); got != tt.want {
				t.Errorf("isAllowed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateManifest(t *testing.T) {
	eng := testEngine(t)

	tests := []struct {
		name          string
		manifest      rules.Manifest
		expectAllowed bool
		expectPolicy  string
	}{
		{
			name: "valid manifest",
			manifest: rules.Manifest{
				RuleCount: 2,
				Rules: []rules.RuleDefinition{
					scheduledRule("rule-1"),
					scheduledRule("rule-2"),
				},
			},
			expectAllowed: true,
		},
		{
			name: "declared count mismatch",
			manifest: rules.Manifest{
				RuleCount: 3,
				Rules: []rules.RuleDefinition{
					scheduledRule("rule-1"),
					scheduledRule("rule-2"),
				},
			},
			expectAllowed: false,
			expectPolicy:  "manifest-integrity",
		},
		{
			name: "duplicate rule id",
			manifest: rules.Manifest{
				RuleCount: 2,
				Rules: []rules.RuleDefinition{
					scheduledRule("rule-1"),
					scheduledRule("rule-1"),
				},
			},
			expectAllowed: false,
			expectPolicy:  "manifest-integrity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluateManifest(context.Background(), &tt.manifest)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v, violations: %+v",
					tt.expectAllowed, result.Allowed, result.Violations)
			}

			if tt.expectPolicy != "" {
				found := false
				for _, v := range result.Violations {
					if v.Policy == tt.expectPolicy {
						found = true
					}
				}
				if !found {
					t.Errorf("Expected violation from %s, got: %+v", tt.expectPolicy, result.Violations)
				}
			}
		})
	}
}

func TestEvaluateBinding(t *testing.T) {
	eng := testEngine(t)

	tests := []struct {
		name          string
		roleID        string
		expectAllowed bool
	}{
		{
			name:          "contributor-level role",
			roleID:        "ab8e14d6-4a74-4a29-9ba8-549422addade",
			expectAllowed: true,
		},
		{
			name:          "owner role blocked",
			roleID:        "8e3af657-a8ff-443c-a75c-2fe8c4bcb635",
			expectAllowed: false,
		},
		{
			name:          "user access administrator blocked",
			roleID:        "18d7d88d-d35e-4fb5-a5c3-7773c20a72d9",
			expectAllowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluateBinding(context.Background(), "/subscriptions/sub-1/resourceGroups/rg-1", tt.roleID)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v, violations: %+v",
					tt.expectAllowed, result.Allowed, result.Violations)
			}
		})
	}
}

func TestDisablePolicy(t *testing.T) {
	eng := testEngine(t)

	if err := eng.DisablePolicy("rule-severity"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}

	rule := scheduledRule("rule-1")
	rule.Severity = "Critical"

	result, err := eng.EvaluateRule(context.Background(), &rule)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if !result.Allowed {
		t.Errorf("Expected disabled policy not to block, violations: %+v", result.Violations)
	}

	if err := eng.EnablePolicy("rule-severity"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}

	result, err = eng.EvaluateRule(context.Background(), &rule)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("Expected re-enabled policy to block again")
	}
}

func TestGetPolicy(t *testing.T) {
	eng := testEngine(t)

	p, err := eng.GetPolicy("role-binding-scope")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if p.Severity != SeverityCritical {
		t.Errorf("Expected critical severity, got %s", p.Severity)
	}

	if _, err := eng.GetPolicy("no-such-policy"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}
