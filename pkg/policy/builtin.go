package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		ruleSeverityPolicy(),
		scheduledRuleWindowPolicy(),
		nrtRuleRestrictionsPolicy(),
		highSeverityEntitiesPolicy(),
		roleBindingScopePolicy(),
		manifestIntegrityPolicy(),
	}
}

// ruleSeverityPolicy enforces that every detection rule carries a known severity.
func ruleSeverityPolicy() Policy {
	return Policy{
		Name:        "rule-severity",
		Description: "Detection rules must declare one of the supported alert severities",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"rules", "content"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package castellan.policies.severity

import rego.v1

allowed_severities := {"Informational", "Low", "Medium", "High"}

deny contains violation if {
	input.rule
	rule := input.rule
	not rule.severity
	violation := {
		"message": sprintf("Rule %s must declare a severity", [rule.id]),
		"severity": "error",
		"rule_id": rule.id,
	}
}

deny contains violation if {
	input.rule
	rule := input.rule
	rule.severity
	not allowed_severities[rule.severity]
	violation := {
		"message": sprintf("Rule %s has unsupported severity '%s'", [rule.id, rule.severity]),
		"severity": "error",
		"rule_id": rule.id,
	}
}
`,
	}
}

// scheduledRuleWindowPolicy requires scheduled rules to declare a full query window.
func scheduledRuleWindowPolicy() Policy {
	return Policy{
		Name:        "scheduled-rule-window",
		Description: "Scheduled rules must declare query frequency, lookback period, and trigger operator",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"rules", "schedule"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package castellan.policies.schedule

import rego.v1

required_fields := {"queryFrequency", "queryPeriod", "triggerOperator"}

deny contains violation if {
	input.rule
	rule := input.rule
	rule.kind == "Scheduled"
	some field in required_fields
	not rule[field]
	violation := {
		"message": sprintf("Scheduled rule %s is missing %s", [rule.id, field]),
		"severity": "error",
		"rule_id": rule.id,
	}
}
`,
	}
}

// nrtRuleRestrictionsPolicy rejects NRT rules that carry schedule fields the
// service would refuse.
func nrtRuleRestrictionsPolicy() Policy {
	return Policy{
		Name:        "nrt-rule-restrictions",
		Description: "NRT rules must not carry schedule fields",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"rules", "schedule"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package castellan.policies.nrt

import rego.v1

schedule_fields := {"queryFrequency", "queryPeriod", "triggerOperator"}

deny contains violation if {
	input.rule
	rule := input.rule
	rule.kind == "NRT"
	some field in schedule_fields
	rule[field]
	violation := {
		"message": sprintf("NRT rule %s must not set %s", [rule.id, field]),
		"severity": "error",
		"rule_id": rule.id,
	}
}
`,
	}
}

// highSeverityEntitiesPolicy warns when a High severity rule maps no entities,
// since its alerts cannot drive entity-based correlation.
func highSeverityEntitiesPolicy() Policy {
	return Policy{
		Name:        "high-severity-entities",
		Description: "High severity rules should map at least one entity",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"rules", "entities"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package castellan.policies.entities

import rego.v1

deny contains violation if {
	input.rule
	rule := input.rule
	rule.severity == "High"
	not rule.entityMappings
	violation := {
		"message": sprintf("High severity rule %s maps no entities", [rule.id]),
		"severity": "warning",
		"rule_id": rule.id,
	}
}
`,
	}
}

// roleBindingScopePolicy blocks role grants broader than the automation
// identity needs.
func roleBindingScopePolicy() Policy {
	return Policy{
		Name:        "role-binding-scope",
		Description: "The automation identity must not be granted owner-level roles",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"roles", "least-privilege"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package castellan.policies.roles

import rego.v1

# Owner and User Access Administrator built-in role definition IDs.
forbidden_roles := {
	"8e3af657-a8ff-443c-a75c-2fe8c4bcb635",
	"18d7d88d-d35e-4fb5-a5c3-7773c20a72d9",
}

deny contains violation if {
	input.role_definition_id
	forbidden_roles[input.role_definition_id]
	violation := {
		"message": sprintf("Role definition %s grants more than the automation identity needs", [input.role_definition_id]),
		"severity": "critical",
	}
}
`,
	}
}

// manifestIntegrityPolicy cross-checks the manifest's declared count and
// rejects duplicate rule identifiers.
func manifestIntegrityPolicy() Policy {
	return Policy{
		Name:        "manifest-integrity",
		Description: "Manifest rule count must match the rule list and rule IDs must be unique",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"manifest"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package castellan.policies.manifest

import rego.v1

deny contains violation if {
	input.manifest
	manifest := input.manifest
	manifest.ruleCount != count(manifest.rules)
	violation := {
		"message": sprintf("Manifest declares %d rules but contains %d", [manifest.ruleCount, count(manifest.rules)]),
		"severity": "error",
	}
}

deny contains violation if {
	input.manifest
	manifest := input.manifest
	some i, j
	manifest.rules[i].id == manifest.rules[j].id
	i < j
	violation := {
		"message": sprintf("Manifest contains duplicate rule id %s", [manifest.rules[i].id]),
		"severity": "error",
		"rule_id": manifest.rules[i].id,
	}
}
`,
	}
}
