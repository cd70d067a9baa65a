package rules

import "sync"

// RuleKind distinguishes the two supported detection rule variants.
type RuleKind string

const (
	// KindScheduled rules run on an explicit query frequency and window.
	KindScheduled RuleKind = "Scheduled"

	// KindNRT rules are evaluated in near real time; they carry no schedule
	// fields.
	KindNRT RuleKind = "NRT"
)

// EntityMapping ties query output columns to a recognized entity type.
type EntityMapping struct {
	EntityType string         `json:"entityType" validate:"required"`
	Fields     []FieldMapping `json:"fieldMappings" validate:"required,min=1,dive"`
}

// FieldMapping maps one query column to an entity identifier.
type FieldMapping struct {
	Identifier string `json:"identifier" validate:"required"`
	Column     string `json:"columnName" validate:"required"`
}

// RuleDefinition is one declarative detection rule from the manifest.
// Definitions are read-only to this subsystem.
type RuleDefinition struct {
	// ID is the stable rule identifier, used as the remote resource name so
	// repeated deployments converge on the same object.
	ID string `json:"id" validate:"required"`

	// Name is the display name.
	Name string `json:"name" validate:"required"`

	// Kind selects the payload variant.
	Kind RuleKind `json:"kind" validate:"required,oneof=Scheduled NRT"`

	// Enabled controls whether the rule starts active.
	Enabled bool `json:"enabled"`

	// Severity is the alert severity (Informational, Low, Medium, High).
	Severity string `json:"severity" validate:"required,oneof=Informational Low Medium High"`

	// Query is the detection query body.
	Query string `json:"query" validate:"required"`

	// QueryFrequency is how often a Scheduled rule runs (ISO-8601 duration).
	QueryFrequency string `json:"queryFrequency,omitempty"`

	// QueryPeriod is the lookback window of a Scheduled rule.
	QueryPeriod string `json:"queryPeriod,omitempty"`

	// TriggerOperator compares result count to the threshold.
	TriggerOperator string `json:"triggerOperator,omitempty"`

	// TriggerThreshold is the result-count threshold.
	TriggerThreshold int `json:"triggerThreshold,omitempty"`

	// Tactics are the framework tactics the rule covers.
	Tactics []string `json:"tactics,omitempty"`

	// Techniques are the framework technique identifiers.
	Techniques []string `json:"techniques,omitempty"`

	// EntityMappings tie query columns to entities.
	EntityMappings []EntityMapping `json:"entityMappings,omitempty"`
}

// Manifest is the externally supplied document describing the rules to apply.
type Manifest struct {
	// RuleCount is the declared number of rules, cross-checked after parse.
	RuleCount int `json:"ruleCount" validate:"min=0"`

	// Rules are the definitions, applied in manifest order.
	Rules []RuleDefinition `json:"rules" validate:"dive"`
}

// DeploymentOutcome is the per-rule terminal result.
type DeploymentOutcome string

const (
	// OutcomeCreated means the rule was created.
	OutcomeCreated DeploymentOutcome = "created"

	// OutcomeSkippedExisting means a rule with this name already exists.
	// Existing rules are never updated, so operator tuning survives
	// redeployment.
	OutcomeSkippedExisting DeploymentOutcome = "skipped-existing"

	// OutcomeSkippedMissingDependency means the rule references an upstream
	// table or connector that has not ingested data yet. Expected; a later
	// re-invocation picks the rule up.
	OutcomeSkippedMissingDependency DeploymentOutcome = "skipped-missing-dependency"

	// OutcomeError is any other creation failure. Recorded, never escalated:
	// one broken rule must not block unrelated rules.
	OutcomeError DeploymentOutcome = "error"
)

// Result is the outcome for one rule.
type Result struct {
	RuleID  string            `json:"rule_id"`
	Outcome DeploymentOutcome `json:"outcome"`
	Message string            `json:"message,omitempty"`
}

// Summary aggregates per-rule results. Created+Skipped+Errors always equals
// Total once every rule has resolved.
type Summary struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`

	// Results holds the per-rule outcomes in manifest order.
	Results []Result `json:"results"`
}

// accumulator collects results from the worker pool. Workers share it, so
// every update goes through the mutex.
type accumulator struct {
	mu      sync.Mutex
	summary Summary
}

func newAccumulator(total int) *accumulator {
	return &accumulator{
		summary: Summary{
			Total:   total,
			Results: make([]Result, total),
		},
	}
}

// record stores the result at its manifest position and bumps the matching
// counter.
func (a *accumulator) record(index int, result Result) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.summary.Results[index] = result
	switch result.Outcome {
	case OutcomeCreated:
		a.summary.Created++
	case OutcomeSkippedExisting, OutcomeSkippedMissingDependency:
		a.summary.Skipped++
	case OutcomeError:
		a.summary.Errors++
	}
}

func (a *accumulator) snapshot() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summary
}
