package rules

import (
	"encoding/json"
	"fmt"
)

// defaultSuppression is the fixed suppression window stamped on every rule.
// The remote schema requires a suppression duration whenever suppression is
// referenced at all, so both fields are always emitted together even though
// suppression starts disabled.
const defaultSuppression = "PT5H"

// rulePayload is the wire shape of a detection rule resource.
type rulePayload struct {
	Kind       string         `json:"kind"`
	Properties ruleProperties `json:"properties"`
}

type ruleProperties struct {
	DisplayName           string          `json:"displayName"`
	Description           string          `json:"description,omitempty"`
	Enabled               bool            `json:"enabled"`
	Severity              string          `json:"severity"`
	Query                 string          `json:"query"`
	SuppressionDuration   string          `json:"suppressionDuration"`
	SuppressionEnabled    bool            `json:"suppressionEnabled"`
	QueryFrequency        string          `json:"queryFrequency,omitempty"`
	QueryPeriod           string          `json:"queryPeriod,omitempty"`
	TriggerOperator       string          `json:"triggerOperator,omitempty"`
	TriggerThreshold      *int            `json:"triggerThreshold,omitempty"`
	Tactics               []string        `json:"tactics,omitempty"`
	Techniques            []string        `json:"techniques,omitempty"`
	EntityMappings        []EntityMapping `json:"entityMappings,omitempty"`
}

// BuildPayload constructs the kind-specific creation payload for a rule.
// Scheduled rules carry the full schedule; NRT rules omit it and rely on the
// near-real-time evaluation the kind implies.
func BuildPayload(rule *RuleDefinition) (json.RawMessage, error) {
	props := ruleProperties{
		DisplayName:         rule.Name,
		Enabled:             rule.Enabled,
		Severity:            rule.Severity,
		Query:               rule.Query,
		SuppressionDuration: defaultSuppression,
		SuppressionEnabled:  false,
		Tactics:             rule.Tactics,
		Techniques:          rule.Techniques,
		EntityMappings:      rule.EntityMappings,
	}

	switch rule.Kind {
	case KindScheduled:
		threshold := rule.TriggerThreshold
		props.QueryFrequency = rule.QueryFrequency
		props.QueryPeriod = rule.QueryPeriod
		props.TriggerOperator = rule.TriggerOperator
		props.TriggerThreshold = &threshold
	case KindNRT:
	default:
		return nil, fmt.Errorf("unsupported rule kind %q", rule.Kind)
	}

	payload, err := json.Marshal(rulePayload{
		Kind:       string(rule.Kind),
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("encode rule payload: %w", err)
	}
	return payload, nil
}
