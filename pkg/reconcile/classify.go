package reconcile

import (
	"fmt"
	"regexp"
	"strings"
)

// Classification is the application-level reading of a refused write.
type Classification struct {
	// Status is the outcome the refusal maps to.
	Status OutcomeStatus

	// Detail is the specific reason, surfaced to operators.
	Detail string

	// MissingDependency names the prerequisite setting, when the refusal was
	// a missing-dependency error.
	MissingDependency string
}

// Classifier maps a non-2xx write response to an outcome. The remote API
// exposes no stable machine-readable error taxonomy, so classification works
// on response text. Keeping it behind an interface lets the matching rules be
// tested against captured response fixtures without a live remote.
type Classifier interface {
	Classify(statusCode int, body []byte) Classification
}

// bodyRule matches when every fragment occurs in the lowercased body.
// Fragment sets rather than full phrases absorb the remote's wording drift
// between API versions.
type bodyRule struct {
	fragments []string
	status    OutcomeStatus
	detail    string
}

func (r bodyRule) matches(body string) bool {
	for _, fragment := range r.fragments {
		if !strings.Contains(body, fragment) {
			return false
		}
	}
	return true
}

// requiresPattern extracts the dependency name from refusals of the form
// "requires 'EntityAnalytics' to be enabled".
var requiresPattern = regexp.MustCompile(`requires '([^']+)' to be enabled`)

// RuleClassifier is the default Classifier. Rules are evaluated in
// precedence order and the first match wins: permission refusals before
// managed-elsewhere refusals before already-exists, so that a body
// mentioning several conditions resolves to the most actionable one.
type RuleClassifier struct {
	permissionRules []bodyRule
	managedRules    []bodyRule
	existsRules     []bodyRule
}

var _ Classifier = (*RuleClassifier)(nil)

// NewRuleClassifier builds the classifier with the known response signatures.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{
		permissionRules: []bodyRule{
			{fragments: []string{"only 'security administrator'"}, status: StatusSkippedPermission,
				detail: "setting is writable only by a security administrator"},
			{fragments: []string{"does not have required admin roles"}, status: StatusSkippedPermission,
				detail: "acting identity lacks required admin roles"},
			{fragments: []string{"unauthorized"}, status: StatusSkippedPermission,
				detail: "acting identity is not authorized for this write"},
		},
		managedRules: []bodyRule{
			{fragments: []string{"changes", "disabled"}, status: StatusSkippedManagedElsewhere,
				detail: "changes to this setting are disabled by the owning management plane"},
			{fragments: []string{"primary", "workspace"}, status: StatusSkippedManagedElsewhere,
				detail: "setting is managed through the primary workspace"},
			{fragments: []string{"threat protection portal"}, status: StatusSkippedManagedElsewhere,
				detail: "setting is managed through the threat protection portal"},
		},
		existsRules: []bodyRule{
			{fragments: []string{"already exists"}, status: StatusSkippedExists,
				detail: "object already exists"},
		},
	}
}

// Classify maps a refused write to an outcome. Matching is case-insensitive
// substring matching over the response body; the status code only rides
// along in the detail of unclassified failures.
func (c *RuleClassifier) Classify(statusCode int, body []byte) Classification {
	lowered := strings.ToLower(string(body))

	for _, rule := range c.permissionRules {
		if rule.matches(lowered) {
			return Classification{Status: rule.status, Detail: rule.detail}
		}
	}
	for _, rule := range c.managedRules {
		if rule.matches(lowered) {
			return Classification{Status: rule.status, Detail: rule.detail}
		}
	}
	for _, rule := range c.existsRules {
		if rule.matches(lowered) {
			return Classification{Status: rule.status, Detail: rule.detail}
		}
	}

	if m := requiresPattern.FindStringSubmatch(lowered); m != nil {
		return Classification{
			Status:            StatusSkippedManagedElsewhere,
			Detail:            fmt.Sprintf("setting requires '%s' to be enabled first", m[1]),
			MissingDependency: m[1],
		}
	}

	return Classification{
		Status: StatusFailed,
		Detail: fmt.Sprintf("unclassified remote refusal (status %d): %s", statusCode, truncateBody(body)),
	}
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
