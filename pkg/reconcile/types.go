package reconcile

import (
	"encoding/json"

	"github.com/castellan-io/castellan/pkg/remote"
)

// SettingKind identifies which workspace setting or connector a
// DesiredSetting targets. The kind drives log attribution and the per-kind
// retry policy; the payload itself is opaque to this package.
type SettingKind string

const (
	KindEntityAnalytics   SettingKind = "EntityAnalytics"
	KindUeba              SettingKind = "Ueba"
	KindAnomalies         SettingKind = "Anomalies"
	KindDiagnosticSetting SettingKind = "DiagnosticSetting"
	KindDataConnector     SettingKind = "DataConnector"
)

// DesiredSetting declares the target state for one remote setting or
// connector. It is constructed once per deployment from static configuration
// plus the flags discovered during preflight, never mutated afterwards, and
// consumed exactly once by the reconciler.
type DesiredSetting struct {
	// Ref addresses the remote object.
	Ref remote.ResourceRef `json:"ref"`

	// Kind is the setting kind.
	Kind SettingKind `json:"kind"`

	// Payload is the desired body, treated as opaque JSON.
	Payload json.RawMessage `json:"payload"`

	// EnabledByPolicy reports whether deployment configuration wants this
	// setting deployed at all. Disabled settings are never written.
	EnabledByPolicy bool `json:"enabled_by_policy"`

	// SkipIfExists is flipped by the preflight probe when the object already
	// exists remotely; the reconciler then reports SkippedExists without
	// attempting a write.
	SkipIfExists bool `json:"skip_if_exists"`

	// RetryInFinalize marks the setting as eligible for one re-reconcile in
	// the finalize stage after a permission skip. Which kinds opt in is a
	// deployment configuration decision, not something inferred from stage
	// ordering.
	RetryInFinalize bool `json:"retry_in_finalize"`
}

// OutcomeStatus is the terminal status of one reconciliation.
type OutcomeStatus string

const (
	// StatusConfigured means the conditional write landed.
	StatusConfigured OutcomeStatus = "configured"

	// StatusSkippedExists means the object already exists and the desired
	// state treats that as done.
	StatusSkippedExists OutcomeStatus = "skipped-exists"

	// StatusSkippedPermission means the acting identity lacks the directory
	// privilege the write requires. Expected in restricted tenants.
	StatusSkippedPermission OutcomeStatus = "skipped-permission"

	// StatusSkippedManagedElsewhere means an authoritative external
	// management plane owns the object and forbids this write.
	StatusSkippedManagedElsewhere OutcomeStatus = "skipped-managed-elsewhere"

	// StatusFailed is an unclassified refusal. The only status that aborts
	// the enclosing stage.
	StatusFailed OutcomeStatus = "failed"
)

// IsSkip reports whether the status is a non-fatal skip.
func (s OutcomeStatus) IsSkip() bool {
	switch s {
	case StatusSkippedExists, StatusSkippedPermission, StatusSkippedManagedElsewhere:
		return true
	}
	return false
}

// Outcome is the terminal result of reconciling one DesiredSetting. Outcomes
// are never retried automatically; the pipeline's single stage retry is the
// one exception.
type Outcome struct {
	// Ref is the resource the outcome belongs to.
	Ref remote.ResourceRef `json:"ref"`

	// Kind is the setting kind, carried for log attribution.
	Kind SettingKind `json:"kind"`

	// Status is the terminal status.
	Status OutcomeStatus `json:"status"`

	// HTTPStatus is the remote status code when a write was attempted.
	HTTPStatus int `json:"http_status,omitempty"`

	// Detail carries the specific reason, so operators can tell "nothing to
	// do" apart from "lacking permission".
	Detail string `json:"detail,omitempty"`

	// MissingDependency names the setting this one requires, when the remote
	// refused the write for a missing prerequisite (UEBA requiring entity
	// analytics).
	MissingDependency string `json:"missing_dependency,omitempty"`
}
