package pipeline

import (
	"time"

	"github.com/castellan-io/castellan/pkg/automation"
	"github.com/castellan-io/castellan/pkg/principal"
	"github.com/castellan-io/castellan/pkg/reconcile"
	"github.com/castellan-io/castellan/pkg/rules"
)

// Stage identifies a pipeline stage.
type Stage string

const (
	// StagePreflightProbe resolves the target workspace and probes which
	// desired settings already exist.
	StagePreflightProbe Stage = "preflight-probe"

	// StageInfrastructure reconciles every non-skipped setting and connector.
	StageInfrastructure Stage = "infrastructure"

	// StageResponseAutomations provisions response-automation definitions.
	StageResponseAutomations Stage = "response-automations"

	// StageContent deploys the rule manifest.
	StageContent Stage = "content"

	// StageFinalizeAutomationRoles re-runs principal discovery and role
	// binding, decoupled from the rest of the pipeline.
	StageFinalizeAutomationRoles Stage = "finalize-automation-roles"
)

// StageStatus is the terminal status of a single stage.
type StageStatus string

const (
	// StageSucceeded means the stage completed with no item errors.
	StageSucceeded StageStatus = "succeeded"

	// StagePartial means the stage completed but some items failed or were
	// left unbound.
	StagePartial StageStatus = "partial"

	// StageFailed means the stage aborted.
	StageFailed StageStatus = "failed"

	// StageSkipped means the stage never ran because an earlier stage was
	// fatal or the deployment was aborted.
	StageSkipped StageStatus = "skipped"
)

// FinalOutcome is the terminal outcome of a deployment.
type FinalOutcome string

const (
	// OutcomeSuccess means every stage succeeded.
	OutcomeSuccess FinalOutcome = "success"

	// OutcomePartialFailure means the pipeline ran to completion but some
	// stage reported item-level failures.
	OutcomePartialFailure FinalOutcome = "partial-failure"

	// OutcomeFatal means the pipeline aborted before completion.
	OutcomeFatal FinalOutcome = "fatal"
)

// Request describes one desired deployment.
type Request struct {
	// CorrelationID identifies the target workspace in the remote service.
	// The preflight stage resolves it to a concrete workspace path.
	CorrelationID string `json:"correlation_id"`

	// Scope is the permission scope deployments and role bindings target.
	Scope string `json:"scope"`

	// ManifestURL is where the Content stage fetches the rule manifest from.
	// Empty skips the Content stage.
	ManifestURL string `json:"manifest_url,omitempty"`

	// Settings is the desired infrastructure state, in apply order.
	Settings []reconcile.DesiredSetting `json:"settings"`

	// AutomationNames are the logical names of the response automations to
	// provision. Empty skips the ResponseAutomations stage.
	AutomationNames []string `json:"automation_names,omitempty"`

	// RoleDefinitionIDs are the roles bound to the automation principal
	// during finalization.
	RoleDefinitionIDs []string `json:"role_definition_ids,omitempty"`

	// Overrides adjusts discovery and binding behavior.
	Overrides Overrides `json:"overrides,omitempty"`
}

// Overrides carries operator-supplied deviations from discovery.
type Overrides struct {
	// PrincipalID short-circuits principal discovery when set.
	PrincipalID string `json:"principal_id,omitempty"`

	// BindDuringAutomations also attempts role binding inside the
	// ResponseAutomations stage instead of waiting for finalization.
	BindDuringAutomations bool `json:"bind_during_automations,omitempty"`
}

// StageResult records one stage execution.
type StageResult struct {
	// Stage names the stage.
	Stage Stage `json:"stage"`

	// Status is the stage's terminal status.
	Status StageStatus `json:"status"`

	// Retried is true when the stage ran a second time after the
	// primary-workspace conflict.
	Retried bool `json:"retried,omitempty"`

	// Detail explains a failed or partial status.
	Detail string `json:"detail,omitempty"`

	// Outcomes are per-setting reconcile outcomes (Infrastructure only).
	Outcomes []reconcile.Outcome `json:"outcomes,omitempty"`

	// Automations are per-item provisioning states (ResponseAutomations only).
	Automations []automation.ItemResult `json:"automations,omitempty"`

	// Bindings are the role bindings ensured during finalization.
	Bindings []principal.Binding `json:"bindings,omitempty"`

	// Duration is the stage's wall-clock duration.
	Duration time.Duration `json:"duration"`
}

// Result is what a deployment returns to its caller.
type Result struct {
	// DeploymentID uniquely identifies this deployment run.
	DeploymentID string `json:"deployment_id"`

	// CorrelationID and Scope echo the request.
	CorrelationID string `json:"correlation_id,omitempty"`
	Scope         string `json:"scope"`

	// WorkspacePath is the workspace resolved during preflight.
	WorkspacePath string `json:"workspace_path,omitempty"`

	// StageResults are the per-stage records, in execution order.
	StageResults []StageResult `json:"stage_results"`

	// ManifestSummary is the Content stage's rule deployment summary.
	ManifestSummary *rules.Summary `json:"manifest_summary,omitempty"`

	// FinalOutcome is the deployment's terminal outcome.
	FinalOutcome FinalOutcome `json:"final_outcome"`

	// StartedAt and FinishedAt bound the deployment.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// StageResultFor returns the recorded result for a stage, or nil when the
// stage has not run.
func (r *Result) StageResultFor(stage Stage) *StageResult {
	for i := range r.StageResults {
		if r.StageResults[i].Stage == stage {
			return &r.StageResults[i]
		}
	}
	return nil
}
