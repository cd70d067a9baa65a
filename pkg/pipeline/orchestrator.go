package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/castellan-io/castellan/pkg/automation"
	"github.com/castellan-io/castellan/pkg/policy"
	"github.com/castellan-io/castellan/pkg/principal"
	"github.com/castellan-io/castellan/pkg/reconcile"
	"github.com/castellan-io/castellan/pkg/remote"
	"github.com/castellan-io/castellan/pkg/rules"
	"github.com/castellan-io/castellan/pkg/telemetry"
)

// SettingReconciler is the reconcile surface the pipeline drives.
type SettingReconciler interface {
	Apply(ctx context.Context, setting reconcile.DesiredSetting) (*reconcile.Outcome, error)
	Probe(ctx context.Context, ref remote.ResourceRef) (bool, error)
}

// PrincipalDiscoverer resolves the automation principal.
type PrincipalDiscoverer interface {
	Discover(ctx context.Context, overrideID string) (principal.Discovery, error)
}

// RoleBinder ensures role bindings at a scope.
type RoleBinder interface {
	EnsureBinding(ctx context.Context, principalID, roleID, scope string) (*principal.Binding, error)
}

// ContentDeployer pushes a rule manifest into a workspace.
type ContentDeployer interface {
	Deploy(ctx context.Context, manifest *rules.Manifest, scope string) (*rules.Summary, error)
}

// ManifestFetcher retrieves a manifest document.
type ManifestFetcher func(ctx context.Context, url string) (*rules.Manifest, error)

// Gate is the policy surface consulted before content pushes and role
// bindings. A nil gate means no policy enforcement.
type Gate interface {
	EvaluateManifest(ctx context.Context, manifest *rules.Manifest) (*policy.Result, error)
	EvaluateBinding(ctx context.Context, scope, roleDefinitionID string) (*policy.Result, error)
}

// Recorder persists deployment history. A nil recorder means no journal.
type Recorder interface {
	DeploymentStarted(ctx context.Context, result *Result) error
	StageFinished(ctx context.Context, deploymentID string, sr StageResult) error
	DeploymentFinished(ctx context.Context, result *Result) error
}

// Config wires the orchestrator's collaborators. Reconciler, Discoverer,
// Binder, Automations and Content are required; the rest are optional.
type Config struct {
	Reconciler  SettingReconciler
	Discoverer  PrincipalDiscoverer
	Binder      RoleBinder
	Automations automation.Deployer
	Content     ContentDeployer

	// FetchManifest defaults to rules.FetchManifest when nil.
	FetchManifest ManifestFetcher

	Gate     Gate
	Recorder Recorder
	Locator  WorkspaceLocator
	Metrics  *telemetry.Metrics
	Events   *telemetry.EventPublisher
	Logger   zerolog.Logger
}

// Orchestrator runs deployments through the five-stage pipeline. Stages are
// strictly sequential and each stage's output is threaded to the next; abort
// is honored between stages only, never mid-stage, so a reconcile pass is
// never left half-applied.
type Orchestrator struct {
	cfg    Config
	logger zerolog.Logger
}

// NewOrchestrator validates required collaborators and builds an orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Reconciler == nil:
		return nil, fmt.Errorf("pipeline: reconciler is required")
	case cfg.Discoverer == nil:
		return nil, fmt.Errorf("pipeline: discoverer is required")
	case cfg.Binder == nil:
		return nil, fmt.Errorf("pipeline: binder is required")
	case cfg.Automations == nil:
		return nil, fmt.Errorf("pipeline: automation deployer is required")
	case cfg.Content == nil:
		return nil, fmt.Errorf("pipeline: content deployer is required")
	}
	if cfg.FetchManifest == nil {
		cfg.FetchManifest = rules.FetchManifest
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// Deploy runs one deployment end to end. The returned Result is always
// non-nil; the error is non-nil only when the deployment ended Fatal.
func (o *Orchestrator) Deploy(ctx context.Context, req Request) (*Result, error) {
	result := &Result{
		DeploymentID:  uuid.New().String(),
		CorrelationID: req.CorrelationID,
		Scope:         req.Scope,
		StartedAt:     time.Now().UTC(),
		FinalOutcome:  OutcomeFatal,
	}
	log := o.logger.With().
		Str("deployment_id", result.DeploymentID).
		Str("scope", req.Scope).
		Logger()
	log.Info().
		Str("correlation_id", req.CorrelationID).
		Int("settings", len(req.Settings)).
		Msg("deployment started")

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordDeploymentStarted(req.Scope)
	}
	if o.cfg.Events != nil {
		o.cfg.Events.PublishDeploymentStarted(result.DeploymentID, req.Scope)
	}
	if o.cfg.Recorder != nil {
		if err := o.cfg.Recorder.DeploymentStarted(ctx, result); err != nil {
			log.Warn().Err(err).Msg("journal write failed")
		}
	}

	plan := newStagePlan(req)

	sr := o.runStage(ctx, result, StagePreflightProbe, func(ctx context.Context) StageResult {
		return o.preflight(ctx, req, plan, result)
	})
	if sr.Status == StageFailed {
		return o.fatal(ctx, result, sr,
			StageInfrastructure, StageResponseAutomations, StageContent, StageFinalizeAutomationRoles)
	}
	if ctx.Err() != nil {
		return o.aborted(ctx, result,
			StageInfrastructure, StageResponseAutomations, StageContent, StageFinalizeAutomationRoles)
	}

	sr = o.runStage(ctx, result, StageInfrastructure, func(ctx context.Context) StageResult {
		return o.infrastructure(ctx, plan, result.DeploymentID)
	})
	if sr.Status == StageFailed {
		return o.fatal(ctx, result, sr,
			StageResponseAutomations, StageContent, StageFinalizeAutomationRoles)
	}
	if ctx.Err() != nil {
		return o.aborted(ctx, result,
			StageResponseAutomations, StageContent, StageFinalizeAutomationRoles)
	}

	o.runStage(ctx, result, StageResponseAutomations, func(ctx context.Context) StageResult {
		return o.responseAutomations(ctx, req, plan, result.DeploymentID)
	})
	if ctx.Err() != nil {
		return o.aborted(ctx, result, StageContent, StageFinalizeAutomationRoles)
	}

	o.runStage(ctx, result, StageContent, func(ctx context.Context) StageResult {
		return o.content(ctx, req, plan, result)
	})
	if ctx.Err() != nil {
		return o.aborted(ctx, result, StageFinalizeAutomationRoles)
	}

	o.runStage(ctx, result, StageFinalizeAutomationRoles, func(ctx context.Context) StageResult {
		return o.finalize(ctx, req, plan, result.DeploymentID)
	})

	o.finish(ctx, result, computeOutcome(result), "")
	return result, nil
}

type stageFunc func(ctx context.Context) StageResult

// runStage executes one stage and records its result, duration, journal
// entry, metrics and events.
func (o *Orchestrator) runStage(ctx context.Context, result *Result, stage Stage, fn stageFunc) StageResult {
	if o.cfg.Events != nil {
		o.cfg.Events.PublishStageStarted(result.DeploymentID, string(stage))
	}
	started := time.Now()
	sr := fn(ctx)
	sr.Stage = stage
	sr.Duration = time.Since(started)
	result.StageResults = append(result.StageResults, sr)

	log := o.logger.With().
		Str("deployment_id", result.DeploymentID).
		Str("stage", string(stage)).
		Logger()
	switch sr.Status {
	case StageFailed:
		log.Error().Str("detail", sr.Detail).Dur("duration", sr.Duration).Msg("stage failed")
	case StagePartial:
		log.Warn().Str("detail", sr.Detail).Dur("duration", sr.Duration).Msg("stage completed with errors")
	default:
		log.Info().Dur("duration", sr.Duration).Msg("stage completed")
	}

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordStageExecution(string(stage), string(sr.Status), sr.Duration)
	}
	if o.cfg.Events != nil {
		if sr.Status == StageFailed {
			o.cfg.Events.PublishStageFailed(result.DeploymentID, string(stage), sr.Detail)
		} else {
			o.cfg.Events.PublishStageCompleted(result.DeploymentID, string(stage), sr.Duration)
		}
	}
	if o.cfg.Recorder != nil {
		if err := o.cfg.Recorder.StageFinished(ctx, result.DeploymentID, sr); err != nil {
			log.Warn().Err(err).Msg("journal write failed")
		}
	}
	return sr
}

// preflight resolves the workspace and flips skip flags for settings that
// already exist. Probing first is cheaper than attempting a conditional
// create and classifying the resulting conflict.
func (o *Orchestrator) preflight(ctx context.Context, req Request, plan *stagePlan, result *Result) StageResult {
	if o.cfg.Locator != nil && req.CorrelationID != "" {
		path, err := o.cfg.Locator.Locate(ctx, req.CorrelationID)
		if err != nil {
			return StageResult{Status: StageFailed, Detail: err.Error()}
		}
		plan.rebase(path)
	} else {
		plan.rebase(req.Scope)
	}
	result.WorkspacePath = plan.workspacePath

	for i := range plan.settings {
		s := &plan.settings[i]
		exists, err := o.cfg.Reconciler.Probe(ctx, s.Ref)
		if err != nil {
			return StageResult{
				Status: StageFailed,
				Detail: fmt.Sprintf("probing %s: %v", s.Ref.Path(), err),
			}
		}
		if exists && !s.SkipIfExists {
			s.SkipIfExists = true
			o.logger.Debug().
				Str("resource", s.Ref.Path()).
				Msg("existing object found during preflight, deployment will skip it")
		}
	}
	return StageResult{Status: StageSucceeded}
}

// infrastructure reconciles every active setting in order. A data-connector
// refusal matching the primary-workspace signature triggers exactly one
// whole-stage retry with that connector forced off; any further occurrence
// of the signature is fatal and surfaces the full refusal.
func (o *Orchestrator) infrastructure(ctx context.Context, plan *stagePlan, deploymentID string) StageResult {
	retried := false
	for {
		outcomes, failed := o.applyAll(ctx, plan, deploymentID)

		if conflict := findConnectorConflict(outcomes); conflict != nil {
			if !retried && !plan.forcedOff[conflict.Ref.Path()] {
				o.logger.Warn().
					Str("deployment_id", deploymentID).
					Str("resource", conflict.Ref.Path()).
					Msg("primary workspace conflict, retrying stage with connector disabled")
				plan.forceOff(conflict.Ref)
				retried = true
				if o.cfg.Metrics != nil {
					o.cfg.Metrics.RecordStageRetry(string(StageInfrastructure))
				}
				if o.cfg.Events != nil {
					o.cfg.Events.PublishStageRetried(deploymentID, string(StageInfrastructure), conflict.Detail)
				}
				continue
			}
			return StageResult{
				Status:   StageFailed,
				Retried:  retried,
				Outcomes: outcomes,
				Detail: fmt.Sprintf("primary workspace conflict recurred on %s: %s",
					conflict.Ref.Path(), conflict.Detail),
			}
		}

		if failed != nil {
			return StageResult{
				Status:   StageFailed,
				Retried:  retried,
				Outcomes: outcomes,
				Detail:   fmt.Sprintf("%s: %s", failed.Ref.Path(), failed.Detail),
			}
		}
		return StageResult{Status: StageSucceeded, Retried: retried, Outcomes: outcomes}
	}
}

// applyAll runs one reconcile pass over the plan. It stops at the first
// Failed outcome; skips are successes from the stage's perspective.
func (o *Orchestrator) applyAll(ctx context.Context, plan *stagePlan, deploymentID string) ([]reconcile.Outcome, *reconcile.Outcome) {
	plan.permissionSkipped = nil
	outcomes := make([]reconcile.Outcome, 0, len(plan.settings))

	for _, s := range plan.settings {
		if !plan.active(s) {
			outcomes = append(outcomes, reconcile.Outcome{
				Ref:    s.Ref,
				Kind:   s.Kind,
				Status: reconcile.StatusSkippedManagedElsewhere,
				Detail: "connector deployment disabled after primary workspace conflict",
			})
			continue
		}

		out, err := o.cfg.Reconciler.Apply(ctx, s)
		if err != nil {
			outcomes = append(outcomes, reconcile.Outcome{
				Ref:    s.Ref,
				Kind:   s.Kind,
				Status: reconcile.StatusFailed,
				Detail: fmt.Sprintf("transport: %v", err),
			})
			return outcomes, &outcomes[len(outcomes)-1]
		}
		outcomes = append(outcomes, *out)

		if o.cfg.Metrics != nil {
			o.cfg.Metrics.RecordReconcileOutcome(string(s.Kind), string(out.Status))
		}
		if o.cfg.Events != nil {
			o.cfg.Events.PublishSettingReconciled(deploymentID, s.Ref.Path(), string(out.Status))
		}
		if out.Status == reconcile.StatusSkippedPermission {
			plan.recordPermissionSkip(s)
		}
		if out.Status == reconcile.StatusFailed {
			return outcomes, &outcomes[len(outcomes)-1]
		}
	}
	return outcomes, nil
}

// findConnectorConflict locates a data-connector outcome whose refusal
// matches the primary-workspace signature. For the connector kind that
// refusal is not an acceptable skip: it means another management plane owns
// the connector and the whole pass raced against it.
func findConnectorConflict(outcomes []reconcile.Outcome) *reconcile.Outcome {
	for i := range outcomes {
		out := &outcomes[i]
		if out.Kind != reconcile.KindDataConnector {
			continue
		}
		if out.Detail == "connector deployment disabled after primary workspace conflict" {
			continue
		}
		if isPrimaryWorkspaceConflict(out.Detail) {
			return out
		}
	}
	return nil
}

// responseAutomations provisions automation definitions and, when requested,
// binds their identities early instead of waiting for finalization.
func (o *Orchestrator) responseAutomations(ctx context.Context, req Request, plan *stagePlan, deploymentID string) StageResult {
	if len(req.AutomationNames) == 0 {
		return StageResult{Status: StageSucceeded, Detail: "no automations requested"}
	}

	items, err := o.cfg.Automations.Deploy(ctx, plan.workspacePath, req.AutomationNames)
	if err != nil {
		return StageResult{
			Status:      StageFailed,
			Automations: items,
			Detail:      fmt.Sprintf("deploying automations: %v", err),
		}
	}

	sr := StageResult{Status: StageSucceeded, Automations: items}
	errored := 0
	for _, item := range items {
		if item.State == automation.StateError {
			errored++
		}
	}
	if errored > 0 {
		sr.Status = StagePartial
		sr.Detail = fmt.Sprintf("%d of %d automations failed", errored, len(items))
	}

	if req.Overrides.BindDuringAutomations {
		bindings, berr := o.bindRoles(ctx, req, deploymentID)
		sr.Bindings = bindings
		if berr != nil {
			// Binding failures here are recoverable: finalization re-runs
			// discovery and binding from scratch.
			o.logger.Warn().Err(berr).Msg("early role binding incomplete, finalization will retry")
		}
	}
	return sr
}

// content fetches the manifest, gates it through policy and deploys the
// rules. A malformed or blocked manifest fails this stage only; the pipeline
// still proceeds to finalization.
func (o *Orchestrator) content(ctx context.Context, req Request, plan *stagePlan, result *Result) StageResult {
	if req.ManifestURL == "" {
		return StageResult{Status: StageSucceeded, Detail: "no manifest url supplied"}
	}

	manifest, err := o.cfg.FetchManifest(ctx, req.ManifestURL)
	if err != nil {
		return StageResult{Status: StageFailed, Detail: fmt.Sprintf("fetching manifest: %v", err)}
	}

	if o.cfg.Gate != nil {
		res, gerr := o.cfg.Gate.EvaluateManifest(ctx, manifest)
		if gerr != nil {
			return StageResult{Status: StageFailed, Detail: fmt.Sprintf("evaluating manifest policy: %v", gerr)}
		}
		for _, v := range res.Violations {
			if o.cfg.Events != nil {
				o.cfg.Events.PublishPolicyViolation(result.DeploymentID, v.Policy, v.Message)
			}
		}
		if !res.Allowed {
			return StageResult{
				Status: StageFailed,
				Detail: fmt.Sprintf("manifest blocked by policy: %s", firstViolation(res.Violations)),
			}
		}
	}

	summary, err := o.cfg.Content.Deploy(ctx, manifest, plan.workspacePath)
	if err != nil {
		return StageResult{Status: StageFailed, Detail: fmt.Sprintf("deploying rules: %v", err)}
	}
	result.ManifestSummary = summary

	if o.cfg.Metrics != nil || o.cfg.Events != nil {
		for _, r := range summary.Results {
			if o.cfg.Metrics != nil {
				o.cfg.Metrics.RecordRuleOutcome(string(r.Outcome))
			}
			if o.cfg.Events != nil {
				o.cfg.Events.PublishRuleDeployed(result.DeploymentID, r.RuleID, string(r.Outcome))
			}
		}
	}

	if summary.Errors > 0 {
		return StageResult{
			Status: StagePartial,
			Detail: fmt.Sprintf("%d of %d rules failed", summary.Errors, summary.Total),
		}
	}
	return StageResult{Status: StageSucceeded}
}

func firstViolation(violations []policy.Violation) string {
	for _, v := range violations {
		if v.Severity == policy.SeverityError || v.Severity == policy.SeverityCritical {
			return v.Message
		}
	}
	if len(violations) > 0 {
		return violations[0].Message
	}
	return "no violation detail"
}

// finalize re-runs principal discovery and role binding from scratch, then
// re-attempts settings that were refused for missing privilege earlier. It
// is safe to re-run this stage on its own, minutes or hours after the rest
// of the pipeline.
func (o *Orchestrator) finalize(ctx context.Context, req Request, plan *stagePlan, deploymentID string) StageResult {
	sr := StageResult{Status: StageSucceeded}

	if len(req.RoleDefinitionIDs) > 0 {
		bindings, err := o.bindRoles(ctx, req, deploymentID)
		sr.Bindings = bindings
		if err != nil {
			sr.Status = StagePartial
			sr.Detail = fmt.Sprintf("role binding incomplete, re-run finalization later: %v", err)
		}
	}

	for _, s := range plan.permissionSkipped {
		out, err := o.cfg.Reconciler.Apply(ctx, s)
		if err != nil {
			sr.Status = StagePartial
			sr.Outcomes = append(sr.Outcomes, reconcile.Outcome{
				Ref:    s.Ref,
				Kind:   s.Kind,
				Status: reconcile.StatusFailed,
				Detail: fmt.Sprintf("transport: %v", err),
			})
			continue
		}
		sr.Outcomes = append(sr.Outcomes, *out)
		if out.Status == reconcile.StatusFailed || out.Status == reconcile.StatusSkippedPermission {
			sr.Status = StagePartial
			if sr.Detail == "" {
				sr.Detail = fmt.Sprintf("%s still not reconcilable: %s", s.Ref.Path(), out.Detail)
			}
		}
	}
	return sr
}

// bindRoles discovers the automation principal and ensures one binding per
// role definition. Policy-blocked bindings are skipped, not errors.
func (o *Orchestrator) bindRoles(ctx context.Context, req Request, deploymentID string) ([]principal.Binding, error) {
	disc, err := o.cfg.Discoverer.Discover(ctx, req.Overrides.PrincipalID)
	if err != nil {
		return nil, NewTransientError("discovering automation principal", err)
	}
	if !disc.Found() {
		return nil, NewPermissionError("automation principal not found in directory", principal.ErrNotFound)
	}

	var bindings []principal.Binding
	for _, roleID := range req.RoleDefinitionIDs {
		if o.cfg.Gate != nil {
			res, gerr := o.cfg.Gate.EvaluateBinding(ctx, req.Scope, roleID)
			if gerr != nil {
				return bindings, NewPermanentError("evaluating binding policy", gerr)
			}
			if !res.Allowed {
				o.logger.Warn().
					Str("role_definition_id", roleID).
					Str("reason", firstViolation(res.Violations)).
					Msg("role binding blocked by policy")
				if o.cfg.Events != nil {
					o.cfg.Events.PublishPolicyViolation(deploymentID, "role-binding", firstViolation(res.Violations))
				}
				continue
			}
		}

		b, berr := o.cfg.Binder.EnsureBinding(ctx, disc.PrincipalID, roleID, req.Scope)
		if berr != nil {
			return bindings, NewTransientError(fmt.Sprintf("binding role %s", roleID), berr)
		}
		bindings = append(bindings, *b)
		if o.cfg.Events != nil {
			o.cfg.Events.PublishRoleBound(deploymentID, req.Scope, disc.PrincipalID, roleID)
		}
	}
	return bindings, nil
}

// fatal marks the remaining stages skipped and finishes the deployment.
func (o *Orchestrator) fatal(ctx context.Context, result *Result, sr StageResult, remaining ...Stage) (*Result, error) {
	o.markSkipped(result, "earlier stage failed", remaining...)

	var err *Error
	if isPrimaryWorkspaceConflict(sr.Detail) {
		err = NewConflictError(sr.Detail, nil).WithCode(ErrCodePrimaryWorkspace)
	} else {
		err = NewPermanentError(sr.Detail, nil).WithCode(ErrCodeStageFailed)
	}
	err = err.WithStage(sr.Stage)

	o.finish(ctx, result, OutcomeFatal, sr.Detail)
	return result, err
}

// aborted records a caller-initiated cancellation between stages.
func (o *Orchestrator) aborted(ctx context.Context, result *Result, remaining ...Stage) (*Result, error) {
	o.markSkipped(result, "deployment aborted", remaining...)
	err := NewPermanentError("deployment aborted between stages", ctx.Err()).WithCode(ErrCodeAborted)
	o.finish(ctx, result, OutcomeFatal, err.Message)
	return result, err
}

func (o *Orchestrator) markSkipped(result *Result, detail string, stages ...Stage) {
	for _, stage := range stages {
		result.StageResults = append(result.StageResults, StageResult{
			Stage:  stage,
			Status: StageSkipped,
			Detail: detail,
		})
	}
}

// finish stamps the terminal outcome and flushes it to telemetry and the
// journal.
func (o *Orchestrator) finish(ctx context.Context, result *Result, outcome FinalOutcome, reason string) {
	result.FinalOutcome = outcome
	result.FinishedAt = time.Now().UTC()
	duration := result.FinishedAt.Sub(result.StartedAt)

	log := o.logger.With().Str("deployment_id", result.DeploymentID).Logger()
	if outcome == OutcomeFatal {
		log.Error().Str("reason", reason).Dur("duration", duration).Msg("deployment failed")
	} else {
		log.Info().Str("outcome", string(outcome)).Dur("duration", duration).Msg("deployment finished")
	}

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordDeploymentCompleted(string(outcome), duration)
	}
	if o.cfg.Events != nil {
		if outcome == OutcomeFatal {
			o.cfg.Events.PublishDeploymentFailed(result.DeploymentID, reason)
		} else {
			o.cfg.Events.PublishDeploymentCompleted(result.DeploymentID, string(outcome), duration)
		}
	}
	if o.cfg.Recorder != nil {
		if err := o.cfg.Recorder.DeploymentFinished(ctx, result); err != nil {
			log.Warn().Err(err).Msg("journal write failed")
		}
	}
}

// computeOutcome derives the terminal outcome from the recorded stages. By
// the time this runs, a Failed infrastructure stage has already short-
// circuited to Fatal; a Failed stage here means a non-fatal stage abort.
func computeOutcome(result *Result) FinalOutcome {
	for _, sr := range result.StageResults {
		if sr.Status == StageFailed || sr.Status == StagePartial {
			return OutcomePartialFailure
		}
	}
	if result.ManifestSummary != nil && result.ManifestSummary.Errors > 0 {
		return OutcomePartialFailure
	}
	return OutcomeSuccess
}
