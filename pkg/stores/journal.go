package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/castellan-io/castellan/pkg/pipeline"
)

// Journal persists pipeline runs into a Store. It implements
// pipeline.Recorder, writing one deployment row per run, one stage row per
// stage, one rule row per manifest rule, and upserting the last observed
// state of every reconciled resource.
type Journal struct {
	store Store
	actor string
}

var _ pipeline.Recorder = (*Journal)(nil)

// NewJournal wraps a store. The actor is recorded on audit entries.
func NewJournal(store Store, actor string) *Journal {
	if actor == "" {
		actor = "castellan"
	}
	return &Journal{store: store, actor: actor}
}

// DeploymentStarted records the run in the running state.
func (j *Journal) DeploymentStarted(ctx context.Context, result *pipeline.Result) error {
	now := time.Now().UTC()
	if err := j.store.CreateDeployment(ctx, &Deployment{
		ID:            result.DeploymentID,
		CorrelationID: result.CorrelationID,
		Scope:         result.Scope,
		WorkspacePath: result.WorkspacePath,
		Status:        DeploymentStatusRunning,
		StartedAt:     result.StartedAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}); err != nil {
		return err
	}

	return j.audit(ctx, "deployment.started", result.DeploymentID, nil)
}

// StageFinished records one stage result, and for reconcile stages updates
// the per-resource state table.
func (j *Journal) StageFinished(ctx context.Context, deploymentID string, sr pipeline.StageResult) error {
	record := &StageRecord{
		DeploymentID: deploymentID,
		Stage:        string(sr.Stage),
		Status:       string(sr.Status),
		Retried:      sr.Retried,
		DurationMS:   sr.Duration.Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
	if sr.Detail != "" {
		record.Detail = &sr.Detail
	}
	if len(sr.Outcomes) > 0 {
		blob, err := json.Marshal(sr.Outcomes)
		if err != nil {
			return fmt.Errorf("failed to encode stage outcomes: %w", err)
		}
		encoded := string(blob)
		record.Outcomes = &encoded
	}
	if err := j.store.CreateStageRecord(ctx, record); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, out := range sr.Outcomes {
		state := &SettingState{
			ID:               uuid.New().String(),
			ResourcePath:     out.Ref.Path(),
			Kind:             string(out.Kind),
			Status:           string(out.Status),
			LastDeploymentID: deploymentID,
			LastApplied:      now,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if out.Detail != "" {
			detail := out.Detail
			state.Detail = &detail
		}
		if err := j.store.UpsertSettingState(ctx, state); err != nil {
			return err
		}
	}
	return nil
}

// DeploymentFinished stamps the terminal status and persists the rule
// outcomes from the content stage.
func (j *Journal) DeploymentFinished(ctx context.Context, result *pipeline.Result) error {
	var errMsg *string
	if result.FinalOutcome == pipeline.OutcomeFatal {
		for _, sr := range result.StageResults {
			if sr.Status == pipeline.StageFailed {
				detail := fmt.Sprintf("%s: %s", sr.Stage, sr.Detail)
				errMsg = &detail
				break
			}
		}
	}

	var summaryBlob *string
	if result.ManifestSummary != nil {
		blob, err := json.Marshal(result.ManifestSummary)
		if err != nil {
			return fmt.Errorf("failed to encode manifest summary: %w", err)
		}
		encoded := string(blob)
		summaryBlob = &encoded

		now := time.Now().UTC()
		records := make([]*RuleRecord, 0, len(result.ManifestSummary.Results))
		for _, r := range result.ManifestSummary.Results {
			record := &RuleRecord{
				DeploymentID: result.DeploymentID,
				RuleID:       r.RuleID,
				Outcome:      string(r.Outcome),
				CreatedAt:    now,
			}
			if r.Message != "" {
				msg := r.Message
				record.Message = &msg
			}
			records = append(records, record)
		}
		if err := j.store.CreateRuleRecords(ctx, records); err != nil {
			return err
		}
	}

	if err := j.store.UpdateDeploymentStatus(ctx, result.DeploymentID,
		deploymentStatus(result.FinalOutcome), errMsg, summaryBlob); err != nil {
		return err
	}

	details := fmt.Sprintf(`{"outcome":%q}`, result.FinalOutcome)
	return j.audit(ctx, "deployment.finished", result.DeploymentID, &details)
}

func (j *Journal) audit(ctx context.Context, action, targetID string, details *string) error {
	return j.store.CreateAuditEntry(ctx, &AuditEntry{
		Action:    action,
		Actor:     j.actor,
		TargetID:  &targetID,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
}

func deploymentStatus(outcome pipeline.FinalOutcome) DeploymentStatus {
	switch outcome {
	case pipeline.OutcomeSuccess:
		return DeploymentStatusSuccess
	case pipeline.OutcomePartialFailure:
		return DeploymentStatusPartialFailure
	default:
		return DeploymentStatusFatal
	}
}
