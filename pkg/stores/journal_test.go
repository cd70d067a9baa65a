package stores

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/castellan-io/castellan/pkg/pipeline"
	"github.com/castellan-io/castellan/pkg/reconcile"
	"github.com/castellan-io/castellan/pkg/remote"
	"github.com/castellan-io/castellan/pkg/rules"
)

func journalResult(id string) *pipeline.Result {
	started := time.Now().UTC().Add(-2 * time.Minute)
	return &pipeline.Result{
		DeploymentID:  id,
		CorrelationID: "deploy-tag-1234",
		Scope:         "/subscriptions/s1/resourceGroups/rg1",
		WorkspacePath: "/workspaces/prod-sec",
		StartedAt:     started,
		FinishedAt:    started.Add(90 * time.Second),
	}
}

// TestJournalRoundTrip records a full run through the Recorder interface and
// reads everything back through the store.
func TestJournalRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	journal := NewJournal(store, "")

	result := journalResult("dep-journal-001")
	if err := journal.DeploymentStarted(ctx, result); err != nil {
		t.Fatalf("DeploymentStarted failed: %v", err)
	}

	d, err := store.GetDeployment(ctx, result.DeploymentID)
	if err != nil {
		t.Fatalf("failed to get deployment: %v", err)
	}
	if d.Status != DeploymentStatusRunning {
		t.Errorf("expected status %s after start, got %s", DeploymentStatusRunning, d.Status)
	}
	if d.CorrelationID != result.CorrelationID {
		t.Errorf("expected correlation ID %s, got %s", result.CorrelationID, d.CorrelationID)
	}

	// One reconcile stage with two outcomes.
	uebaRef := remote.NewResourceRef("/workspaces/prod-sec", "settings", "Ueba")
	connRef := remote.NewResourceRef("/workspaces/prod-sec", "dataConnectors", "office365")
	stage := pipeline.StageResult{
		Stage:   pipeline.StageInfrastructure,
		Status:  pipeline.StageSucceeded,
		Retried: true,
		Detail:  "retried after primary workspace conflict",
		Outcomes: []reconcile.Outcome{
			{Ref: uebaRef, Kind: reconcile.KindUeba, Status: reconcile.StatusConfigured},
			{Ref: connRef, Kind: reconcile.KindDataConnector, Status: reconcile.StatusSkippedManagedElsewhere, Detail: "managed by primary workspace"},
		},
		Duration: 3 * time.Second,
	}
	if err := journal.StageFinished(ctx, result.DeploymentID, stage); err != nil {
		t.Fatalf("StageFinished failed: %v", err)
	}

	records, err := store.ListStageRecordsByDeployment(ctx, result.DeploymentID)
	if err != nil {
		t.Fatalf("failed to list stage records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 stage record, got %d", len(records))
	}
	if records[0].Stage != string(pipeline.StageInfrastructure) {
		t.Errorf("expected stage %s, got %s", pipeline.StageInfrastructure, records[0].Stage)
	}
	if !records[0].Retried {
		t.Error("expected retried flag to be recorded")
	}
	if records[0].Outcomes == nil || !strings.Contains(*records[0].Outcomes, "skipped-managed-elsewhere") {
		t.Errorf("expected outcomes blob to carry statuses, got %v", records[0].Outcomes)
	}
	if records[0].DurationMS != 3000 {
		t.Errorf("expected duration 3000ms, got %d", records[0].DurationMS)
	}

	// Every outcome becomes a setting state row keyed by resource path.
	state, err := store.GetSettingState(ctx, connRef.Path())
	if err != nil {
		t.Fatalf("failed to get setting state: %v", err)
	}
	if state.Status != string(reconcile.StatusSkippedManagedElsewhere) {
		t.Errorf("expected state status %s, got %s", reconcile.StatusSkippedManagedElsewhere, state.Status)
	}
	if state.LastDeploymentID != result.DeploymentID {
		t.Errorf("expected last deployment %s, got %s", result.DeploymentID, state.LastDeploymentID)
	}

	// Finish with a manifest summary.
	result.StageResults = []pipeline.StageResult{stage}
	result.ManifestSummary = &rules.Summary{
		Total:   2,
		Created: 1,
		Errors:  1,
		Results: []rules.Result{
			{RuleID: "rule-1", Outcome: rules.OutcomeCreated},
			{RuleID: "rule-2", Outcome: rules.OutcomeError, Message: "table not found"},
		},
	}
	result.FinalOutcome = pipeline.OutcomePartialFailure
	if err := journal.DeploymentFinished(ctx, result); err != nil {
		t.Fatalf("DeploymentFinished failed: %v", err)
	}

	finished, err := store.GetDeployment(ctx, result.DeploymentID)
	if err != nil {
		t.Fatalf("failed to get finished deployment: %v", err)
	}
	if finished.Status != DeploymentStatusPartialFailure {
		t.Errorf("expected status %s, got %s", DeploymentStatusPartialFailure, finished.Status)
	}
	if finished.FinishedAt == nil {
		t.Error("expected FinishedAt to be set")
	}
	if finished.ManifestSummary == nil || !strings.Contains(*finished.ManifestSummary, `"errors":1`) {
		t.Errorf("expected summary blob to be stored, got %v", finished.ManifestSummary)
	}

	ruleRecords, err := store.ListRuleRecordsByDeployment(ctx, result.DeploymentID)
	if err != nil {
		t.Fatalf("failed to list rule records: %v", err)
	}
	if len(ruleRecords) != 2 {
		t.Fatalf("expected 2 rule records, got %d", len(ruleRecords))
	}
	if ruleRecords[1].Message == nil || *ruleRecords[1].Message != "table not found" {
		t.Errorf("expected rule error message to be stored, got %v", ruleRecords[1].Message)
	}

	// Start and finish each leave an audit entry.
	entries, err := store.ListAuditEntries(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.Actor != "castellan" {
			t.Errorf("expected default actor castellan, got %s", entry.Actor)
		}
	}
}

// TestJournalFatalError stores the failing stage detail as the deployment
// error message.
func TestJournalFatalError(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	journal := NewJournal(store, "operator")

	result := journalResult("dep-journal-002")
	if err := journal.DeploymentStarted(ctx, result); err != nil {
		t.Fatalf("DeploymentStarted failed: %v", err)
	}

	result.StageResults = []pipeline.StageResult{
		{Stage: pipeline.StagePreflightProbe, Status: pipeline.StageSucceeded},
		{Stage: pipeline.StageInfrastructure, Status: pipeline.StageFailed, Detail: "EntityAnalytics: unclassified remote refusal"},
		{Stage: pipeline.StageResponseAutomations, Status: pipeline.StageSkipped, Detail: "earlier stage failed"},
	}
	result.FinalOutcome = pipeline.OutcomeFatal
	if err := journal.DeploymentFinished(ctx, result); err != nil {
		t.Fatalf("DeploymentFinished failed: %v", err)
	}

	finished, err := store.GetDeployment(ctx, result.DeploymentID)
	if err != nil {
		t.Fatalf("failed to get deployment: %v", err)
	}
	if finished.Status != DeploymentStatusFatal {
		t.Errorf("expected status %s, got %s", DeploymentStatusFatal, finished.Status)
	}
	if finished.Error == nil {
		t.Fatal("expected error message to be stored")
	}
	if !strings.Contains(*finished.Error, "infrastructure") || !strings.Contains(*finished.Error, "unclassified remote refusal") {
		t.Errorf("unexpected error message: %s", *finished.Error)
	}

	action := "deployment.finished"
	entries, err := store.ListAuditEntries(ctx, &action, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 finished audit entry, got %d", len(entries))
	}
	if entries[0].Actor != "operator" {
		t.Errorf("expected actor operator, got %s", entries[0].Actor)
	}
	if entries[0].Details == nil || !strings.Contains(*entries[0].Details, "fatal") {
		t.Errorf("expected outcome in audit details, got %v", entries[0].Details)
	}
}
