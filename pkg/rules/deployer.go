// Package rules bulk-applies a manifest of declarative detection rules
// against a workspace scope, with per-rule success, skip and error
// accounting. The deployer is create-only: rules an operator has already
// tuned are never touched.
package rules

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/castellan-io/castellan/pkg/remote"
)

// ruleCollection is the sub-resource collection detection rules live under.
const ruleCollection = "alertRules"

// defaultWorkers bounds the per-rule worker pool. Rules are independent, so
// the pool size only trades remote load against wall-clock time.
const defaultWorkers = 4

// Deployer applies rule manifests to a workspace scope.
type Deployer struct {
	client  remote.Client
	workers int
	logger  zerolog.Logger
}

// NewDeployer builds a deployer over the given transport. workers <= 0
// selects the default pool size.
func NewDeployer(client remote.Client, workers int, logger zerolog.Logger) *Deployer {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Deployer{
		client:  client,
		workers: workers,
		logger:  logger.With().Str("component", "rule-deployer").Logger(),
	}
}

// Deploy applies every rule in the manifest at the given scope and returns
// the aggregated summary. Individual rule failures are recorded and never
// abort the loop: activation commonly depends on upstream data arriving
// later, and callers re-invoke the deployer to pick up skipped rules.
func (d *Deployer) Deploy(ctx context.Context, manifest *Manifest, scope string) (*Summary, error) {
	if manifest == nil {
		return nil, fmt.Errorf("manifest is nil")
	}

	acc := newAccumulator(len(manifest.Rules))

	jobs := make(chan int, len(manifest.Rules))
	for i := range manifest.Rules {
		jobs <- i
	}
	close(jobs)

	workerCount := d.workers
	if len(manifest.Rules) < workerCount {
		workerCount = len(manifest.Rules)
	}

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				select {
				case <-ctx.Done():
					acc.record(index, Result{
						RuleID:  manifest.Rules[index].ID,
						Outcome: OutcomeError,
						Message: ctx.Err().Error(),
					})
					continue
				default:
				}
				acc.record(index, d.deployOne(ctx, &manifest.Rules[index], scope))
			}
		}()
	}
	wg.Wait()

	summary := acc.snapshot()
	d.logger.Info().
		Int("total", summary.Total).
		Int("created", summary.Created).
		Int("skipped", summary.Skipped).
		Int("errors", summary.Errors).
		Msg("manifest deployment finished")

	return &summary, nil
}

// deployOne probes, builds and creates a single rule. Log output stays
// attributable per rule regardless of worker interleaving.
func (d *Deployer) deployOne(ctx context.Context, rule *RuleDefinition, scope string) Result {
	log := d.logger.With().Str("rule_id", rule.ID).Str("rule", rule.Name).Logger()
	ref := remote.NewResourceRef(scope, ruleCollection, rule.ID)

	current, err := d.client.Get(ctx, ref)
	if err != nil {
		log.Error().Err(err).Msg("rule existence probe failed")
		return Result{RuleID: rule.ID, Outcome: OutcomeError, Message: err.Error()}
	}
	if current.Exists {
		log.Info().Msg("rule already exists, leaving it untouched")
		return Result{RuleID: rule.ID, Outcome: OutcomeSkippedExisting, Message: "rule already exists"}
	}

	payload, err := BuildPayload(rule)
	if err != nil {
		log.Error().Err(err).Msg("rule payload construction failed")
		return Result{RuleID: rule.ID, Outcome: OutcomeError, Message: err.Error()}
	}

	result, err := d.client.Put(ctx, ref, payload, "", remote.MatchModeIfNoneMatch)
	if err != nil {
		log.Error().Err(err).Msg("rule creation failed")
		return Result{RuleID: rule.ID, Outcome: OutcomeError, Message: err.Error()}
	}

	if result.Succeeded() {
		log.Info().Msg("rule created")
		return Result{RuleID: rule.ID, Outcome: OutcomeCreated}
	}

	message := string(result.Body)
	if isMissingDependency(message) {
		log.Warn().Str("reason", message).Msg("rule skipped, upstream data source not ready")
		return Result{
			RuleID:  rule.ID,
			Outcome: OutcomeSkippedMissingDependency,
			Message: fmt.Sprintf("upstream data source not ready (status %d): %s", result.StatusCode, message),
		}
	}

	log.Error().Int("status", result.StatusCode).Str("body", message).Msg("rule creation refused")
	return Result{
		RuleID:  rule.ID,
		Outcome: OutcomeError,
		Message: fmt.Sprintf("remote refused with status %d: %s", result.StatusCode, message),
	}
}

// missingDependencySignatures match refusals caused by a referenced table or
// connector that has not ingested data yet. Each entry is a fragment set
// that must all occur; substring matching because the remote API exposes no
// structured error taxonomy for this case.
var missingDependencySignatures = [][]string{
	{"table", "not found"},
	{"could not be resolved"},
	{"connector", "not installed"},
	{"connector", "not connected"},
	{"data source", "not available"},
}

func isMissingDependency(body string) bool {
	lowered := strings.ToLower(body)
	for _, fragments := range missingDependencySignatures {
		matched := true
		for _, fragment := range fragments {
			if !strings.Contains(lowered, fragment) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}
