// Package reconcile drives a remote setting's actual state toward a declared
// desired state with optimistic-concurrency writes. The probe-then-write
// sequence and the conditional headers are the only concurrency control: two
// independent runs racing on the same setting converge on the same
// conditional-write conflict instead of clobbering each other.
package reconcile

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/castellan-io/castellan/pkg/remote"
)

// Reconciler performs idempotent conditional upserts of desired settings.
type Reconciler struct {
	client     remote.Client
	classifier Classifier
	logger     zerolog.Logger
}

// NewReconciler builds a reconciler over the given transport. A nil
// classifier falls back to the default rule set.
func NewReconciler(client remote.Client, classifier Classifier, logger zerolog.Logger) *Reconciler {
	if classifier == nil {
		classifier = NewRuleClassifier()
	}
	return &Reconciler{
		client:     client,
		classifier: classifier,
		logger:     logger.With().Str("component", "reconciler").Logger(),
	}
}

// Apply reconciles one desired setting:
//
//  1. GET the current object. A version token selects the update path
//     (If-Match); no token selects the create-only path (If-None-Match: *),
//     which prevents silently overwriting a concurrently created object.
//  2. PUT under the chosen condition. Any 2xx is Configured.
//  3. On refusal, classify the response body. Skips are successes from the
//     stage's perspective; only StatusFailed aborts.
//
// The returned error is non-nil only for transport failures, which the
// caller may retry; application-level refusals always land in the Outcome.
func (r *Reconciler) Apply(ctx context.Context, setting DesiredSetting) (*Outcome, error) {
	log := r.logger.With().
		Str("kind", string(setting.Kind)).
		Str("resource", setting.Ref.Path()).
		Logger()

	outcome := &Outcome{Ref: setting.Ref, Kind: setting.Kind}

	current, err := r.client.Get(ctx, setting.Ref)
	if err != nil {
		return nil, err
	}

	if current.Exists && setting.SkipIfExists {
		outcome.Status = StatusSkippedExists
		outcome.Detail = "object already present, deployment flagged skip-if-exists"
		log.Info().Msg("setting already present, skipping")
		return outcome, nil
	}

	mode := remote.MatchModeIfNoneMatch
	token := ""
	if current.VersionToken != "" {
		mode = remote.MatchModeIfMatch
		token = current.VersionToken
	}

	result, err := r.client.Put(ctx, setting.Ref, setting.Payload, token, mode)
	if err != nil {
		return nil, err
	}

	outcome.HTTPStatus = result.StatusCode

	if result.Succeeded() {
		outcome.Status = StatusConfigured
		log.Info().Int("status", result.StatusCode).Str("mode", string(mode)).Msg("setting configured")
		return outcome, nil
	}

	classification := r.classifier.Classify(result.StatusCode, result.Body)
	outcome.Status = classification.Status
	outcome.Detail = classification.Detail
	outcome.MissingDependency = classification.MissingDependency

	if outcome.Status.IsSkip() {
		log.Warn().
			Str("outcome", string(outcome.Status)).
			Str("reason", outcome.Detail).
			Msg("setting skipped")
	} else {
		log.Error().
			Int("status", result.StatusCode).
			Str("reason", outcome.Detail).
			Msg("setting reconciliation failed")
	}

	return outcome, nil
}

// Probe reports whether the referenced object exists, without writing.
// The preflight stage uses it to flip skip flags before any conditional
// create is attempted, which is cheaper than attempting and classifying the
// resulting conflict.
func (r *Reconciler) Probe(ctx context.Context, ref remote.ResourceRef) (bool, error) {
	current, err := r.client.Get(ctx, ref)
	if err != nil {
		return false, err
	}
	return current.Exists, nil
}
