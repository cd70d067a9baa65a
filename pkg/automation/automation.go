// Package automation provisions response-automation definitions at a
// deployment scope. Automations are identified by logical name and created
// under deterministic resource names, so repeated deployments converge
// instead of duplicating.
package automation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/castellan-io/castellan/pkg/remote"
)

const automationCollection = "automationRules"

// automationNamespace seeds deterministic automation resource names.
var automationNamespace = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")

// State is the per-item provisioning result.
type State string

const (
	StateProvisioned     State = "provisioned"
	StateSkippedExisting State = "skipped-existing"
	StateError           State = "error"
)

// ItemResult is the provisioning outcome for one logical automation.
type ItemResult struct {
	// LogicalName is the caller-facing automation name.
	LogicalName string `json:"logical_name"`

	// ResourceName is the deterministic remote resource name.
	ResourceName string `json:"resource_name"`

	// State is the provisioning outcome.
	State State `json:"state"`

	// Message carries the failure reason for StateError.
	Message string `json:"message,omitempty"`
}

// Deployer provisions response automations. The pipeline treats it as an
// external collaborator: a target scope and a list of logical names in,
// per-item provisioning state out.
type Deployer interface {
	Deploy(ctx context.Context, scope string, logicalNames []string) ([]ItemResult, error)
}

// ResourceName derives the deterministic remote name for a logical
// automation at a scope.
func ResourceName(scope, logicalName string) string {
	return uuid.NewSHA1(automationNamespace, []byte(scope+"|"+logicalName)).String()
}

// RemoteDeployer implements Deployer over the resource client.
type RemoteDeployer struct {
	client remote.Client
	logger zerolog.Logger
}

var _ Deployer = (*RemoteDeployer)(nil)

// NewRemoteDeployer builds a deployer over the given transport.
func NewRemoteDeployer(client remote.Client, logger zerolog.Logger) *RemoteDeployer {
	return &RemoteDeployer{
		client: client,
		logger: logger.With().Str("component", "automation-deployer").Logger(),
	}
}

type automationPayload struct {
	DisplayName string `json:"displayName"`
	Enabled     bool   `json:"enabled"`
	Order       int    `json:"order"`
}

// Deploy provisions each named automation: probe, then create-only write.
// Existing automations are left untouched. Per-item failures are recorded
// and do not stop the remaining items.
func (d *RemoteDeployer) Deploy(ctx context.Context, scope string, logicalNames []string) ([]ItemResult, error) {
	results := make([]ItemResult, 0, len(logicalNames))

	for order, name := range logicalNames {
		log := d.logger.With().Str("automation", name).Logger()
		resourceName := ResourceName(scope, name)
		ref := remote.NewResourceRef(scope, automationCollection, resourceName)
		item := ItemResult{LogicalName: name, ResourceName: resourceName}

		current, err := d.client.Get(ctx, ref)
		if err != nil {
			item.State = StateError
			item.Message = err.Error()
			results = append(results, item)
			log.Error().Err(err).Msg("automation probe failed")
			continue
		}
		if current.Exists {
			item.State = StateSkippedExisting
			results = append(results, item)
			log.Info().Msg("automation already provisioned")
			continue
		}

		payload, err := json.Marshal(automationPayload{
			DisplayName: name,
			Enabled:     true,
			Order:       order + 1,
		})
		if err != nil {
			item.State = StateError
			item.Message = err.Error()
			results = append(results, item)
			continue
		}

		result, err := d.client.Put(ctx, ref, payload, "", remote.MatchModeIfNoneMatch)
		if err != nil {
			item.State = StateError
			item.Message = err.Error()
			results = append(results, item)
			log.Error().Err(err).Msg("automation creation failed")
			continue
		}
		if !result.Succeeded() {
			item.State = StateError
			item.Message = fmt.Sprintf("remote refused with status %d: %s", result.StatusCode, result.Body)
			results = append(results, item)
			log.Error().Int("status", result.StatusCode).Msg("automation creation refused")
			continue
		}

		item.State = StateProvisioned
		results = append(results, item)
		log.Info().Msg("automation provisioned")
	}

	return results, nil
}
