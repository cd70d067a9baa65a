package principal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/castellan-io/castellan/pkg/remote"
)

// bindingNamespace seeds the content-addressed binding names. Deterministic
// naming substitutes for distributed locking: repeated, possibly-concurrent
// runs derive the same name and therefore converge on the same remote object
// instead of creating duplicates.
var bindingNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// BindingName derives the deterministic binding name for a
// (scope, principal, role) triple.
func BindingName(scope, principalID, roleID string) string {
	return uuid.NewSHA1(bindingNamespace, []byte(scope+"|"+principalID+"|"+roleID)).String()
}

// Binder ensures role bindings exist at a scope without ever duplicating
// them. The remote role-assignment API treats duplicate-name creation as an
// error; the list step is defense in depth against name-derivation drift.
type Binder struct {
	client remote.Client
	logger zerolog.Logger
}

// NewBinder builds a binder over the given transport.
func NewBinder(client remote.Client, logger zerolog.Logger) *Binder {
	return &Binder{
		client: client,
		logger: logger.With().Str("component", "role-binder").Logger(),
	}
}

// bindingEnvelope mirrors the remote role-assignment wire format.
type bindingEnvelope struct {
	Name       string            `json:"name"`
	Properties bindingProperties `json:"properties"`
}

type bindingProperties struct {
	PrincipalID      string `json:"principalId"`
	PrincipalType    string `json:"principalType"`
	RoleDefinitionID string `json:"roleDefinitionId"`
	Scope            string `json:"scope,omitempty"`
}

type bindingList struct {
	Value []bindingEnvelope `json:"value"`
}

// EnsureBinding lists existing bindings at the scope filtered by
// (principal, role) and creates one only when the filtered list is empty.
// Invoking it any number of times with identical arguments leaves exactly
// one binding at the scope.
func (b *Binder) EnsureBinding(ctx context.Context, principalID, roleID, scope string) (*Binding, error) {
	log := b.logger.With().
		Str("principal_id", principalID).
		Str("role_id", roleID).
		Str("scope", scope).
		Logger()

	collectionRef := remote.NewResourceRef(scope, "roleAssignments", "")

	raw, err := b.client.List(ctx, collectionRef)
	if err != nil {
		return nil, fmt.Errorf("list role bindings at %s: %w", scope, err)
	}

	var existing bindingList
	if err := json.Unmarshal(raw, &existing); err != nil {
		return nil, fmt.Errorf("decode role binding list: %w", err)
	}

	for _, candidate := range existing.Value {
		if candidate.Properties.PrincipalID == principalID &&
			candidate.Properties.RoleDefinitionID == roleID {
			log.Info().Str("binding", candidate.Name).Msg("role binding already present")
			return &Binding{
				Name:          candidate.Name,
				PrincipalID:   principalID,
				PrincipalType: candidate.Properties.PrincipalType,
				RoleID:        roleID,
				Scope:         scope,
			}, nil
		}
	}

	name := BindingName(scope, principalID, roleID)
	payload, err := json.Marshal(bindingEnvelope{
		Name: name,
		Properties: bindingProperties{
			PrincipalID:      principalID,
			PrincipalType:    "ServicePrincipal",
			RoleDefinitionID: roleID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode role binding: %w", err)
	}

	ref := remote.NewResourceRef(scope, "roleAssignments", name)
	result, err := b.client.Put(ctx, ref, payload, "", remote.MatchModeNone)
	if err != nil {
		return nil, fmt.Errorf("create role binding %s: %w", name, err)
	}
	if !result.Succeeded() {
		return nil, fmt.Errorf("create role binding %s: remote refused with status %d: %s",
			name, result.StatusCode, result.Body)
	}

	log.Info().Str("binding", name).Msg("role binding created")
	return &Binding{
		Name:          name,
		PrincipalID:   principalID,
		PrincipalType: "ServicePrincipal",
		RoleID:        roleID,
		Scope:         scope,
	}, nil
}
