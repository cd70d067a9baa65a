package principal

import (
	"context"
	"errors"
)

// ErrNotFound is returned by directory lookups when no principal matches.
// Callers must treat absence as a permission-equivalent skip, not an abort:
// the provisioning identity commonly lacks directory-read rights, and the
// binding can be finalized later by an operator with them.
var ErrNotFound = errors.New("principal not found")

// Directory is the identity-directory collaborator. Lookups return the
// principal's object identifier, or ErrNotFound.
type Directory interface {
	// FindByApplicationID resolves a service principal by its cross-tenant
	// application identifier.
	FindByApplicationID(ctx context.Context, appID string) (string, error)

	// FindByDisplayName resolves a service principal by its human-readable
	// display name. Less reliable than the application identifier; used as a
	// fallback only.
	FindByDisplayName(ctx context.Context, name string) (string, error)
}

// Binding describes one role binding at a scope. At most one binding exists
// per (principal, role, scope) triple at any time; the binder enforces this
// with list-then-create, never create-or-replace.
type Binding struct {
	// Name is the content-addressed binding name.
	Name string `json:"name"`

	// PrincipalID is the bound principal's object identifier.
	PrincipalID string `json:"principal_id"`

	// PrincipalType is the directory object type, always a service principal
	// in this subsystem.
	PrincipalType string `json:"principal_type"`

	// RoleID is the role definition identifier.
	RoleID string `json:"role_id"`

	// Scope is the resource scope the binding attaches to.
	Scope string `json:"scope"`
}

// Discovery is the result of resolving the automation principal.
type Discovery struct {
	// PrincipalID is the resolved object identifier, empty when not found.
	PrincipalID string

	// Source records how the principal was resolved: "override",
	// "application-id", "display-name", or "not-found".
	Source string
}

// Found reports whether discovery resolved a principal.
func (d Discovery) Found() bool {
	return d.PrincipalID != ""
}
