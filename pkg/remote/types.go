package remote

import (
	"context"
	"encoding/json"
	"strings"
)

// ResourceRef identifies a single remote configuration object. It is
// immutable once constructed and is used to build both GET and PUT URLs.
type ResourceRef struct {
	// BasePath is the resource-addressed prefix, typically the workspace
	// scope (e.g. "/workspaces/prod-sec").
	BasePath string `json:"base_path"`

	// Kind is the sub-resource collection under the base path
	// (e.g. "settings", "dataConnectors", "alertRules").
	Kind string `json:"kind"`

	// Name is the object name within the collection.
	Name string `json:"name"`
}

// NewResourceRef builds a ResourceRef from its three components.
func NewResourceRef(basePath, kind, name string) ResourceRef {
	return ResourceRef{
		BasePath: strings.TrimRight(basePath, "/"),
		Kind:     kind,
		Name:     name,
	}
}

// Path returns the URL path for this resource.
func (r ResourceRef) Path() string {
	return r.BasePath + "/" + r.Kind + "/" + r.Name
}

// CollectionPath returns the URL path for the collection holding this resource.
func (r ResourceRef) CollectionPath() string {
	return r.BasePath + "/" + r.Kind
}

// String implements fmt.Stringer for log attribution.
func (r ResourceRef) String() string {
	return r.Path()
}

// MatchMode selects the conditional-write semantics for a PUT.
type MatchMode string

const (
	// MatchModeIfMatch constrains the write to succeed only when the remote
	// object's current version token equals the supplied token.
	MatchModeIfMatch MatchMode = "if-match"

	// MatchModeIfNoneMatch constrains the write to succeed only when no
	// object exists yet (If-None-Match: *). Used for create-only writes.
	MatchModeIfNoneMatch MatchMode = "if-none-match"

	// MatchModeNone issues an unconditional write. Callers should prefer the
	// conditional modes; this exists for collections that do not version.
	MatchModeNone MatchMode = "none"
)

// GetResult is the outcome of a resource GET.
type GetResult struct {
	// Exists reports whether the remote object was found.
	Exists bool

	// VersionToken is the opaque revision string (ETag) returned by the
	// remote, empty when the object does not exist or the API did not
	// version the response.
	VersionToken string

	// Body is the raw response body when the object exists.
	Body json.RawMessage
}

// PutResult is the raw outcome of a resource PUT. The client performs no
// application-level classification; that is the reconciler's job.
type PutResult struct {
	// StatusCode is the HTTP status returned by the remote.
	StatusCode int

	// Body is the raw response body, kept for error classification.
	Body []byte
}

// Succeeded reports whether the write landed (any 2xx status).
func (r *PutResult) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// TokenSource supplies bearer tokens for the remote API. Credential
// acquisition happens outside this subsystem; implementations are expected
// to cache and refresh as needed.
type TokenSource interface {
	// Token returns a token valid for at least the next request.
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a TokenSource that always yields the given token.
// Intended for tests and short-lived invocations.
func StaticTokenSource(token string) TokenSource {
	return staticTokenSource(token)
}

type staticTokenSource string

func (s staticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// Client is the thin transport to the remote resource API. It reports status
// codes and bodies verbatim and never retries; retry policy belongs to the
// reconciler and the pipeline.
type Client interface {
	// Get fetches the current state of the referenced object.
	Get(ctx context.Context, ref ResourceRef) (*GetResult, error)

	// Put writes the payload under the given match mode. The token is only
	// consulted for MatchModeIfMatch.
	Put(ctx context.Context, ref ResourceRef, payload json.RawMessage, token string, mode MatchMode) (*PutResult, error)

	// List fetches the collection holding the referenced kind. Used by the
	// role binder and the rule deployer for existence probes.
	List(ctx context.Context, ref ResourceRef) (json.RawMessage, error)
}
