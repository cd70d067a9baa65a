package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/castellan-io/castellan/pkg/reconcile"
	"github.com/castellan-io/castellan/pkg/remote"
)

// WorkspaceLocator resolves a correlation identifier to the workspace path
// the pipeline deploys into. The identifier is stamped into the workspace at
// provisioning time; it is stable across renames, which the workspace name is
// not.
type WorkspaceLocator interface {
	Locate(ctx context.Context, correlationID string) (string, error)
}

// RemoteLocator finds workspaces by listing the workspace collection and
// matching the correlation identifier against each entry.
type RemoteLocator struct {
	client   remote.Client
	basePath string
	logger   zerolog.Logger
}

var _ WorkspaceLocator = (*RemoteLocator)(nil)

// NewRemoteLocator builds a locator that lists workspaces under basePath.
func NewRemoteLocator(client remote.Client, basePath string, logger zerolog.Logger) *RemoteLocator {
	return &RemoteLocator{
		client:   client,
		basePath: basePath,
		logger:   logger.With().Str("component", "workspace-locator").Logger(),
	}
}

type workspaceList struct {
	Value []json.RawMessage `json:"value"`
}

type workspaceEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Locate lists the workspace collection and returns the path of the entry
// carrying the correlation identifier anywhere in its serialized form. The
// identifier lives in a tag whose key varies by provisioning tool, so the
// match is over the whole entry rather than a fixed field.
func (l *RemoteLocator) Locate(ctx context.Context, correlationID string) (string, error) {
	ref := remote.NewResourceRef(l.basePath, "workspaces", "")
	raw, err := l.client.List(ctx, ref)
	if err != nil {
		return "", NewTransientError("listing workspaces", err)
	}

	var list workspaceList
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", NewPermanentError("parsing workspace list", err)
	}

	needle := strings.ToLower(correlationID)
	for _, item := range list.Value {
		if !strings.Contains(strings.ToLower(string(item)), needle) {
			continue
		}
		var entry workspaceEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			continue
		}
		if entry.ID == "" {
			continue
		}
		l.logger.Debug().
			Str("correlation_id", correlationID).
			Str("workspace", entry.ID).
			Msg("workspace resolved")
		return entry.ID, nil
	}

	return "", NewPermanentError("no workspace carries the correlation identifier", nil).
		WithCode(ErrCodeWorkspaceNotFound)
}

// stagePlan is the mutable working copy of a request's desired settings.
// Preflight flips skip flags on it and the infrastructure retry forces the
// connector off; the request itself is never modified.
type stagePlan struct {
	workspacePath string
	settings      []reconcile.DesiredSetting

	// forcedOff holds resource paths disabled by the primary-workspace
	// retry. A forced-off connector is never attempted again in this
	// deployment.
	forcedOff map[string]bool

	// permissionSkipped collects settings that were refused for missing
	// directory privilege, re-attempted during finalization when flagged.
	permissionSkipped []reconcile.DesiredSetting
}

// newStagePlan copies the enabled settings out of the request, preserving
// apply order. Settings disabled by deployment configuration never reach the
// remote.
func newStagePlan(req Request) *stagePlan {
	plan := &stagePlan{
		workspacePath: req.Scope,
		forcedOff:     make(map[string]bool),
	}
	for _, s := range req.Settings {
		if !s.EnabledByPolicy {
			continue
		}
		plan.settings = append(plan.settings, s)
	}
	return plan
}

// rebase points every setting at the resolved workspace. Settings that
// already carry an explicit base path keep it.
func (p *stagePlan) rebase(workspacePath string) {
	p.workspacePath = workspacePath
	for i := range p.settings {
		if p.settings[i].Ref.BasePath == "" {
			p.settings[i].Ref.BasePath = strings.TrimRight(workspacePath, "/")
		}
	}
}

// forceOff removes one connector from the remaining passes.
func (p *stagePlan) forceOff(ref remote.ResourceRef) {
	p.forcedOff[ref.Path()] = true
}

// active reports whether the setting should be applied on this pass.
func (p *stagePlan) active(s reconcile.DesiredSetting) bool {
	return !p.forcedOff[s.Ref.Path()]
}

// recordPermissionSkip remembers a setting refused for missing privilege so
// finalization can re-attempt it after role bindings settle.
func (p *stagePlan) recordPermissionSkip(s reconcile.DesiredSetting) {
	if !s.RetryInFinalize {
		return
	}
	p.permissionSkipped = append(p.permissionSkipped, s)
}
