package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/castellan-io/castellan/pkg/reconcile"
	"github.com/castellan-io/castellan/pkg/remote"
)

type listOnlyClient struct {
	body json.RawMessage
	err  error
}

func (c *listOnlyClient) Get(context.Context, remote.ResourceRef) (*remote.GetResult, error) {
	return &remote.GetResult{}, nil
}

func (c *listOnlyClient) Put(context.Context, remote.ResourceRef, json.RawMessage, string, remote.MatchMode) (*remote.PutResult, error) {
	return &remote.PutResult{StatusCode: 200}, nil
}

func (c *listOnlyClient) List(context.Context, remote.ResourceRef) (json.RawMessage, error) {
	return c.body, c.err
}

func TestRemoteLocator_Locate(t *testing.T) {
	body := json.RawMessage(`{"value":[
		{"id":"/workspaces/other","name":"other","tags":{"deployment":"unrelated"}},
		{"id":"/workspaces/prod-sec","name":"prod-sec","tags":{"deployment":"Deploy-Tag-1234"}}
	]}`)
	locator := NewRemoteLocator(&listOnlyClient{body: body}, "/subscriptions/s1", zerolog.Nop())

	path, err := locator.Locate(context.Background(), "deploy-tag-1234")
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if path != "/workspaces/prod-sec" {
		t.Errorf("Locate() = %q, want the tagged workspace", path)
	}
}

func TestRemoteLocator_NotFound(t *testing.T) {
	body := json.RawMessage(`{"value":[{"id":"/workspaces/other","name":"other"}]}`)
	locator := NewRemoteLocator(&listOnlyClient{body: body}, "/subscriptions/s1", zerolog.Nop())

	_, err := locator.Locate(context.Background(), "deploy-tag-1234")
	if err == nil {
		t.Fatal("Locate() error = nil, want not found")
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Code != ErrCodeWorkspaceNotFound {
		t.Errorf("error = %v, want code %s", err, ErrCodeWorkspaceNotFound)
	}
	if !IsPermanent(err) {
		t.Errorf("error = %v, want permanent", err)
	}
}

func TestRemoteLocator_TransportErrorIsTransient(t *testing.T) {
	locator := NewRemoteLocator(&listOnlyClient{err: errors.New("connection reset")}, "/subscriptions/s1", zerolog.Nop())

	_, err := locator.Locate(context.Background(), "deploy-tag-1234")
	if !IsTransient(err) {
		t.Errorf("error = %v, want transient", err)
	}
	if !IsRetryable(err) {
		t.Errorf("IsRetryable() = false for a transport failure")
	}
}

func TestStagePlan_DropsDisabledSettings(t *testing.T) {
	disabled := testSetting(reconcile.KindAnomalies)
	disabled.EnabledByPolicy = false

	plan := newStagePlan(Request{
		Scope:    "/subscriptions/s1",
		Settings: []reconcile.DesiredSetting{testSetting(reconcile.KindUeba), disabled},
	})
	if len(plan.settings) != 1 {
		t.Fatalf("got %d planned settings, want 1", len(plan.settings))
	}
	if plan.settings[0].Kind != reconcile.KindUeba {
		t.Errorf("planned setting = %s, want Ueba", plan.settings[0].Kind)
	}
}

func TestStagePlan_RebaseKeepsExplicitBasePaths(t *testing.T) {
	explicit := testSetting(reconcile.KindUeba)
	explicit.Ref.BasePath = "/workspaces/pinned"

	plan := newStagePlan(Request{
		Settings: []reconcile.DesiredSetting{explicit, testSetting(reconcile.KindAnomalies)},
	})
	plan.rebase("/workspaces/resolved")

	if got := plan.settings[0].Ref.BasePath; got != "/workspaces/pinned" {
		t.Errorf("explicit base path = %q, want it preserved", got)
	}
	if got := plan.settings[1].Ref.BasePath; got != "/workspaces/resolved" {
		t.Errorf("rebased base path = %q, want the resolved workspace", got)
	}
}

func TestStagePlan_ForceOff(t *testing.T) {
	connector := testConnector("office365")
	plan := newStagePlan(Request{Settings: []reconcile.DesiredSetting{connector}})

	if !plan.active(plan.settings[0]) {
		t.Fatal("connector inactive before forceOff")
	}
	plan.forceOff(plan.settings[0].Ref)
	if plan.active(plan.settings[0]) {
		t.Error("connector still active after forceOff")
	}
}

func TestStagePlan_RecordPermissionSkipHonorsFlag(t *testing.T) {
	plan := newStagePlan(Request{})

	eligible := testSetting(reconcile.KindUeba)
	eligible.RetryInFinalize = true
	plan.recordPermissionSkip(eligible)
	plan.recordPermissionSkip(testSetting(reconcile.KindAnomalies))

	if len(plan.permissionSkipped) != 1 {
		t.Fatalf("got %d recorded skips, want 1", len(plan.permissionSkipped))
	}
	if plan.permissionSkipped[0].Kind != reconcile.KindUeba {
		t.Errorf("recorded skip = %s, want Ueba", plan.permissionSkipped[0].Kind)
	}
}

func TestIsPrimaryWorkspaceConflict(t *testing.T) {
	tests := []struct {
		detail string
		want   bool
	}{
		{"Workspaces must be under primary workspace management", true},
		{"this connector can only be managed from the Primary Sentinel Workspace", true},
		{"setting is managed through the threat protection portal", false},
		{"already exists", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isPrimaryWorkspaceConflict(tt.detail); got != tt.want {
			t.Errorf("isPrimaryWorkspaceConflict(%q) = %v, want %v", tt.detail, got, tt.want)
		}
	}
}
