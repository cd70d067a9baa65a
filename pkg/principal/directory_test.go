package principal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/castellan-io/castellan/pkg/remote"
)

// directoryClient serves a canned service principal list.
type directoryClient struct {
	raw     json.RawMessage
	listErr error
}

func (c *directoryClient) Get(_ context.Context, _ remote.ResourceRef) (*remote.GetResult, error) {
	return &remote.GetResult{Exists: false}, nil
}

func (c *directoryClient) Put(_ context.Context, _ remote.ResourceRef, _ json.RawMessage, _ string, _ remote.MatchMode) (*remote.PutResult, error) {
	return &remote.PutResult{StatusCode: 200}, nil
}

func (c *directoryClient) List(_ context.Context, _ remote.ResourceRef) (json.RawMessage, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.raw, nil
}

const principalListing = `{
	"value": [
		{"id": "sp-obj-1", "appId": "app-111", "displayName": "Castellan Automation"},
		{"id": "sp-obj-2", "appId": "app-222", "displayName": "Unrelated App"}
	]
}`

func TestRemoteDirectory_FindByApplicationID(t *testing.T) {
	client := &directoryClient{raw: json.RawMessage(principalListing)}
	dir := NewRemoteDirectory(client, "/directory", zerolog.Nop())

	id, err := dir.FindByApplicationID(context.Background(), "APP-111")
	if err != nil {
		t.Fatalf("FindByApplicationID failed: %v", err)
	}
	if id != "sp-obj-1" {
		t.Errorf("expected sp-obj-1, got %s", id)
	}

	_, err = dir.FindByApplicationID(context.Background(), "app-999")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown app id, got %v", err)
	}
}

func TestRemoteDirectory_FindByDisplayName(t *testing.T) {
	client := &directoryClient{raw: json.RawMessage(principalListing)}
	dir := NewRemoteDirectory(client, "/directory", zerolog.Nop())

	id, err := dir.FindByDisplayName(context.Background(), "castellan automation")
	if err != nil {
		t.Fatalf("FindByDisplayName failed: %v", err)
	}
	if id != "sp-obj-1" {
		t.Errorf("expected sp-obj-1, got %s", id)
	}
}

// Directory-read authorization failures degrade to not-found so discovery
// can fall through instead of aborting the deployment.
func TestRemoteDirectory_ListFailureIsNotFound(t *testing.T) {
	client := &directoryClient{listErr: errors.New("403 insufficient privileges")}
	dir := NewRemoteDirectory(client, "/directory", zerolog.Nop())

	_, err := dir.FindByApplicationID(context.Background(), "app-111")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on list failure, got %v", err)
	}
}

func TestRemoteDirectory_MalformedListing(t *testing.T) {
	client := &directoryClient{raw: json.RawMessage(`not json`)}
	dir := NewRemoteDirectory(client, "/directory", zerolog.Nop())

	_, err := dir.FindByApplicationID(context.Background(), "app-111")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("expected parse error, got %v", err)
	}
}
