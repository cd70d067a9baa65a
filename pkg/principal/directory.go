package principal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/castellan-io/castellan/pkg/remote"
)

// RemoteDirectory resolves principals by listing the service principal
// collection over the resource client. Directory reads commonly fail with
// authorization errors in restricted tenants; those surface as ErrNotFound
// so discovery degrades to the not-found path instead of aborting.
type RemoteDirectory struct {
	client   remote.Client
	basePath string
	logger   zerolog.Logger
}

var _ Directory = (*RemoteDirectory)(nil)

// NewRemoteDirectory builds a directory that lists service principals under
// basePath.
func NewRemoteDirectory(client remote.Client, basePath string, logger zerolog.Logger) *RemoteDirectory {
	return &RemoteDirectory{
		client:   client,
		basePath: basePath,
		logger:   logger.With().Str("component", "principal-directory").Logger(),
	}
}

type principalList struct {
	Value []principalEntry `json:"value"`
}

type principalEntry struct {
	ID          string `json:"id"`
	AppID       string `json:"appId"`
	DisplayName string `json:"displayName"`
}

// FindByApplicationID resolves a service principal by application identifier.
func (d *RemoteDirectory) FindByApplicationID(ctx context.Context, appID string) (string, error) {
	return d.find(ctx, func(entry principalEntry) bool {
		return strings.EqualFold(entry.AppID, appID)
	})
}

// FindByDisplayName resolves a service principal by display name.
func (d *RemoteDirectory) FindByDisplayName(ctx context.Context, name string) (string, error) {
	return d.find(ctx, func(entry principalEntry) bool {
		return strings.EqualFold(entry.DisplayName, name)
	})
}

func (d *RemoteDirectory) find(ctx context.Context, match func(principalEntry) bool) (string, error) {
	ref := remote.NewResourceRef(d.basePath, "servicePrincipals", "")
	raw, err := d.client.List(ctx, ref)
	if err != nil {
		d.logger.Debug().Err(err).Msg("directory list failed, treating as not found")
		return "", ErrNotFound
	}

	var list principalList
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", fmt.Errorf("failed to parse principal list: %w", err)
	}

	for _, entry := range list.Value {
		if entry.ID == "" {
			continue
		}
		if match(entry) {
			return entry.ID, nil
		}
	}
	return "", ErrNotFound
}
