// Package principal resolves the well-known automation service principal and
// idempotently binds it to roles at a deployment scope.
package principal

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

const (
	// AutomationAppID is the cross-tenant application identifier of the
	// security-analytics automation principal. Constant across tenants, so
	// it is the most reliable lookup key.
	AutomationAppID = "98785600-1bb7-4fb9-b9fa-19afe2c8a360"

	// AutomationDisplayName is the directory display name of the automation
	// principal, used as a lookup fallback when the application-id query is
	// not permitted.
	AutomationDisplayName = "Security Insights Automation"
)

// Discoverer resolves the automation principal against the directory.
type Discoverer struct {
	directory Directory
	logger    zerolog.Logger
}

// NewDiscoverer builds a discoverer over the given directory collaborator.
func NewDiscoverer(directory Directory, logger zerolog.Logger) *Discoverer {
	return &Discoverer{
		directory: directory,
		logger:    logger.With().Str("component", "principal-discovery").Logger(),
	}
}

// Discover resolves the automation principal. An explicit override is used
// verbatim with no remote lookup. Otherwise the fixed application identifier
// is tried first, then the display name. Both failing is a non-fatal
// not-found result; callers log the manual remediation path and move on.
func (d *Discoverer) Discover(ctx context.Context, overrideID string) (Discovery, error) {
	if overrideID != "" {
		d.logger.Info().Str("principal_id", overrideID).Msg("using caller-supplied principal override")
		return Discovery{PrincipalID: overrideID, Source: "override"}, nil
	}

	id, err := d.directory.FindByApplicationID(ctx, AutomationAppID)
	if err == nil {
		d.logger.Info().Str("principal_id", id).Msg("principal resolved by application id")
		return Discovery{PrincipalID: id, Source: "application-id"}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Discovery{}, err
	}

	id, err = d.directory.FindByDisplayName(ctx, AutomationDisplayName)
	if err == nil {
		d.logger.Info().Str("principal_id", id).Msg("principal resolved by display name")
		return Discovery{PrincipalID: id, Source: "display-name"}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Discovery{}, err
	}

	d.logger.Warn().
		Str("app_id", AutomationAppID).
		Msg("automation principal not found; bind it manually once directory-read rights are granted")
	return Discovery{Source: "not-found"}, nil
}
