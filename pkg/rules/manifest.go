package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	manifestTimeout  = 60 * time.Second
	maxManifestBytes = 8 << 20
)

// FetchManifest retrieves and validates the rule manifest from a
// caller-supplied URL. The fetch is unauthenticated plain HTTP(S). Any
// failure here is fatal to the content stage: a missing or malformed
// manifest is a hard precondition, not a per-rule concern.
func FetchManifest(ctx context.Context, url string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build manifest request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := &http.Client{Timeout: manifestTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch manifest %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return nil, fmt.Errorf("read manifest body: %w", err)
	}

	return ParseManifest(body)
}

// ParseManifest decodes and validates a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	if err := validate.Struct(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	if manifest.RuleCount != len(manifest.Rules) {
		return nil, fmt.Errorf("manifest declares %d rules but carries %d",
			manifest.RuleCount, len(manifest.Rules))
	}

	for i := range manifest.Rules {
		if err := validateRule(&manifest.Rules[i]); err != nil {
			return nil, fmt.Errorf("invalid rule %s: %w", manifest.Rules[i].ID, err)
		}
	}

	return &manifest, nil
}

var validate = validator.New()

// validateRule applies the kind-specific constraints the struct tags cannot
// express: Scheduled rules need the full schedule, NRT rules must not carry
// one.
func validateRule(rule *RuleDefinition) error {
	if err := validate.Struct(rule); err != nil {
		return err
	}

	switch rule.Kind {
	case KindScheduled:
		if rule.QueryFrequency == "" || rule.QueryPeriod == "" {
			return fmt.Errorf("scheduled rule requires queryFrequency and queryPeriod")
		}
		if rule.TriggerOperator == "" {
			return fmt.Errorf("scheduled rule requires triggerOperator")
		}
	case KindNRT:
		if rule.QueryFrequency != "" || rule.QueryPeriod != "" {
			return fmt.Errorf("NRT rule must not carry schedule fields")
		}
	}
	return nil
}
