package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/castellan-io/castellan/pkg/rules"
)

func newRulesCommand() *cobra.Command {
	var manifestURL string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect a detection rule manifest",
		Long: `Fetch and inspect a detection rule manifest without deploying it.

This command:
  - Fetches and parses the manifest, cross-checking the declared rule count
  - Runs the policy gate over it when policy enforcement is configured
  - Lists every rule with its kind, severity, and enablement`,
		Example: `  # Inspect the configured manifest
  castellan rules

  # Inspect an alternative manifest
  castellan rules --manifest https://content.example.com/staging.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			url := manifestURL
			if url == "" {
				url = cfg.Deployment.ManifestURL
			}
			if url == "" {
				return fmt.Errorf("no manifest URL configured; pass --manifest")
			}

			tel, err := buildTelemetry(cfg, cliVersion)
			if err != nil {
				return err
			}
			logger := tel.Logger.Zerolog()

			manifest, err := rules.FetchManifest(ctx, url)
			if err != nil {
				return fmt.Errorf("manifest fetch failed: %w", err)
			}

			gate, err := buildGate(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if gate != nil {
				result, err := gate.EvaluateManifest(ctx, manifest)
				if err != nil {
					return fmt.Errorf("policy evaluation failed: %w", err)
				}
				for _, v := range result.Violations {
					fmt.Printf("policy %s [%s]: %s\n", v.Policy, v.Severity, v.Message)
				}
				if !result.Allowed {
					return fmt.Errorf("manifest blocked by policy")
				}
			}

			if jsonOutput {
				encoded, err := json.MarshalIndent(manifest, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(encoded))
				return nil
			}

			fmt.Printf("Manifest: %d rules\n\n", manifest.RuleCount)
			for _, rule := range manifest.Rules {
				enabled := "disabled"
				if rule.Enabled {
					enabled = "enabled"
				}
				fmt.Printf("  %-40s %-10s %-14s %s\n", rule.ID, rule.Kind, rule.Severity, enabled)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&manifestURL, "manifest", "", "manifest URL (defaults to the configured one)")

	return cmd
}
