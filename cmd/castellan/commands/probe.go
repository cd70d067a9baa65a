package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/castellan-io/castellan/pkg/pipeline"
	"github.com/castellan-io/castellan/pkg/reconcile"
)

func newProbeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe existing workspace settings",
		Long: `Run the preflight probe standalone: resolve the workspace by its
correlation identifier and report which configured settings already exist
remotely.

Useful before a deployment to see what the pipeline would skip, and for
verifying that the correlation identifier resolves at all.`,
		Example: `  # Probe the configured workspace
  castellan probe

  # Probe a different environment
  castellan probe --config prod.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			tel, err := buildTelemetry(cfg, cliVersion)
			if err != nil {
				return err
			}
			logger := tel.Logger.Zerolog()

			client, err := buildRemoteClient(cfg, cliVersion, logger)
			if err != nil {
				return err
			}

			locator := pipeline.NewRemoteLocator(client, cfg.Deployment.Scope, logger)
			workspacePath, err := locator.Locate(ctx, cfg.Deployment.CorrelationID)
			if err != nil {
				return fmt.Errorf("workspace lookup failed: %w", err)
			}
			fmt.Printf("Workspace: %s\n\n", workspacePath)

			req, err := cfg.ToRequest()
			if err != nil {
				return err
			}

			reconciler := reconcile.NewReconciler(client, reconcile.NewRuleClassifier(), logger)
			for _, setting := range req.Settings {
				ref := setting.Ref
				if ref.BasePath == "" {
					ref.BasePath = workspacePath
				}

				if !setting.EnabledByPolicy {
					fmt.Printf("  %-20s %-40s disabled\n", setting.Kind, ref.Path())
					continue
				}

				exists, err := reconciler.Probe(ctx, ref)
				state := "absent"
				if err != nil {
					state = fmt.Sprintf("probe failed: %v", err)
				} else if exists {
					state = "exists"
				}
				fmt.Printf("  %-20s %-40s %s\n", setting.Kind, ref.Path(), state)
			}

			return nil
		},
	}

	return cmd
}
