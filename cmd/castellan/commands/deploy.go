package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/castellan-io/castellan/pkg/automation"
	"github.com/castellan-io/castellan/pkg/pipeline"
	"github.com/castellan-io/castellan/pkg/principal"
	"github.com/castellan-io/castellan/pkg/reconcile"
	"github.com/castellan-io/castellan/pkg/rules"
	"github.com/castellan-io/castellan/pkg/stores"
)

// directoryBasePath is where the identity directory is mounted on the
// resource API.
const directoryBasePath = "/directory"

func newDeployCommand(version string) *cobra.Command {
	var (
		workers     int
		skipJournal bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Run the staged deployment pipeline",
		Long: `Run the full five-stage deployment pipeline against the configured
workspace.

This command:
  - Resolves the workspace by its correlation identifier
  - Probes existing settings and flips create-only skips
  - Reconciles infrastructure settings and data connectors
  - Deploys the configured response automations
  - Publishes the detection rule manifest
  - Finalizes automation role bindings

Interrupting the run aborts between stages; the running stage always
finishes so no reconcile pass is left half-applied.`,
		Example: `  # Deploy with the default config file
  castellan deploy

  # Deploy a specific environment
  castellan deploy --config prod.yaml

  # Limit rule publishing concurrency
  castellan deploy --workers 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			tel, err := buildTelemetry(cfg, version)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				tel.Shutdown(shutdownCtx)
			}()
			logger := tel.Logger.Zerolog()

			if cfg.Telemetry.Metrics.Enabled {
				if err := tel.StartMetricsServer(); err != nil {
					logger.Warn().Err(err).Msg("metrics listener failed to start")
				}
			}

			client, err := buildRemoteClient(cfg, version, logger)
			if err != nil {
				return err
			}

			gate, err := buildGate(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize policy engine: %w", err)
			}

			pcfg := pipeline.Config{
				Reconciler:  reconcile.NewReconciler(client, reconcile.NewRuleClassifier(), logger),
				Discoverer:  principal.NewDiscoverer(principal.NewRemoteDirectory(client, directoryBasePath, logger), logger),
				Binder:      principal.NewBinder(client, logger),
				Automations: automation.NewRemoteDeployer(client, logger),
				Content:     rules.NewDeployer(client, workers, logger),
				Locator:     pipeline.NewRemoteLocator(client, cfg.Deployment.Scope, logger),
				Metrics:     tel.Metrics,
				Events:      tel.Events,
				Logger:      logger,
			}
			if gate != nil {
				pcfg.Gate = gate
			}

			if !skipJournal {
				store, err := openStore(ctx, cfg)
				if err != nil {
					return fmt.Errorf("failed to open journal: %w", err)
				}
				defer store.Close()
				pcfg.Recorder = stores.NewJournal(store, "cli")
			}

			orch, err := pipeline.NewOrchestrator(pcfg)
			if err != nil {
				return err
			}

			req, err := cfg.ToRequest()
			if err != nil {
				return err
			}

			result, deployErr := orch.Deploy(ctx, req)
			if result != nil {
				printResult(result)
			}
			return deployErr
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 4, "max parallel rule creations")
	cmd.Flags().BoolVar(&skipJournal, "no-journal", false, "do not record the run in the local journal")

	return cmd
}

func printResult(result *pipeline.Result) {
	if jsonOutput {
		encoded, err := json.MarshalIndent(result, "", "  ")
		if err == nil {
			fmt.Println(string(encoded))
		}
		return
	}

	fmt.Printf("Deployment %s (%s)\n", result.DeploymentID, result.FinalOutcome)
	if result.WorkspacePath != "" {
		fmt.Printf("Workspace:  %s\n", result.WorkspacePath)
	}
	fmt.Println()

	for _, sr := range result.StageResults {
		line := fmt.Sprintf("  %-28s %-10s %s", sr.Stage, sr.Status, sr.Duration.Round(time.Millisecond))
		if sr.Retried {
			line += "  (retried)"
		}
		fmt.Println(line)
		if sr.Detail != "" {
			fmt.Printf("    %s\n", sr.Detail)
		}
	}

	if s := result.ManifestSummary; s != nil {
		fmt.Printf("\nRules: %d total, %d created, %d skipped, %d errors\n",
			s.Total, s.Created, s.Skipped, s.Errors)
	}

	if result.FinalOutcome != pipeline.OutcomeSuccess {
		fmt.Fprintln(os.Stderr)
		fmt.Fprintf(os.Stderr, "Deployment finished with outcome %s; see 'castellan runs' for details\n", result.FinalOutcome)
	}
}
