package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/castellan-io/castellan/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	var (
		limit  int
		showID string
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded deployment runs",
		Long: `List the deployment runs recorded in the local journal, or show one
run in detail with its per-stage results and rule outcomes.`,
		Example: `  # List recent runs
  castellan runs

  # Show one run in detail
  castellan runs --id 6f1c9a33-...

  # List more history
  castellan runs --limit 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			store, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer store.Close()

			if showID != "" {
				return showRun(cmd, store, showID)
			}

			deployments, err := store.ListDeployments(ctx, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				encoded, err := json.MarshalIndent(deployments, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(encoded))
				return nil
			}

			if len(deployments) == 0 {
				fmt.Println("No recorded runs")
				return nil
			}

			fmt.Printf("%-38s %-22s %-16s %s\n", "ID", "CORRELATION", "STATUS", "STARTED")
			for _, d := range deployments {
				fmt.Printf("%-38s %-22s %-16s %s\n",
					d.ID, d.CorrelationID, d.Status, d.StartedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().StringVar(&showID, "id", "", "show one run in detail")

	return cmd
}

func showRun(cmd *cobra.Command, store *stores.SQLiteStore, id string) error {
	ctx := cmd.Context()

	deployment, err := store.GetDeployment(ctx, id)
	if err != nil {
		return err
	}
	stages, err := store.ListStageRecordsByDeployment(ctx, id)
	if err != nil {
		return err
	}
	ruleRecords, err := store.ListRuleRecordsByDeployment(ctx, id)
	if err != nil {
		return err
	}

	if jsonOutput {
		encoded, err := json.MarshalIndent(map[string]interface{}{
			"deployment": deployment,
			"stages":     stages,
			"rules":      ruleRecords,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	}

	fmt.Printf("Deployment %s (%s)\n", deployment.ID, deployment.Status)
	fmt.Printf("Correlation: %s\n", deployment.CorrelationID)
	fmt.Printf("Scope:       %s\n", deployment.Scope)
	if deployment.WorkspacePath != "" {
		fmt.Printf("Workspace:   %s\n", deployment.WorkspacePath)
	}
	fmt.Printf("Started:     %s\n", deployment.StartedAt.Format(time.RFC3339))
	if deployment.FinishedAt != nil {
		fmt.Printf("Finished:    %s\n", deployment.FinishedAt.Format(time.RFC3339))
	}
	if deployment.Error != nil {
		fmt.Printf("Error:       %s\n", *deployment.Error)
	}

	if len(stages) > 0 {
		fmt.Println("\nStages:")
		for _, sr := range stages {
			line := fmt.Sprintf("  %-28s %-10s %dms", sr.Stage, sr.Status, sr.DurationMS)
			if sr.Retried {
				line += "  (retried)"
			}
			fmt.Println(line)
			if sr.Detail != nil {
				fmt.Printf("    %s\n", *sr.Detail)
			}
		}
	}

	if len(ruleRecords) > 0 {
		fmt.Println("\nRules:")
		for _, rr := range ruleRecords {
			line := fmt.Sprintf("  %-40s %s", rr.RuleID, rr.Outcome)
			if rr.Message != nil {
				line += "  " + *rr.Message
			}
			fmt.Println(line)
		}
	}

	return nil
}
