package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	// cliVersion is stamped by Execute for telemetry identification.
	cliVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	cliVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "castellan",
		Short: "Castellan - Security workspace deployment orchestrator",
		Long: `Castellan drives security-analytics workspaces to a declared desired
state through a staged deployment pipeline.

Stages:
  - Preflight probe of existing workspace settings
  - Infrastructure settings and data connector reconciliation
  - Response automation deployment
  - Manifest-driven detection rule publishing
  - Automation role binding finalization

Every run is journaled locally and can be inspected with 'castellan runs'.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "castellan.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newDeployCommand(cliVersion))
	rootCmd.AddCommand(newProbeCommand())
	rootCmd.AddCommand(newRulesCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}
