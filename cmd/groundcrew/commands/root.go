package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/groundcrew/groundcrew/pkg/telemetry"
)

var (
	// Global flags
	manifestPath string
	verbose      bool
	jsonOutput   bool

	// appLogger is the process logger, built once flags are parsed.
	appLogger zerolog.Logger

	// buildVersion is the release version, used to tag telemetry.
	buildVersion string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "groundcrew",
		Short: "Groundcrew - Development Environment Orchestrator",
		Long: `Groundcrew turns a project's setup and operations runbook into a
task graph that is safe to re-run. Tasks declare what they need, every
action probes before it acts, and collaborator tools (compose, cloud
CLIs) keep doing the heavy lifting.

Features:
  - Dependency-ordered task execution with cycle detection
  - Probe-gated idempotent actions (skip what already exists)
  - Guard preconditions with verbatim remediation hints
  - Service stack bring-up with health-gated startup levels
  - Cloud credential bootstrap with skip-if-authenticated
  - Rego policy guards and WASI probe plugins`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "info"
			if verbose {
				level = "debug"
			}
			format := "console"
			if jsonOutput {
				format = "json"
			}
			appLogger = telemetry.NewLogger(telemetry.LoggingConfig{Level: level, Format: format}, os.Stderr)
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", "", "manifest file path (default: discover groundcrew.cue/.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newUpCommand())
	rootCmd.AddCommand(newLoginCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
