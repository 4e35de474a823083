package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the manifest without executing anything",
		Long: `Load the manifest and check everything a run would need.

This covers:
  - manifest syntax and schema conformance (CUE or YAML)
  - computed vars (Starlark) and ${name} expansion
  - guard and probe definitions, including WASI probe modules
  - task graph resolvability: every needs edge exists, no cycles
  - stack file parseability and the start_timeout duration
  - policy directory compilation`,
		Example: `  # Validate the discovered manifest
  groundcrew validate

  # Validate a specific manifest
  groundcrew validate -m ./ops/groundcrew.cue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := loadApp(ctx, appLogger, nil)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			// Resolving every task surfaces unknown needs and cycles that
			// only show up on paths no single target covers.
			for _, name := range a.graph.Names() {
				if _, err := a.graph.Resolve(name); err != nil {
					return err
				}
			}

			services := 0
			if a.manifest.Stack != nil {
				specs, _, err := a.stackSpecs(ctx)
				if err != nil {
					return err
				}
				services = len(specs)
			}

			summary := map[string]any{
				"project":  a.manifest.Project,
				"tasks":    len(a.graph.Names()),
				"services": services,
				"policies": len(a.policies.List()),
				"valid":    true,
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), summary)
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"manifest is valid: project=%s tasks=%d services=%d policies=%d\n",
				a.manifest.Project, summary["tasks"], services, summary["policies"])
			return nil
		},
	}

	return cmd
}
