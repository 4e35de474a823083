package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/groundcrew/groundcrew/pkg/compose"
	"github.com/groundcrew/groundcrew/pkg/engine"
	"github.com/groundcrew/groundcrew/pkg/telemetry"
)

func newUpCommand() *cobra.Command {
	var (
		down          bool
		metricsListen string
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Bring the service stack up (or down)",
		Long: `Start the manifest's service stack in dependency order.

Services at the same dependency level start concurrently; the next
level waits until every service below it is healthy. Images with a
build context are built only when missing locally. Already-healthy
services are left untouched, so up is safe to repeat.

With --down the stack stops in reverse order instead.`,
		Example: `  # Bring every service to healthy
  groundcrew up

  # Tear the stack down, dependents first
  groundcrew up --down`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := loadApp(ctx, appLogger, nil)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if a.manifest.Stack == nil {
				return engine.NewPermanentError("manifest has no stack section", nil).
					WithCode(engine.ErrCodeValidation)
			}

			nodes, err := a.stackNodes(ctx)
			if err != nil {
				return err
			}
			if metricsListen != "" {
				metrics := telemetry.NewMetrics(telemetry.MetricsConfig{
					Enabled:       true,
					ListenAddress: metricsListen,
					Namespace:     "groundcrew",
				})
				metrics.Serve()
				a.metrics = metrics
			}
			composer := a.composer()

			if down {
				if err := composer.Down(ctx, nodes); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stack %s stopped (%d services)\n", a.manifest.Project, len(nodes))
				return nil
			}

			report, upErr := composer.Up(ctx, nodes)
			if report != nil {
				if err := printUpReport(cmd, report); err != nil {
					return err
				}
			}
			return upErr
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "stop the stack instead of starting it")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address during the bring-up")

	return cmd
}

func printUpReport(cmd *cobra.Command, report *compose.UpReport) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, report)
	}

	for i, level := range report.Levels {
		fmt.Fprintf(w, "level %d: %s\n", i, strings.Join(level, " "))
	}

	names := make([]string, 0, len(report.Nodes))
	for name := range report.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		node := report.Nodes[name]
		fmt.Fprintf(w, "  %-24s %-8s %s\n", node.Name, node.State, roundDuration(node.Duration))
		if node.Error != "" {
			fmt.Fprintf(w, "      error: %s\n", node.Error)
		}
	}
	return nil
}
