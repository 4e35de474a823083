package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "plan [task]",
		Short: "Show the execution order for a task",
		Long: `Resolve a task's dependency order without executing anything.

Planning is a pure query: no guard runs, no probe fires, no action
executes. Cycles and unknown task names surface here with the same
errors a run would produce.`,
		Example: `  # Show what running dev-up would execute, in order
  groundcrew plan dev-up

  # Render the whole task graph as Graphviz DOT
  groundcrew plan --dot | dot -Tsvg -o graph.svg`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := loadApp(ctx, appLogger, nil)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if dot {
				fmt.Fprint(cmd.OutOrStdout(), a.graph.DOT())
				return nil
			}

			if len(args) == 0 {
				return engine.NewPermanentError("plan needs a task name (or --dot)", nil).
					WithCode(engine.ErrCodeValidation)
			}
			target := args[0]
			a.target = target

			order, err := a.graph.Resolve(target)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), planView(target, order))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "execution order for %s (%d tasks):\n", target, len(order))
			for i, task := range order {
				fmt.Fprintf(cmd.OutOrStdout(), "  %2d. %-24s guards=%d actions=%d", i+1, task.Name, len(task.Guards), len(task.Actions))
				if task.Description != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s", task.Description)
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print the full task graph in Graphviz DOT format")

	return cmd
}

// planStep is the JSON shape of one planned task.
type planStep struct {
	Position    int    `json:"position"`
	Task        string `json:"task"`
	Description string `json:"description,omitempty"`
	Guards      int    `json:"guards"`
	Actions     int    `json:"actions"`
}

func planView(target string, order []*engine.Task) map[string]any {
	steps := make([]planStep, 0, len(order))
	for i, task := range order {
		steps = append(steps, planStep{
			Position:    i + 1,
			Task:        task.Name,
			Description: task.Description,
			Guards:      len(task.Guards),
			Actions:     len(task.Actions),
		})
	}
	return map[string]any{"target": target, "order": steps}
}
