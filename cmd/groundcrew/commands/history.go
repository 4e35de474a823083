package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/groundcrew/groundcrew/pkg/config"
	"github.com/groundcrew/groundcrew/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit       int
		journalPath string
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `List recorded runs, newest first, or show one run in detail.

Run history lives in a local database next to the manifest. Detail
output includes every task of the run with its per-action outcomes,
including which actions were skipped as already satisfied.`,
		Example: `  # List the last 20 runs
  groundcrew history

  # List more
  groundcrew history --limit 50

  # Show one run with per-action outcomes
  groundcrew history 4f6b2a9c-1d3e-4f5a-8b7c-9d0e1f2a3b4c`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			path := journalPath
			if path == "" {
				manifestFile, err := config.Discover(".", manifestPath)
				if err != nil {
					return err
				}
				path = filepath.Join(filepath.Dir(manifestFile), ".groundcrew", "history.db")
			}

			journal, err := stores.Open(ctx, path)
			if err != nil {
				return err
			}
			defer journal.Close()

			if len(args) == 1 {
				return showRun(cmd, journal, args[0])
			}
			return listRuns(cmd, journal, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	cmd.Flags().StringVar(&journalPath, "journal", "", "run history database path")

	return cmd
}

func listRuns(cmd *cobra.Command, journal *stores.SQLiteJournal, limit int) error {
	runs, err := journal.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, runs)
	}

	if len(runs) == 0 {
		fmt.Fprintln(w, "no recorded runs")
		return nil
	}

	fmt.Fprintf(w, "%-36s  %-20s  %-9s  %-19s  %s\n", "RUN", "TARGET", "STATUS", "STARTED", "DURATION")
	for _, run := range runs {
		duration := "-"
		if run.CompletedAt != nil {
			duration = roundDuration(run.CompletedAt.Sub(run.StartedAt)).String()
		}
		fmt.Fprintf(w, "%-36s  %-20s  %-9s  %-19s  %s\n",
			run.ID, run.Target, run.Status,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"), duration)
	}
	return nil
}

func showRun(cmd *cobra.Command, journal *stores.SQLiteJournal, id string) error {
	ctx := cmd.Context()

	run, err := journal.GetRun(ctx, id)
	if err != nil {
		return err
	}
	tasks, err := journal.TaskResults(ctx, id)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, map[string]any{"run": run, "tasks": tasks})
	}

	fmt.Fprintf(w, "run %s\n", run.ID)
	fmt.Fprintf(w, "  target:  %s\n", run.Target)
	fmt.Fprintf(w, "  status:  %s\n", run.Status)
	fmt.Fprintf(w, "  started: %s\n", run.StartedAt.Local().Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "  took:    %s\n", roundDuration(run.CompletedAt.Sub(run.StartedAt)))
	}

	for _, task := range tasks {
		fmt.Fprintf(w, "  %-9s %-24s %s\n", task.Status, task.Task, roundDuration(task.Duration))
		for _, action := range task.Actions {
			fmt.Fprintf(w, "      %-32s %s\n", action.Action, action.Outcome)
		}
		if task.Error != "" {
			fmt.Fprintf(w, "      error: %s\n", task.Error)
		}
	}
	return nil
}
