package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

// printJSON renders any value as indented JSON, used by every command
// when --json is set.
func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// printReport renders a run report as text, or JSON under --json.
func printReport(w io.Writer, report *engine.RunReport) error {
	if jsonOutput {
		return printJSON(w, report)
	}

	fmt.Fprintf(w, "run %s  target=%s  status=%s  duration=%s\n",
		shortID(report.ID), report.Target, report.Status,
		roundDuration(report.CompletedAt.Sub(report.StartedAt)))

	for _, task := range report.Tasks {
		fmt.Fprintf(w, "  %-9s %-24s %s\n",
			statusMark(task.Status), task.Task, roundDuration(task.Duration))
		for _, action := range task.Actions {
			fmt.Fprintf(w, "      %-32s %s\n", action.Action, action.Outcome)
		}
		if task.Error != "" {
			fmt.Fprintf(w, "      error: %s\n", task.Error)
		}
	}
	return nil
}

func statusMark(status engine.TaskStatus) string {
	switch status {
	case engine.TaskStatusSucceeded:
		return "ok"
	case engine.TaskStatusFailed:
		return "failed"
	case engine.TaskStatusSkipped:
		return "skipped"
	default:
		return string(status)
	}
}

// shortID abbreviates a run UUID for single-line output; full IDs show
// in JSON and in history detail.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func roundDuration(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
