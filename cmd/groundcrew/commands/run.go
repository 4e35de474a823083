package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/groundcrew/groundcrew/pkg/engine"
	"github.com/groundcrew/groundcrew/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var (
		noJournal     bool
		journalPath   string
		metricsListen string
		traceExporter string
		traceEndpoint string
	)

	cmd := &cobra.Command{
		Use:   "run <task> [name=value...]",
		Short: "Run a task and its prerequisites",
		Long: `Resolve the task's dependency order and execute it.

Prerequisites run before the task, each exactly once. Guards are
checked immediately before each task; an unsatisfied guard aborts the
run and prints its remediation instruction. Actions probe before they
act, so work whose desired state already exists is skipped.

Arguments after the task name override manifest vars for this run,
winning over both static and computed values.`,
		Example: `  # Run the dev-up task with everything it needs
  groundcrew run dev-up

  # Override a manifest var for this run only
  groundcrew run deploy env=staging

  # Run without recording history
  groundcrew run migrate --no-journal

  # Expose Prometheus metrics while the run is in flight
  groundcrew run dev-up --metrics-listen :9090

  # Export spans to a local collector
  groundcrew run dev-up --trace otlp --trace-endpoint localhost:4317`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			target := args[0]

			overrides, err := parseVarArgs(args[1:])
			if err != nil {
				return err
			}

			a, err := loadApp(ctx, appLogger, overrides)
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			a.target = target

			opts := []engine.RunnerOption{
				engine.WithLogger(telemetry.Component(a.logger, "runner")),
			}

			if !noJournal {
				journal, err := a.openJournal(ctx, journalPath)
				if err != nil {
					return err
				}
				defer journal.Close()
				opts = append(opts, engine.WithJournal(journal))
			}

			if metricsListen != "" {
				metrics := telemetry.NewMetrics(telemetry.MetricsConfig{
					Enabled:       true,
					ListenAddress: metricsListen,
					Namespace:     "groundcrew",
				})
				metrics.Serve()
				opts = append(opts, engine.WithMetrics(metrics))
				a.metrics = metrics
			}

			var runSpan trace.Span
			if traceExporter != "" {
				tracer, err := telemetry.NewTracer(telemetry.TracingConfig{
					Enabled:       true,
					Exporter:      traceExporter,
					Endpoint:      traceEndpoint,
					SamplingRate:  1.0,
					ExportTimeout: 30 * time.Second,
					Insecure:      true,
				}, "groundcrew", buildVersion, "cli")
				if err != nil {
					return err
				}
				defer func() {
					// Flush spans even when the run context was cancelled.
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					_ = tracer.Shutdown(shutdownCtx)
				}()
				ctx, runSpan = tracer.StartRunSpan(ctx, target)
			}

			report, runErr := engine.NewRunner(a.graph, opts...).Run(ctx, target)
			if runSpan != nil {
				if runErr != nil {
					telemetry.RecordError(runSpan, runErr)
				} else {
					telemetry.RecordSuccess(runSpan)
				}
				runSpan.End()
			}
			if report != nil {
				if err := printReport(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&noJournal, "no-journal", false, "skip recording the run in history")
	cmd.Flags().StringVar(&journalPath, "journal", "", "run history database path (default: .groundcrew/history.db next to the manifest)")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address during the run")
	cmd.Flags().StringVar(&traceExporter, "trace", "", "span exporter (otlp or stdout)")
	cmd.Flags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP gRPC collector endpoint")

	return cmd
}

// parseVarArgs turns trailing name=value arguments into manifest var
// overrides.
func parseVarArgs(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	overrides := make(map[string]any, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("argument %q is not name=value", arg), nil).
				WithCode(engine.ErrCodeValidation)
		}
		overrides[name] = value
	}
	return overrides, nil
}
