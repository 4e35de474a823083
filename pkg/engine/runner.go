package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/groundcrew/groundcrew/pkg/engine"

// Runner executes resolved task orders sequentially. Tasks run one at a
// time in topological order because later tasks may depend on side
// effects of earlier ones; parallel task execution is out of scope.
type Runner struct {
	graph   *Graph
	guards  *GuardEvaluator
	journal Journal
	metrics MetricsSink
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithJournal enables run history persistence.
func WithJournal(j Journal) RunnerOption {
	return func(r *Runner) { r.journal = j }
}

// WithMetrics enables execution counters.
func WithMetrics(m MetricsSink) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the run logger.
func WithLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a runner over the given task graph.
func NewRunner(graph *Graph, opts ...RunnerOption) *Runner {
	r := &Runner{
		graph:  graph,
		guards: NewGuardEvaluator(),
		logger: zerolog.Nop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run resolves and executes the requested task. Planning failures
// (unknown task, cycle) surface before any mutating action runs. A
// guard or action failure aborts the run: every task still planned is
// marked skipped, never executed, and effects of tasks that already
// completed are left in place. The report is returned alongside the
// error so callers can render partial progress.
func (r *Runner) Run(ctx context.Context, target string) (*RunReport, error) {
	order, err := r.graph.Resolve(target)
	if err != nil {
		return nil, err
	}

	report := &RunReport{
		ID:        uuid.New().String(),
		Target:    target,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
	}

	logger := r.logger.With().Str("run_id", report.ID).Str("target", target).Logger()
	logger.Info().Int("tasks", len(order)).Msg("run started")

	ctx, span := r.tracer.Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("run.id", report.ID),
			attribute.String("run.target", target),
		))
	defer span.End()

	if r.journal != nil {
		if jerr := r.journal.RecordRunStart(ctx, report); jerr != nil {
			logger.Warn().Err(jerr).Msg("journal write failed, continuing")
		}
	}

	var runErr error
	for _, task := range order {
		if runErr != nil {
			// Run aborted: remaining planned tasks are skipped, not
			// executed. Already-started external services stay as-is.
			skipped := TaskResult{Task: task.Name, Status: TaskStatusSkipped}
			report.Tasks = append(report.Tasks, skipped)
			r.recordTask(ctx, logger, report.ID, &skipped)
			continue
		}

		result := r.runTask(ctx, logger, task)
		report.Tasks = append(report.Tasks, result)
		r.recordTask(ctx, logger, report.ID, &result)

		if result.Status == TaskStatusFailed {
			runErr = result.failure
		}
	}

	report.CompletedAt = time.Now()
	if runErr != nil {
		report.Status = RunStatusFailed
		span.SetStatus(codes.Error, runErr.Error())
	} else {
		report.Status = RunStatusSucceeded
	}

	if r.metrics != nil {
		r.metrics.RunCompleted(report.Status, report.CompletedAt.Sub(report.StartedAt))
	}
	if r.journal != nil {
		if jerr := r.journal.RecordRunEnd(ctx, report); jerr != nil {
			logger.Warn().Err(jerr).Msg("journal write failed")
		}
	}

	logger.Info().
		Str("status", string(report.Status)).
		Dur("duration", report.CompletedAt.Sub(report.StartedAt)).
		Msg("run finished")
	return report, runErr
}

// runTask checks the task's guards and executes its actions in order.
func (r *Runner) runTask(ctx context.Context, logger zerolog.Logger, task *Task) TaskResult {
	result := TaskResult{
		Task:      task.Name,
		Status:    TaskStatusRunning,
		StartedAt: time.Now(),
	}
	taskLogger := logger.With().Str("task", task.Name).Logger()

	ctx, span := r.tracer.Start(ctx, "task "+task.Name,
		trace.WithAttributes(attribute.String("task.name", task.Name)))
	defer span.End()

	finish := func(status TaskStatus, cause error) TaskResult {
		result.Status = status
		result.Duration = time.Since(result.StartedAt)
		result.failure = cause
		if cause != nil {
			result.Error = cause.Error()
			span.SetStatus(codes.Error, cause.Error())
		}
		if r.metrics != nil {
			r.metrics.TaskCompleted(task.Name, status, result.Duration)
		}
		return result
	}

	// Guards reflect the moment of execution, not the moment of
	// planning, and are re-checked for every task.
	if err := r.guards.Check(ctx, task); err != nil {
		var remedy string
		if oe, ok := err.(*OrchestrationError); ok {
			remedy = oe.Remedy
		}
		taskLogger.Error().Str("remedy", remedy).Msg("guard unsatisfied, aborting run")
		return finish(TaskStatusFailed, err)
	}

	for _, action := range task.Actions {
		actionResult, err := action.Run(ctx, taskLogger)
		result.Actions = append(result.Actions, actionResult)
		if r.metrics != nil {
			r.metrics.ActionCompleted(action.Name, actionResult.Outcome)
		}
		if err != nil {
			// Later actions in the same task never run after an
			// earlier one fails.
			taskLogger.Error().Err(err).Str("action", action.Name).Msg("task failed")
			if oe, ok := err.(*OrchestrationError); ok {
				return finish(TaskStatusFailed, oe.WithTask(task.Name))
			}
			return finish(TaskStatusFailed, err)
		}
	}

	taskLogger.Info().Int("actions", len(task.Actions)).Msg("task succeeded")
	return finish(TaskStatusSucceeded, nil)
}

// recordTask appends a task result to the journal, tolerating journal
// failures.
func (r *Runner) recordTask(ctx context.Context, logger zerolog.Logger, runID string, result *TaskResult) {
	if r.journal == nil {
		return
	}
	if err := r.journal.RecordTaskResult(ctx, runID, result); err != nil {
		logger.Warn().Err(err).Str("task", result.Task).Msg("journal write failed")
	}
}
