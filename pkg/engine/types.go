package engine

import (
	"context"
	"time"
)

// Task is a named unit of work with prerequisites. Tasks are immutable
// after construction; all runtime state lives in TaskResult.
type Task struct {
	// Name is the unique task identifier.
	Name string

	// Needs lists prerequisite task names, resolved before this task.
	Needs []string

	// Guards are preconditions re-checked immediately before the body
	// runs. Any unsatisfied guard aborts the entire run.
	Guards []Guard

	// Actions form the task body, executed strictly in sequence.
	Actions []*Action

	// Description is optional human-readable text shown by planning.
	Description string
}

// Command is one executable step. Implementations wrap process spawns,
// file writes, HTTP calls, or collaborator invocations, which keeps
// tasks declarative lists of Command values.
type Command interface {
	// Describe returns a short human-readable label for logs and plans.
	Describe() string

	// Execute performs the step. A non-nil error means a non-zero exit
	// of the underlying operation.
	Execute(ctx context.Context) error
}

// Probe is a side-effect-free query of external state.
type Probe interface {
	// Name returns a short label for logs.
	Name() string

	// Check reports whether the desired state exists. A non-nil error
	// means the probe itself failed, which is distinct from a negative
	// answer.
	Check(ctx context.Context) (ProbeState, error)
}

// Guard is a precondition check that aborts the run when unmet.
type Guard interface {
	// Name returns a short label for logs.
	Name() string

	// Check returns nil when the precondition holds. The returned error
	// message is the remediation instruction, printed verbatim.
	Check(ctx context.Context) error
}

// ActionResult records the outcome of one action.
type ActionResult struct {
	// Action is the action name.
	Action string `json:"action"`

	// Outcome is what happened: executed, skipped, failed.
	Outcome ActionOutcome `json:"outcome"`

	// Duration is how long the action took, zero when skipped.
	Duration time.Duration `json:"duration"`

	// Error is the failure cause when Outcome is failed.
	Error string `json:"error,omitempty"`
}

// TaskResult records the outcome of one task within a run.
type TaskResult struct {
	// Task is the task name.
	Task string `json:"task"`

	// Status is the final task status.
	Status TaskStatus `json:"status"`

	// Actions holds per-action results in execution order.
	Actions []ActionResult `json:"actions,omitempty"`

	// StartedAt is when the task began, zero when skipped.
	StartedAt time.Time `json:"started_at,omitzero"`

	// Duration is the task wall time.
	Duration time.Duration `json:"duration"`

	// Error is the failure cause when Status is failed.
	Error string `json:"error,omitempty"`

	// failure carries the typed cause for run control flow; Error holds
	// the rendered form for persistence.
	failure error
}

// RunReport is the complete record of one orchestration run.
type RunReport struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// Target is the requested task name.
	Target string `json:"target"`

	// Status is the final run status.
	Status RunStatus `json:"status"`

	// Tasks holds per-task results in resolved execution order.
	Tasks []TaskResult `json:"tasks"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completed_at"`
}

// Journal persists run history. The engine treats persistence as
// optional: a nil Journal disables recording.
type Journal interface {
	// RecordRunStart persists a new run in pending/running state.
	RecordRunStart(ctx context.Context, report *RunReport) error

	// RecordTaskResult appends one task result to a run.
	RecordTaskResult(ctx context.Context, runID string, result *TaskResult) error

	// RecordRunEnd persists the final run state.
	RecordRunEnd(ctx context.Context, report *RunReport) error
}

// MetricsSink receives execution counters. A nil sink disables metrics.
type MetricsSink interface {
	// RunCompleted records a finished run with its final status.
	RunCompleted(status RunStatus, d time.Duration)

	// TaskCompleted records a finished task with its final status.
	TaskCompleted(task string, status TaskStatus, d time.Duration)

	// ActionCompleted records an action outcome.
	ActionCompleted(action string, outcome ActionOutcome)
}
