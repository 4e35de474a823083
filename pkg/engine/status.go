package engine

import "fmt"

// RunStatus represents the overall status of an orchestration run.
type RunStatus string

const (
	// RunStatusPending indicates the run is planned but not yet started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every planned task completed.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates a task or guard failed and the run aborted.
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// TaskStatus represents the status of one task within a run.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is planned but not yet started.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusRunning indicates the task body is executing.
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusSucceeded indicates all actions of the task completed.
	TaskStatusSucceeded TaskStatus = "succeeded"

	// TaskStatusFailed indicates a guard or action of the task failed.
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusSkipped indicates the task never ran because the run
	// aborted earlier.
	TaskStatusSkipped TaskStatus = "skipped"
)

// IsTerminal returns true if the task status represents a final state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed || s == TaskStatusSkipped
}

// Validate checks if the task status is valid.
func (s TaskStatus) Validate() error {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusSucceeded,
		TaskStatusFailed, TaskStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid task status: %s", s)
	}
}

// ProbeState is the tri-state answer of a probe. A probe that could not
// run at all is reported through the error return, not through this type.
type ProbeState string

const (
	// ProbeSatisfied indicates the desired external state already exists.
	ProbeSatisfied ProbeState = "satisfied"

	// ProbeUnsatisfied indicates the desired external state is absent.
	ProbeUnsatisfied ProbeState = "unsatisfied"
)

// ActionOutcome is the result of running an idempotent action.
type ActionOutcome string

const (
	// OutcomeExecuted indicates the action body ran and succeeded.
	OutcomeExecuted ActionOutcome = "executed"

	// OutcomeExecutedUnverified indicates the probe errored, so the body
	// ran without confirmation that it was needed.
	OutcomeExecutedUnverified ActionOutcome = "executed_unverified"

	// OutcomeSkipped indicates the probe reported the desired state
	// already exists; the body did not run.
	OutcomeSkipped ActionOutcome = "skipped_already_satisfied"

	// OutcomeFailed indicates the action body ran and failed.
	OutcomeFailed ActionOutcome = "failed"
)

// Validate checks if the action outcome is valid.
func (o ActionOutcome) Validate() error {
	switch o {
	case OutcomeExecuted, OutcomeExecutedUnverified, OutcomeSkipped, OutcomeFailed:
		return nil
	default:
		return fmt.Errorf("invalid action outcome: %s", o)
	}
}
