package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// GuardFunc adapts a function to the Guard interface.
type GuardFunc struct {
	// Label names the guard in logs and error messages.
	Label string

	// Fn returns nil when the precondition holds; the error message is
	// the remediation instruction.
	Fn func(ctx context.Context) error
}

// Name returns the guard label.
func (g GuardFunc) Name() string { return g.Label }

// Check runs the guard function.
func (g GuardFunc) Check(ctx context.Context) error { return g.Fn(ctx) }

// CommandGuard is satisfied when a command exits zero. On failure the
// configured remedy text is reported.
type CommandGuard struct {
	// Label names the guard.
	Label string

	// Argv is the check command and its arguments.
	Argv []string

	// Remedy is the remediation instruction shown when the check fails.
	Remedy string
}

// Name returns the guard label.
func (g CommandGuard) Name() string { return g.Label }

// Check runs the command; any failure means the precondition is unmet.
func (g CommandGuard) Check(ctx context.Context) error {
	if len(g.Argv) == 0 {
		return fmt.Errorf("guard %s has no check command", g.Label)
	}
	cmd := exec.CommandContext(ctx, g.Argv[0], g.Argv[1:]...)
	if err := cmd.Run(); err != nil {
		if g.Remedy != "" {
			return fmt.Errorf("%s", g.Remedy)
		}
		return fmt.Errorf("precondition %s failed: %v", g.Label, err)
	}
	return nil
}

// EnvGuard is satisfied when an environment variable is set and
// non-empty, e.g. an activated isolated runtime environment.
type EnvGuard struct {
	// Label names the guard.
	Label string

	// Variable is the environment variable to require.
	Variable string

	// Remedy is the remediation instruction shown when unset.
	Remedy string
}

// Name returns the guard label.
func (g EnvGuard) Name() string { return g.Label }

// Check requires the variable to be set and non-empty.
func (g EnvGuard) Check(_ context.Context) error {
	if os.Getenv(g.Variable) != "" {
		return nil
	}
	if g.Remedy != "" {
		return fmt.Errorf("%s", g.Remedy)
	}
	return fmt.Errorf("environment variable %s is not set", g.Variable)
}

// GuardEvaluator checks a task's guards immediately before its body
// runs. Guards are never cached: state can change between tasks (a
// sub-shell deactivating an environment, a credential expiring), so the
// same guard is re-evaluated for every task that references it.
type GuardEvaluator struct{}

// NewGuardEvaluator creates a guard evaluator.
func NewGuardEvaluator() *GuardEvaluator {
	return &GuardEvaluator{}
}

// Check evaluates every guard of the task in order. The first
// unsatisfied guard aborts with a guard error carrying the remediation
// text verbatim.
func (e *GuardEvaluator) Check(ctx context.Context, task *Task) error {
	for _, guard := range task.Guards {
		if err := guard.Check(ctx); err != nil {
			return NewPermanentError(
				fmt.Sprintf("guard %s unsatisfied", guard.Name()), nil).
				WithCode(ErrCodeGuard).
				WithTask(task.Name).
				WithRemedy(err.Error())
		}
	}
	return nil
}
