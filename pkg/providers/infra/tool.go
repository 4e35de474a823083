package infra

import (
	"context"
	"strings"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

// Tool drives an IaC CLI such as cdk.
type Tool struct {
	// Binary is the CLI executable, defaulting to cdk.
	Binary string

	// Dir is the working directory holding the infrastructure app.
	Dir string

	// Profile is an optional credential profile passed as --profile.
	Profile string

	// Env holds extra KEY=VALUE entries for the CLI.
	Env []string
}

func (t Tool) binary() string {
	if t.Binary == "" {
		return "cdk"
	}
	return t.Binary
}

func (t Tool) cli(args ...string) engine.Command {
	argv := append([]string{t.binary()}, args...)
	if t.Profile != "" {
		argv = append(argv, "--profile", t.Profile)
	}
	return engine.ExecCommand{Argv: argv, Dir: t.Dir, Env: t.Env}
}

// Synth renders the templates without touching the cloud.
func (t Tool) Synth() engine.Command {
	return t.cli("synth")
}

// Diff shows what a deploy would change.
func (t Tool) Diff() engine.Command {
	return t.cli("diff")
}

// Deploy applies the stacks. With diffFirst the change preview runs
// before the deploy, so the user sees what is about to change in the
// same task.
func (t Tool) Deploy(diffFirst bool) engine.Command {
	deploy := t.cli("deploy", "--require-approval", "never")
	if !diffFirst {
		return deploy
	}
	return sequence{steps: []engine.Command{t.Diff(), deploy}}
}

// Destroy tears the stacks down without a confirmation prompt. Whether
// a task may destroy at all is a policy question, answered by guards
// before the command ever runs.
func (t Tool) Destroy() engine.Command {
	return t.cli("destroy", "--force")
}

// sequence runs commands in order, stopping at the first failure.
type sequence struct {
	steps []engine.Command
}

func (s sequence) Describe() string {
	parts := make([]string, 0, len(s.steps))
	for _, step := range s.steps {
		parts = append(parts, step.Describe())
	}
	return strings.Join(parts, " && ")
}

func (s sequence) Execute(ctx context.Context) error {
	for _, step := range s.steps {
		if err := step.Execute(ctx); err != nil {
			return err
		}
	}
	return nil
}
