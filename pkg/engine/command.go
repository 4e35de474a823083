package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// ExecCommand spawns an external process. Output streams to the
// configured writers so collaborator tools (compose, IaC CLIs) surface
// their output verbatim.
type ExecCommand struct {
	// Argv is the program and its arguments.
	Argv []string

	// Dir is the working directory, empty for the process default.
	Dir string

	// Env holds extra KEY=VALUE entries appended to the inherited
	// environment.
	Env []string

	// Stdout and Stderr default to the process streams when nil.
	Stdout io.Writer
	Stderr io.Writer

	// Interactive attaches stdin, for steps that block on user input
	// such as a browser-redirect sign-in flow.
	Interactive bool
}

// Describe returns the command line.
func (c ExecCommand) Describe() string {
	return strings.Join(c.Argv, " ")
}

// Execute runs the process and waits for it.
func (c ExecCommand) Execute(ctx context.Context) error {
	if len(c.Argv) == 0 {
		return NewPermanentError("exec command has empty argv", nil).WithCode(ErrCodeValidation)
	}

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if c.Interactive {
		cmd.Stdin = os.Stdin
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", c.Argv[0], err)
	}
	return nil
}

// FuncCommand adapts a function to the Command interface, used to embed
// collaborator calls (compose bring-up, credential bootstrap) as task
// steps.
type FuncCommand struct {
	// Label describes the step.
	Label string

	// Fn performs the step.
	Fn func(ctx context.Context) error
}

// Describe returns the step label.
func (c FuncCommand) Describe() string { return c.Label }

// Execute runs the function.
func (c FuncCommand) Execute(ctx context.Context) error { return c.Fn(ctx) }
