package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

// TaskGuard adapts the policy engine to a task guard. The guard denies
// when any policy produces a deny result for the task's input.
type TaskGuard struct {
	// Label names the guard in logs.
	Label string

	// Engine evaluates the policies.
	Engine *Engine

	// Policy restricts the guard to one named policy; empty evaluates
	// every loaded policy.
	Policy string

	// Input builds the policy input for the guarded task.
	Input func() *Input
}

// Name returns the guard label.
func (g *TaskGuard) Name() string {
	if g.Label != "" {
		return g.Label
	}
	return "policy"
}

// Check evaluates the policies. Deny messages become the remediation
// text, one per line.
func (g *TaskGuard) Check(ctx context.Context) error {
	violations, err := g.Engine.Evaluate(ctx, g.Input())
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}

	var messages []string
	for _, violation := range violations {
		if g.Policy != "" && violation.Policy != g.Policy {
			continue
		}
		messages = append(messages, violation.Message)
	}
	if len(messages) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(messages, "\n"))
}

var _ engine.Guard = (*TaskGuard)(nil)
