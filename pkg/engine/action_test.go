package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

// statefulProbe flips to satisfied once the paired action has run,
// modeling "docker image now exists" style external state.
type statefulProbe struct {
	satisfied bool
	err       error
	checks    int
}

func (p *statefulProbe) Name() string { return "stateful" }

func (p *statefulProbe) Check(context.Context) (ProbeState, error) {
	p.checks++
	if p.err != nil {
		return ProbeUnsatisfied, p.err
	}
	if p.satisfied {
		return ProbeSatisfied, nil
	}
	return ProbeUnsatisfied, nil
}

type countingCommand struct {
	runs int
	err  error
}

func (c *countingCommand) Describe() string { return "counting" }

func (c *countingCommand) Execute(context.Context) error {
	c.runs++
	return c.err
}

func TestAction_Run_SkipsWhenSatisfied(t *testing.T) {
	body := &countingCommand{}
	action := &Action{
		Name:  "build-image",
		Probe: &statefulProbe{satisfied: true},
		Body:  body,
	}

	result, err := action.Run(context.Background(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Outcome != OutcomeSkipped {
		t.Errorf("Expected skipped outcome, got %s", result.Outcome)
	}
	if body.runs != 0 {
		t.Errorf("Body ran %d times, want 0", body.runs)
	}
}

func TestAction_Run_ExecutesWhenUnsatisfied(t *testing.T) {
	body := &countingCommand{}
	action := &Action{
		Name:  "build-image",
		Probe: &statefulProbe{},
		Body:  body,
	}

	result, err := action.Run(context.Background(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Outcome != OutcomeExecuted {
		t.Errorf("Expected executed outcome, got %s", result.Outcome)
	}
	if body.runs != 1 {
		t.Errorf("Body ran %d times, want 1", body.runs)
	}
}

func TestAction_Run_Idempotence(t *testing.T) {
	// Running twice with a probe that reports satisfied after the first
	// run yields executed then skipped; the second run has no side
	// effects.
	probe := &statefulProbe{}
	body := &countingCommand{}
	action := &Action{Name: "clone-repo", Probe: probe, Body: body}

	first, err := action.Run(context.Background(), zerolog.Nop())
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if first.Outcome != OutcomeExecuted {
		t.Fatalf("First run: expected executed, got %s", first.Outcome)
	}

	probe.satisfied = true // the clone now exists

	second, err := action.Run(context.Background(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if second.Outcome != OutcomeSkipped {
		t.Errorf("Second run: expected skipped, got %s", second.Outcome)
	}
	if body.runs != 1 {
		t.Errorf("Body ran %d times across both runs, want 1", body.runs)
	}
}

func TestAction_Run_NoProbeAlwaysExecutes(t *testing.T) {
	body := &countingCommand{}
	action := &Action{Name: "configure-profile", Body: body}

	result, err := action.Run(context.Background(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Outcome != OutcomeExecuted {
		t.Errorf("Expected executed outcome, got %s", result.Outcome)
	}
	if body.runs != 1 {
		t.Errorf("Body ran %d times, want 1", body.runs)
	}
}

func TestAction_Run_ProbeErrorFailOpen(t *testing.T) {
	// A failing probe must not block the action, but the outcome is
	// tagged as ran-without-confirmation.
	body := &countingCommand{}
	action := &Action{
		Name:  "run-migration",
		Probe: &statefulProbe{err: errors.New("credential store unreachable")},
		Body:  body,
	}

	result, err := action.Run(context.Background(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Outcome != OutcomeExecutedUnverified {
		t.Errorf("Expected executed_unverified outcome, got %s", result.Outcome)
	}
	if body.runs != 1 {
		t.Errorf("Body ran %d times, want 1", body.runs)
	}
}

func TestAction_Run_BodyKeepsClassifiedCode(t *testing.T) {
	// An interactive login failing inside a task must still exit with
	// the auth failure status, not the generic action one.
	body := &countingCommand{
		err: NewPermanentError("sso login failed", errors.New("exit status 1")).
			WithCode(ErrCodeAuthFailed),
	}
	action := &Action{Name: "authenticate", Body: body}

	result, err := action.Run(context.Background(), zerolog.Nop())
	if err == nil {
		t.Fatal("Expected error from failing body")
	}
	if !IsCode(err, ErrCodeAuthFailed) {
		t.Errorf("Expected the body's auth code to survive, got: %v", err)
	}
	if ExitCode(err) != ExitAuthFailed {
		t.Errorf("Expected exit %d, got %d", ExitAuthFailed, ExitCode(err))
	}
	if result.Outcome != OutcomeFailed {
		t.Errorf("Expected failed outcome, got %s", result.Outcome)
	}
}

func TestAction_Run_BodyFailurePropagates(t *testing.T) {
	body := &countingCommand{err: errors.New("exit status 1")}
	action := &Action{Name: "deploy", Body: body}

	result, err := action.Run(context.Background(), zerolog.Nop())
	if err == nil {
		t.Fatal("Expected error from failing body")
	}
	if !IsCode(err, ErrCodeActionFailed) {
		t.Errorf("Expected action failed error, got: %v", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Errorf("Expected failed outcome, got %s", result.Outcome)
	}
	if result.Error == "" {
		t.Error("Failed result should record the cause")
	}
}
