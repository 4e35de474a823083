package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// recordingJournal captures journal writes in memory.
type recordingJournal struct {
	mu      sync.Mutex
	starts  []string
	results []TaskResult
	ends    []RunStatus
}

func (j *recordingJournal) RecordRunStart(_ context.Context, report *RunReport) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.starts = append(j.starts, report.ID)
	return nil
}

func (j *recordingJournal) RecordTaskResult(_ context.Context, _ string, result *TaskResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, *result)
	return nil
}

func (j *recordingJournal) RecordRunEnd(_ context.Context, report *RunReport) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ends = append(j.ends, report.Status)
	return nil
}

// traceCommand appends its label to a shared execution trace.
type traceCommand struct {
	label string
	trace *[]string
	err   error
}

func (c *traceCommand) Describe() string { return c.label }

func (c *traceCommand) Execute(context.Context) error {
	*c.trace = append(*c.trace, c.label)
	return c.err
}

func newTraceTask(trace *[]string, name string, needs []string, actionErrs ...error) *Task {
	var actions []*Action
	if len(actionErrs) == 0 {
		actionErrs = []error{nil}
	}
	for i, aerr := range actionErrs {
		actions = append(actions, &Action{
			Name: name,
			Body: &traceCommand{label: name + actionLabel(i), trace: trace, err: aerr},
		})
	}
	return &Task{Name: name, Needs: needs, Actions: actions}
}

func actionLabel(i int) string {
	if i == 0 {
		return ""
	}
	return string(rune('a' + i))
}

func TestRunner_Run_ExecutesInResolvedOrder(t *testing.T) {
	var trace []string
	g := NewGraph()
	for _, task := range []*Task{
		newTraceTask(&trace, "install", nil),
		newTraceTask(&trace, "login", []string{"install"}),
		newTraceTask(&trace, "deploy", []string{"login"}),
	} {
		if err := g.Register(task); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	report, err := NewRunner(g).Run(context.Background(), "deploy")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Status != RunStatusSucceeded {
		t.Errorf("Expected succeeded run, got %s", report.Status)
	}

	want := []string{"install", "login", "deploy"}
	if len(trace) != len(want) {
		t.Fatalf("Expected trace %v, got %v", want, trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], trace[i])
		}
	}
}

func TestRunner_Run_GuardShortCircuit(t *testing.T) {
	// A task whose guard is unsatisfied never executes its actions, and
	// no downstream task executes either.
	var trace []string
	g := NewGraph()

	guarded := newTraceTask(&trace, "login", nil)
	guarded.Guards = []Guard{GuardFunc{
		Label: "venv-active",
		Fn: func(context.Context) error {
			return errors.New("activate the virtual environment first: source venv/bin/activate")
		},
	}}

	for _, task := range []*Task{
		guarded,
		newTraceTask(&trace, "deploy", []string{"login"}),
	} {
		if err := g.Register(task); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	report, err := NewRunner(g).Run(context.Background(), "deploy")
	if err == nil {
		t.Fatal("Expected guard failure")
	}
	if !IsCode(err, ErrCodeGuard) {
		t.Errorf("Expected guard error, got: %v", err)
	}
	if ExitCode(err) != ExitGuard {
		t.Errorf("Expected exit code %d, got %d", ExitGuard, ExitCode(err))
	}

	var oe *OrchestrationError
	if !errors.As(err, &oe) {
		t.Fatalf("Expected OrchestrationError, got %T", err)
	}
	if oe.Remedy != "activate the virtual environment first: source venv/bin/activate" {
		t.Errorf("Remediation must be preserved verbatim, got: %q", oe.Remedy)
	}

	if len(trace) != 0 {
		t.Errorf("No action body may run after a guard failure, got trace %v", trace)
	}
	if len(report.Tasks) != 2 {
		t.Fatalf("Expected 2 task results, got %d", len(report.Tasks))
	}
	if report.Tasks[0].Status != TaskStatusFailed {
		t.Errorf("Guarded task: expected failed, got %s", report.Tasks[0].Status)
	}
	if report.Tasks[1].Status != TaskStatusSkipped {
		t.Errorf("Downstream task: expected skipped, got %s", report.Tasks[1].Status)
	}
}

func TestRunner_Run_ActionFailureSkipsRemaining(t *testing.T) {
	var trace []string
	g := NewGraph()
	for _, task := range []*Task{
		newTraceTask(&trace, "install", nil),
		newTraceTask(&trace, "migrate", []string{"install"}, errors.New("exit status 2")),
		newTraceTask(&trace, "run-local", []string{"migrate"}),
	} {
		if err := g.Register(task); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	report, err := NewRunner(g).Run(context.Background(), "run-local")
	if err == nil {
		t.Fatal("Expected action failure")
	}
	if !IsCode(err, ErrCodeActionFailed) {
		t.Errorf("Expected action failed error, got: %v", err)
	}
	if report.Status != RunStatusFailed {
		t.Errorf("Expected failed run, got %s", report.Status)
	}

	// install ran, migrate ran and failed, run-local never ran.
	want := []string{"install", "migrate"}
	if len(trace) != len(want) {
		t.Fatalf("Expected trace %v, got %v", want, trace)
	}
	if report.Tasks[2].Status != TaskStatusSkipped {
		t.Errorf("Dependent task: expected skipped, got %s", report.Tasks[2].Status)
	}
}

func TestRunner_Run_LaterActionsStopAfterFailure(t *testing.T) {
	var trace []string
	g := NewGraph()
	task := newTraceTask(&trace, "setup", nil, errors.New("boom"), nil)
	if err := g.Register(task); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := NewRunner(g).Run(context.Background(), "setup")
	if err == nil {
		t.Fatal("Expected failure")
	}
	if len(trace) != 1 {
		t.Errorf("Second action must not run after the first fails, got trace %v", trace)
	}
}

func TestRunner_Run_GuardsRecheckedPerTask(t *testing.T) {
	// The same guard referenced by two tasks is evaluated twice: state
	// can change between tasks.
	checks := 0
	guard := GuardFunc{
		Label: "env-active",
		Fn: func(context.Context) error {
			checks++
			return nil
		},
	}

	var trace []string
	g := NewGraph()
	first := newTraceTask(&trace, "first", nil)
	first.Guards = []Guard{guard}
	second := newTraceTask(&trace, "second", []string{"first"})
	second.Guards = []Guard{guard}
	for _, task := range []*Task{first, second} {
		if err := g.Register(task); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	if _, err := NewRunner(g).Run(context.Background(), "second"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if checks != 2 {
		t.Errorf("Guard checked %d times, want 2 (no caching)", checks)
	}
}

func TestRunner_Run_JournalRecords(t *testing.T) {
	var trace []string
	journal := &recordingJournal{}
	g := NewGraph()
	if err := g.Register(newTraceTask(&trace, "install", nil)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	report, err := NewRunner(g, WithJournal(journal)).Run(context.Background(), "install")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(journal.starts) != 1 || journal.starts[0] != report.ID {
		t.Errorf("Expected run start recorded with ID %s, got %v", report.ID, journal.starts)
	}
	if len(journal.results) != 1 || journal.results[0].Task != "install" {
		t.Errorf("Expected one task result, got %+v", journal.results)
	}
	if len(journal.ends) != 1 || journal.ends[0] != RunStatusSucceeded {
		t.Errorf("Expected succeeded run end, got %v", journal.ends)
	}
}

func TestRunner_Run_UnknownTaskBeforeSideEffects(t *testing.T) {
	var trace []string
	g := NewGraph()
	if err := g.Register(newTraceTask(&trace, "install", nil)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := NewRunner(g).Run(context.Background(), "nope")
	if err == nil {
		t.Fatal("Expected unknown task error")
	}
	if ExitCode(err) != ExitUsage {
		t.Errorf("Unknown task is a usage error, got exit %d", ExitCode(err))
	}
	if len(trace) != 0 {
		t.Errorf("No side effects allowed before planning succeeds, got %v", trace)
	}
}
