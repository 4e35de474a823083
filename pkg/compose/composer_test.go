package compose

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

// stackTrace records start events with their order, safe for
// concurrent starts within a level.
type stackTrace struct {
	mu     sync.Mutex
	events []string
}

func (s *stackTrace) record(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, name)
}

func (s *stackTrace) index(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, event := range s.events {
		if event == name {
			return i
		}
	}
	return -1
}

type startCommand struct {
	name  string
	trace *stackTrace
	err   error
}

func (c *startCommand) Describe() string { return "start " + c.name }

func (c *startCommand) Execute(context.Context) error {
	c.trace.record(c.name)
	return c.err
}

// healthAfter confirms health after a number of polls, modeling a
// service that needs a moment to come up.
type healthAfter struct {
	mu        sync.Mutex
	remaining int
	err       error
}

func (h *healthAfter) Name() string { return "health" }

func (h *healthAfter) Check(context.Context) (engine.ProbeState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return engine.ProbeUnsatisfied, h.err
	}
	if h.remaining > 0 {
		h.remaining--
		return engine.ProbeUnsatisfied, nil
	}
	return engine.ProbeSatisfied, nil
}

func fastNode(name string, trace *stackTrace, needs ...string) *ServiceNode {
	return &ServiceNode{
		Name:         name,
		Needs:        needs,
		Start:        &startCommand{name: name, trace: trace},
		StartTimeout: time.Second,
		PollInterval: time.Millisecond,
	}
}

func TestComposer_Up_DependencyOrder(t *testing.T) {
	// db starts first, then the migration, then the two services that
	// need the migrated schema, and the ui last.
	trace := &stackTrace{}
	nodes := []*ServiceNode{
		fastNode("ui", trace, "metadata", "backend"),
		fastNode("db", trace),
		fastNode("metadata", trace, "migration"),
		fastNode("backend", trace, "migration"),
		fastNode("migration", trace, "db"),
	}

	report, err := NewComposer().Up(context.Background(), nodes)
	if err != nil {
		t.Fatalf("Up failed: %v", err)
	}
	if !report.Healthy() {
		t.Errorf("Expected every node healthy: %+v", report.Nodes)
	}

	before := func(a, b string) {
		t.Helper()
		if trace.index(a) >= trace.index(b) {
			t.Errorf("%s must start before %s, got %v", a, b, trace.events)
		}
	}
	before("db", "migration")
	before("migration", "metadata")
	before("migration", "backend")
	before("metadata", "ui")
	before("backend", "ui")
}

func TestComposer_Up_SiblingsShareLevel(t *testing.T) {
	trace := &stackTrace{}
	nodes := []*ServiceNode{
		fastNode("db", trace),
		fastNode("metadata", trace, "db"),
		fastNode("backend", trace, "db"),
	}

	report, err := NewComposer().Up(context.Background(), nodes)
	if err != nil {
		t.Fatalf("Up failed: %v", err)
	}
	if len(report.Levels) != 2 {
		t.Fatalf("Expected 2 levels, got %v", report.Levels)
	}
	if len(report.Levels[1]) != 2 {
		t.Errorf("Independent siblings should share a level: %v", report.Levels)
	}
}

func TestComposer_Up_WaitsForHealth(t *testing.T) {
	trace := &stackTrace{}
	db := fastNode("db", trace)
	db.Health = &healthAfter{remaining: 3}
	app := fastNode("app", trace, "db")

	report, err := NewComposer().Up(context.Background(), []*ServiceNode{db, app})
	if err != nil {
		t.Fatalf("Up failed: %v", err)
	}
	if report.Nodes["db"].State != NodeStateHealthy {
		t.Errorf("Expected db healthy, got %s", report.Nodes["db"].State)
	}
	if trace.index("db") >= trace.index("app") {
		t.Errorf("app must not start before db is healthy: %v", trace.events)
	}
}

func TestComposer_Up_StartupTimeout(t *testing.T) {
	trace := &stackTrace{}
	db := fastNode("db", trace)
	db.Health = &healthAfter{remaining: 1 << 30} // never healthy
	db.StartTimeout = 20 * time.Millisecond
	app := fastNode("app", trace, "db")

	report, err := NewComposer().Up(context.Background(), []*ServiceNode{db, app})
	if err == nil {
		t.Fatal("Expected startup timeout")
	}
	if !engine.IsCode(err, engine.ErrCodeStartupTimeout) {
		t.Errorf("Expected startup timeout code, got: %v", err)
	}
	if engine.ExitCode(err) != engine.ExitStartupTimeout {
		t.Errorf("Expected exit %d, got %d", engine.ExitStartupTimeout, engine.ExitCode(err))
	}
	if !strings.Contains(err.Error(), "db") {
		t.Errorf("Timeout must name the stuck service: %v", err)
	}

	if report.Nodes["db"].State != NodeStateCrashed {
		t.Errorf("Expected db crashed, got %s", report.Nodes["db"].State)
	}
	if report.Nodes["app"].State != NodeStatePending {
		t.Errorf("Dependent must never start, got %s", report.Nodes["app"].State)
	}
	if trace.index("app") != -1 {
		t.Errorf("app start command must not run: %v", trace.events)
	}
}

func TestComposer_Up_NoRollbackOnFailure(t *testing.T) {
	// A later failure leaves already-healthy services running.
	trace := &stackTrace{}
	db := fastNode("db", trace)
	stopTrace := &stackTrace{}
	db.Stop = &startCommand{name: "stop-db", trace: stopTrace}

	broken := fastNode("app", trace, "db")
	broken.Start = &startCommand{name: "app", trace: trace, err: errors.New("bind: address already in use")}

	report, err := NewComposer().Up(context.Background(), []*ServiceNode{db, broken})
	if err == nil {
		t.Fatal("Expected start failure")
	}
	if report.Nodes["db"].State != NodeStateHealthy {
		t.Errorf("Healthy service must stay up, got %s", report.Nodes["db"].State)
	}
	if len(stopTrace.events) != 0 {
		t.Errorf("Stop must not run during failed bring-up: %v", stopTrace.events)
	}
}

// startupSink records which services reported a time-to-healthy.
type startupSink struct {
	mu      sync.Mutex
	started map[string]time.Duration
}

func (s *startupSink) ServiceStarted(service string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started == nil {
		s.started = make(map[string]time.Duration)
	}
	s.started[service] = d
}

func TestComposer_Up_RecordsStartupDurations(t *testing.T) {
	trace := &stackTrace{}
	sink := &startupSink{}

	db := fastNode("db", trace)
	db.Health = &healthAfter{remaining: 2}
	broken := fastNode("app", trace, "db")
	broken.Start = &startCommand{name: "app", trace: trace, err: errors.New("bind: address already in use")}

	_, err := NewComposer(WithMetrics(sink)).Up(context.Background(), []*ServiceNode{db, broken})
	if err == nil {
		t.Fatal("Expected start failure")
	}
	if d, ok := sink.started["db"]; !ok || d <= 0 {
		t.Errorf("Healthy service must record its startup duration: %v", sink.started)
	}
	if _, ok := sink.started["app"]; ok {
		t.Error("A service that never turned healthy must not record a duration")
	}
}

func TestComposer_Up_HealthProbeErrorFailClosed(t *testing.T) {
	// Unlike idempotent actions, health checking treats a probe error
	// as not-healthy rather than proceeding.
	trace := &stackTrace{}
	db := fastNode("db", trace)
	db.Health = &healthAfter{err: errors.New("docker inspect failed")}
	db.StartTimeout = 20 * time.Millisecond

	report, err := NewComposer().Up(context.Background(), []*ServiceNode{db})
	if err == nil {
		t.Fatal("Expected timeout when the probe keeps erroring")
	}
	if !engine.IsCode(err, engine.ErrCodeStartupTimeout) {
		t.Errorf("Expected startup timeout code, got: %v", err)
	}
	if report.Nodes["db"].State == NodeStateHealthy {
		t.Error("A service whose probe errors must never count as healthy")
	}
}

func TestComposer_Up_BuildRunsBeforeStart(t *testing.T) {
	trace := &stackTrace{}
	node := fastNode("app", trace)
	node.Build = &engine.Action{
		Name: "build app image",
		Body: &startCommand{name: "build-app", trace: trace},
	}

	if _, err := NewComposer().Up(context.Background(), []*ServiceNode{node}); err != nil {
		t.Fatalf("Up failed: %v", err)
	}
	if trace.index("build-app") >= trace.index("app") {
		t.Errorf("Build must run before start: %v", trace.events)
	}
}

func TestComposer_Up_CycleDetected(t *testing.T) {
	trace := &stackTrace{}
	nodes := []*ServiceNode{
		fastNode("a", trace, "b"),
		fastNode("b", trace, "a"),
	}

	_, err := NewComposer().Up(context.Background(), nodes)
	if err == nil {
		t.Fatal("Expected cycle error")
	}
	if !engine.IsCode(err, engine.ErrCodeCycle) {
		t.Errorf("Expected cycle code, got: %v", err)
	}
	if len(trace.events) != 0 {
		t.Errorf("Nothing may start when the graph is cyclic: %v", trace.events)
	}
}

func TestComposer_Up_UnknownDependency(t *testing.T) {
	trace := &stackTrace{}
	_, err := NewComposer().Up(context.Background(), []*ServiceNode{
		fastNode("app", trace, "db"),
	})
	if err == nil {
		t.Fatal("Expected unknown dependency error")
	}
	if !engine.IsCode(err, engine.ErrCodeValidation) {
		t.Errorf("Expected validation code, got: %v", err)
	}
}

func TestComposer_Down_ReverseOrder(t *testing.T) {
	trace := &stackTrace{}
	stops := &stackTrace{}

	db := fastNode("db", trace)
	db.Stop = &startCommand{name: "db", trace: stops}
	app := fastNode("app", trace, "db")
	app.Stop = &startCommand{name: "app", trace: stops}

	if err := NewComposer().Down(context.Background(), []*ServiceNode{db, app}); err != nil {
		t.Fatalf("Down failed: %v", err)
	}
	if stops.index("app") >= stops.index("db") {
		t.Errorf("Dependents stop before their dependencies: %v", stops.events)
	}
}
