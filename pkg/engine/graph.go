package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is a registry of named tasks with their prerequisite edges.
// Registration validates uniqueness; Resolve validates reachable edges
// and acyclicity. Resolution is a pure planning step with no side
// effects.
type Graph struct {
	tasks map[string]*Task
}

// NewGraph creates an empty task graph.
func NewGraph() *Graph {
	return &Graph{tasks: make(map[string]*Task)}
}

// Register adds a task to the graph. Duplicate names are rejected.
func (g *Graph) Register(t *Task) error {
	if t == nil || t.Name == "" {
		return NewPermanentError("task has empty name", nil).WithCode(ErrCodeValidation)
	}
	if _, exists := g.tasks[t.Name]; exists {
		return NewPermanentError(fmt.Sprintf("duplicate task name: %s", t.Name), nil).
			WithCode(ErrCodeValidation)
	}
	g.tasks[t.Name] = t
	return nil
}

// Lookup returns the task with the given name, or nil.
func (g *Graph) Lookup(name string) *Task {
	return g.tasks[name]
}

// Names returns all registered task names in sorted order.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.tasks))
	for name := range g.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve computes the execution order for the requested task: a
// depth-first topological sort visiting prerequisites before the task
// itself. Tasks reachable via multiple paths are scheduled exactly once.
// Cycles are reported with the full cycle path; unknown names report the
// missing identifier.
func (g *Graph) Resolve(name string) ([]*Task, error) {
	if _, exists := g.tasks[name]; !exists {
		return nil, NewPermanentError(fmt.Sprintf("unknown task: %s", name), nil).
			WithCode(ErrCodeUnknownTask).WithTask(name)
	}

	var (
		order    []*Task
		visited  = make(map[string]bool)
		onStack  = make(map[string]bool)
		path     []string
		visitFn  func(string) error
	)

	visitFn = func(current string) error {
		task, exists := g.tasks[current]
		if !exists {
			return NewPermanentError(
				fmt.Sprintf("task %s requires unknown task %s", path[len(path)-1], current), nil).
				WithCode(ErrCodeUnknownTask).WithTask(current)
		}
		if onStack[current] {
			return NewPermanentError(
				fmt.Sprintf("dependency cycle detected: %s", formatCycle(path, current)), nil).
				WithCode(ErrCodeCycle).WithTask(current)
		}
		if visited[current] {
			return nil
		}

		onStack[current] = true
		path = append(path, current)
		for _, need := range task.Needs {
			if err := visitFn(need); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		onStack[current] = false

		visited[current] = true
		order = append(order, task)
		return nil
	}

	if err := visitFn(name); err != nil {
		return nil, err
	}
	return order, nil
}

// formatCycle renders the portion of the DFS path that forms the cycle,
// closed back on the repeated node.
func formatCycle(path []string, repeated string) string {
	start := 0
	for i, name := range path {
		if name == repeated {
			start = i
			break
		}
	}
	return strings.Join(append(append([]string{}, path[start:]...), repeated), " -> ")
}

// DOT generates a Graphviz representation of the full task graph for
// plan visualization.
func (g *Graph) DOT() string {
	var sb strings.Builder
	sb.WriteString("digraph TaskGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n")
	for _, name := range g.Names() {
		sb.WriteString(fmt.Sprintf("  %q;\n", name))
	}
	for _, name := range g.Names() {
		for _, need := range g.tasks[name].Needs {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", need, name))
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}
