// Package engine implements the task orchestration core: a registry of
// named tasks forming a dependency graph, guard evaluation, probe-gated
// idempotent actions, and a sequential runner.
//
// The execution model is deliberately simple. A run resolves the requested
// task into a topological order (prerequisites first, each task at most
// once), then walks that order one task at a time. Guards are re-checked
// immediately before each task body because external state can change
// between tasks. Actions inside a task run strictly in sequence; the first
// failure stops the task and aborts every task still planned.
//
// Probes answer yes/no questions about the external world without side
// effects. An action bound to a probe is skipped when the probe reports
// the desired state already exists, which is what makes re-running a task
// safe. A probe that itself fails is treated as "unknown": the action
// still runs (absence of evidence is not evidence of absence) but the
// outcome is reported as unverified.
package engine
