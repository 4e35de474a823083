// Package compose brings up ordered service stacks. A stack is a set of
// service nodes with startup dependencies: a node starts only after
// every node it needs reports healthy. Nodes without a dependency
// relationship may start concurrently within the same level, while the
// levels themselves run strictly in sequence.
//
// Health checking is fail-closed: a node counts as healthy only when
// its probe positively confirms it, and a probe that errors is treated
// as not-yet-healthy. A node that never turns healthy within its
// startup window fails the bring-up; services that already reached
// healthy are left running for inspection, there is no rollback.
package compose
