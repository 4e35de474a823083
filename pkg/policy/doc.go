// Package policy evaluates Rego deny rules as task guards. A policy is
// one Rego module whose deny set decides whether a task may run; every
// deny result becomes a guard violation with its message shown to the
// user. Policies load from a directory of .rego files and can be
// hot-reloaded when the directory changes.
package policy
