// Package config loads and validates groundcrew manifests. A manifest
// declares the task graph, the service stack, the credential profile,
// and guard policies for one project. Manifests are written in CUE or
// YAML, chosen by file extension, and both forms validate against the
// same embedded CUE schema before any task runs.
//
// Manifest variables may be computed by an embedded Starlark script;
// its exported globals merge into the static vars, and ${name}
// references in task definitions expand against the merged set.
package config
