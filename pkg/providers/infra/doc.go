// Package infra wraps an infrastructure-as-code CLI as task commands.
// The tool's own output streams to the terminal untouched, since cloud
// deploy logs are the only useful record of what happened.
package infra
