// Package credential bootstraps cloud credentials for a named profile.
// Bootstrap is a three-state machine: unconfigured, profile configured,
// authenticated. The default behavior is skip-if-authenticated: when
// the current credentials still verify, neither profile configuration
// nor the interactive login runs. Manifests that want a fresh login on
// every run set always_reconfigure.
package credential
