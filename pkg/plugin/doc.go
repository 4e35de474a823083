// Package plugin runs probe plugins as WASI modules. A plugin is a
// command-style module whose exit status answers the probe question:
// exit 0 means the desired state exists, exit 1 means it does not, and
// any other status is a probe failure.
package plugin
