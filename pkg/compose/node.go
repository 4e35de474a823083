package compose

import (
	"fmt"
	"time"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

// NodeState represents the lifecycle state of a service node.
type NodeState string

const (
	// NodeStatePending indicates the node has not been started yet.
	NodeStatePending NodeState = "pending"

	// NodeStateStarting indicates the node's start command ran and the
	// node is waiting to turn healthy.
	NodeStateStarting NodeState = "starting"

	// NodeStateHealthy indicates the node's health probe confirmed it.
	NodeStateHealthy NodeState = "healthy"

	// NodeStateStopped indicates the node was shut down deliberately.
	NodeStateStopped NodeState = "stopped"

	// NodeStateCrashed indicates the node failed to start or never
	// turned healthy within its startup window.
	NodeStateCrashed NodeState = "crashed"
)

// Validate checks if the node state is valid.
func (s NodeState) Validate() error {
	switch s {
	case NodeStatePending, NodeStateStarting, NodeStateHealthy,
		NodeStateStopped, NodeStateCrashed:
		return nil
	default:
		return fmt.Errorf("invalid node state: %s", s)
	}
}

// ServiceNode is one long-running service within a stack.
type ServiceNode struct {
	// Name is the unique service name within the stack.
	Name string

	// Needs lists services that must be healthy before this one starts.
	Needs []string

	// Build is an optional pre-start action, typically probe-guarded
	// image building that skips when the image already exists.
	Build *engine.Action

	// Start launches the service. It must return once the service
	// process is running; health is confirmed separately.
	Start engine.Command

	// Stop shuts the service down, used only by deliberate teardown.
	Stop engine.Command

	// Health confirms the service is ready. A nil probe means the
	// service counts as healthy as soon as Start returns.
	Health engine.Probe

	// StartTimeout bounds the wait for the health probe, defaulting to
	// DefaultStartTimeout.
	StartTimeout time.Duration

	// PollInterval is the initial health poll interval, defaulting to
	// DefaultPollInterval. The interval backs off exponentially up to
	// maxPollInterval.
	PollInterval time.Duration
}

// NodeResult records the outcome of bringing up one service node.
type NodeResult struct {
	// Name is the service name.
	Name string `json:"name"`

	// State is the final node state.
	State NodeState `json:"state"`

	// Duration is how long the node took to reach its final state.
	Duration time.Duration `json:"duration"`

	// Error is the failure cause when State is crashed.
	Error string `json:"error,omitempty"`
}

// UpReport is the complete record of one stack bring-up.
type UpReport struct {
	// Nodes holds per-node results keyed by service name.
	Nodes map[string]*NodeResult `json:"nodes"`

	// Levels is the computed startup order: each inner slice holds
	// names of services started concurrently.
	Levels [][]string `json:"levels"`
}

// Healthy reports whether every node reached the healthy state.
func (r *UpReport) Healthy() bool {
	for _, node := range r.Nodes {
		if node.State != NodeStateHealthy {
			return false
		}
	}
	return true
}
