package docker

import (
	"fmt"
	"time"

	"github.com/groundcrew/groundcrew/pkg/compose"
	"github.com/groundcrew/groundcrew/pkg/engine"
)

// BindOptions carries the stack identity for binding.
type BindOptions struct {
	// StackFile is the compose file path passed to the compose CLI.
	StackFile string

	// ProjectName is the compose project name. It prefixes image and
	// container names the way compose itself does.
	ProjectName string

	// StartTimeout overrides the per-node startup window when positive.
	StartTimeout time.Duration
}

// Bind turns normalized service specs into runnable service nodes.
// Builds are probe-guarded on local image presence, start and stop
// shell out to docker compose, and health reads container state from
// the daemon.
func (r *Runtime) Bind(specs []compose.ServiceSpec, opts BindOptions) []compose.ServiceNode {
	nodes := make([]compose.ServiceNode, 0, len(specs))
	for _, spec := range specs {
		nodes = append(nodes, r.bindService(spec, opts))
	}
	return nodes
}

func (r *Runtime) bindService(spec compose.ServiceSpec, opts BindOptions) compose.ServiceNode {
	node := compose.ServiceNode{
		Name:         spec.Name,
		Needs:        spec.DependsOn,
		Start:        r.composeCommand(opts, "up", "--detach", "--no-deps", spec.Name),
		Stop:         r.composeCommand(opts, "stop", spec.Name),
		Health:       r.HealthProbe(containerName(opts.ProjectName, spec.Name)),
		StartTimeout: opts.StartTimeout,
	}

	if spec.BuildContext != "" {
		node.Build = &engine.Action{
			Name:  "build " + spec.Name,
			Probe: r.ImageProbe(imageRef(spec, opts.ProjectName)),
			Body:  r.composeCommand(opts, "build", spec.Name),
		}
	}
	return node
}

func (r *Runtime) composeCommand(opts BindOptions, args ...string) engine.Command {
	argv := []string{"docker", "compose"}
	if opts.StackFile != "" {
		argv = append(argv, "--file", opts.StackFile)
	}
	if opts.ProjectName != "" {
		argv = append(argv, "--project-name", opts.ProjectName)
	}
	argv = append(argv, args...)
	return engine.ExecCommand{Argv: argv}
}

// containerName follows the compose v2 convention for the first
// replica of a service.
func containerName(project, service string) string {
	return fmt.Sprintf("%s-%s-1", project, service)
}

// imageRef is the image a built service produces: the declared image
// when set, otherwise the compose default of project-service.
func imageRef(spec compose.ServiceSpec, project string) string {
	if spec.Image != "" {
		return spec.Image
	}
	return fmt.Sprintf("%s-%s", project, spec.Name)
}
