package docker

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

// Runtime queries the Docker Engine API for idempotency probes.
type Runtime struct {
	cli client.APIClient
}

// NewRuntime creates a Runtime with a new Docker client from the
// environment.
func NewRuntime() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Runtime{cli: cli}, nil
}

// NewRuntimeFromClient wraps an existing Docker client.
func NewRuntimeFromClient(cli client.APIClient) *Runtime {
	return &Runtime{cli: cli}
}

// ImageExists reports whether the image is present locally.
func (r *Runtime) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, err := r.cli.ImageInspect(ctx, ref)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect image %q: %w", ref, err)
	}
	return true, nil
}

// ContainerReady reports whether the named container is up. When the
// container declares a healthcheck, up means the check reports healthy;
// otherwise a running container counts. A missing container is not
// ready and not an error.
func (r *Runtime) ContainerReady(ctx context.Context, name string) (bool, error) {
	info, err := r.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect container %q: %w", name, err)
	}
	if info.State == nil {
		return false, nil
	}
	if info.State.Health != nil {
		return info.State.Health.Status == container.Healthy, nil
	}
	return info.State.Running, nil
}

// ImageProbe gates an image build on the image already existing.
func (r *Runtime) ImageProbe(ref string) engine.Probe {
	return engine.ProbeFunc{
		Label: "image:" + ref,
		Fn: func(ctx context.Context) (engine.ProbeState, error) {
			exists, err := r.ImageExists(ctx, ref)
			if err != nil {
				return engine.ProbeUnsatisfied, engine.NewTransientError(
					"image check failed", err).WithCode(engine.ErrCodeProbe)
			}
			if exists {
				return engine.ProbeSatisfied, nil
			}
			return engine.ProbeUnsatisfied, nil
		},
	}
}

// HealthProbe answers whether the named container is ready, for use as
// a service node's health probe. An unreachable daemon is a probe
// error, which startup treats as not healthy.
func (r *Runtime) HealthProbe(containerName string) engine.Probe {
	return engine.ProbeFunc{
		Label: "container:" + containerName,
		Fn: func(ctx context.Context) (engine.ProbeState, error) {
			ready, err := r.ContainerReady(ctx, containerName)
			if err != nil {
				return engine.ProbeUnsatisfied, engine.NewTransientError(
					"container check failed", err).WithCode(engine.ErrCodeProbe)
			}
			if ready {
				return engine.ProbeSatisfied, nil
			}
			return engine.ProbeUnsatisfied, nil
		},
	}
}
