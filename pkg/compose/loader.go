package compose

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/compose-spec/compose-go/v2/loader"
	composetypes "github.com/compose-spec/compose-go/v2/types"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

const stackFilename = "compose.yaml"

// HealthSpec is a normalized container health check.
type HealthSpec struct {
	// Test is the health command, compose style ("CMD", args...).
	Test []string

	// Interval is the poll interval.
	Interval time.Duration

	// Timeout bounds one health command invocation.
	Timeout time.Duration

	// Retries is how many consecutive failures mark the container
	// unhealthy.
	Retries int

	// StartPeriod is the grace period before failures count.
	StartPeriod time.Duration
}

// ServiceSpec is a normalized service definition extracted from a
// compose project. It carries only what stack bring-up needs; a runtime
// binds each spec to concrete start commands and health probes.
type ServiceSpec struct {
	// Name is the service name.
	Name string

	// Image is the container image reference.
	Image string

	// BuildContext is the docker build context directory, empty when
	// the service uses a prebuilt image.
	BuildContext string

	// Command overrides the image command.
	Command []string

	// Environment holds KEY=value pairs, sorted.
	Environment []string

	// DependsOn lists services that must be healthy first, sorted.
	DependsOn []string

	// Health is the container health check, nil when undefined.
	Health *HealthSpec
}

// LoadStack parses compose YAML into normalized service specs. The
// compose depends_on edges become startup dependencies regardless of
// their condition, since bring-up always waits for health.
func LoadStack(ctx context.Context, data []byte, projectName string) ([]ServiceSpec, error) {
	details := composetypes.ConfigDetails{
		ConfigFiles: []composetypes.ConfigFile{
			{Filename: stackFilename, Content: data},
		},
	}

	project, err := loader.LoadWithContext(ctx, details, func(o *loader.Options) {
		o.SetProjectName(projectName, true)
	})
	if err != nil {
		return nil, engine.NewPermanentError("parse compose stack", err).
			WithCode(engine.ErrCodeValidation)
	}
	if len(project.Services) == 0 {
		return nil, engine.NewPermanentError("compose stack has no services", nil).
			WithCode(engine.ErrCodeValidation)
	}

	specs := make([]ServiceSpec, 0, len(project.Services))
	for _, svc := range project.Services {
		specs = append(specs, normalizeService(svc))
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

func normalizeService(svc composetypes.ServiceConfig) ServiceSpec {
	spec := ServiceSpec{
		Name:        svc.Name,
		Image:       svc.Image,
		Command:     []string(svc.Command),
		Environment: flattenEnvironment(svc.Environment),
		DependsOn:   dependencyNames(svc.DependsOn),
		Health:      normalizeHealth(svc.HealthCheck),
	}
	if svc.Build != nil {
		spec.BuildContext = svc.Build.Context
	}
	return spec
}

func flattenEnvironment(env composetypes.MappingWithEquals) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, key := range keys {
		value := ""
		if p := env[key]; p != nil {
			value = *p
		}
		out = append(out, fmt.Sprintf("%s=%s", key, value))
	}
	return out
}

func dependencyNames(deps composetypes.DependsOnConfig) []string {
	if len(deps) == 0 {
		return nil
	}
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeHealth(hc *composetypes.HealthCheckConfig) *HealthSpec {
	if hc == nil || hc.Disable {
		return nil
	}
	spec := &HealthSpec{Test: []string(hc.Test)}
	if hc.Interval != nil {
		spec.Interval = time.Duration(*hc.Interval)
	}
	if hc.Timeout != nil {
		spec.Timeout = time.Duration(*hc.Timeout)
	}
	if hc.StartPeriod != nil {
		spec.StartPeriod = time.Duration(*hc.StartPeriod)
	}
	if hc.Retries != nil {
		spec.Retries = int(*hc.Retries)
	}
	return spec
}
