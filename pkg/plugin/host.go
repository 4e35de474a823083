package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

// DefaultTimeout bounds one probe invocation.
const DefaultTimeout = 30 * time.Second

// defaultMemoryLimitPages caps plugin memory at 16MB (64KB pages).
const defaultMemoryLimitPages = 256

// Host owns a wazero runtime and the probe modules compiled into it.
type Host struct {
	runtime wazero.Runtime
	timeout time.Duration
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithTimeout overrides the per-invocation timeout.
func WithTimeout(timeout time.Duration) HostOption {
	return func(h *Host) { h.timeout = timeout }
}

// NewHost creates a WASI host. Close it when probes are no longer
// needed.
func NewHost(ctx context.Context, opts ...HostOption) (*Host, error) {
	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(defaultMemoryLimitPages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	h := &Host{runtime: runtime, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Close releases the runtime and every compiled module.
func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

// Load compiles a probe module. The name labels the probe in logs and
// becomes the module's argv[0].
func (h *Host) Load(ctx context.Context, name string, wasm []byte) (*ProbePlugin, error) {
	compiled, err := h.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compile probe plugin %s: %w", name, err)
	}
	return &ProbePlugin{host: h, name: name, compiled: compiled}, nil
}

// LoadFile compiles a probe module from disk, named after the file.
func (h *Host) LoadFile(ctx context.Context, path string) (*ProbePlugin, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read probe plugin: %w", err)
	}
	name := strings.TrimSuffix(baseName(path), ".wasm")
	return h.Load(ctx, name, wasm)
}

func baseName(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// ProbePlugin is one compiled probe module.
type ProbePlugin struct {
	host     *Host
	name     string
	compiled wazero.CompiledModule
}

// Name returns the plugin name.
func (p *ProbePlugin) Name() string { return p.name }

// Probe adapts the plugin to the engine probe interface with fixed
// arguments.
func (p *ProbePlugin) Probe(args ...string) engine.Probe {
	return engine.ProbeFunc{
		Label: "wasm:" + p.name,
		Fn: func(ctx context.Context) (engine.ProbeState, error) {
			return p.Check(ctx, args...)
		},
	}
}

// Check runs the module once and maps its exit status to a probe
// answer.
func (p *ProbePlugin) Check(ctx context.Context, args ...string) (engine.ProbeState, error) {
	ctx, cancel := context.WithTimeout(ctx, p.host.timeout)
	defer cancel()

	// Probes are read-only queries, so the module sees the host
	// filesystem but cannot write to it.
	var stderr bytes.Buffer
	moduleConfig := wazero.NewModuleConfig().
		WithName("").
		WithArgs(append([]string{p.name}, args...)...).
		WithFSConfig(wazero.NewFSConfig().WithReadOnlyDirMount("/", "/")).
		WithStdout(io.Discard).
		WithStderr(&stderr)

	module, err := p.host.runtime.InstantiateModule(ctx, p.compiled, moduleConfig)
	if module != nil {
		_ = module.Close(ctx)
	}
	return classifyExit(p.name, err, stderr.String())
}

// classifyExit maps a module run result to the probe tri-state. The
// module's stderr is carried in the error for non-probe exits.
func classifyExit(name string, err error, stderr string) (engine.ProbeState, error) {
	if err == nil {
		return engine.ProbeSatisfied, nil
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case 0:
			return engine.ProbeSatisfied, nil
		case 1:
			return engine.ProbeUnsatisfied, nil
		default:
			detail := fmt.Sprintf("probe plugin %s exited with status %d", name, exitErr.ExitCode())
			if stderr != "" {
				detail = fmt.Sprintf("%s: %s", detail, strings.TrimSpace(stderr))
			}
			return engine.ProbeUnsatisfied, engine.NewTransientError(detail, nil).
				WithCode(engine.ErrCodeProbe)
		}
	}

	return engine.ProbeUnsatisfied, engine.NewTransientError(
		fmt.Sprintf("probe plugin %s did not run", name), err).
		WithCode(engine.ErrCodeProbe)
}
