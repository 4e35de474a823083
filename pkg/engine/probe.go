package engine

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/exec"
	"time"
)

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc struct {
	// Label names the probe in logs.
	Label string

	// Fn is the query function.
	Fn func(ctx context.Context) (ProbeState, error)
}

// Name returns the probe label.
func (p ProbeFunc) Name() string { return p.Label }

// Check runs the query function.
func (p ProbeFunc) Check(ctx context.Context) (ProbeState, error) {
	return p.Fn(ctx)
}

// PathProbe reports whether a filesystem path exists. Used for
// "local copy already cloned" and "artifact already present" checks.
type PathProbe struct {
	// Path is the file or directory to check.
	Path string
}

// Name returns the probe label.
func (p PathProbe) Name() string { return "path:" + p.Path }

// Check stats the path. A missing path is a negative answer; any other
// stat failure is a probe error.
func (p PathProbe) Check(_ context.Context) (ProbeState, error) {
	_, err := os.Stat(p.Path)
	if err == nil {
		return ProbeSatisfied, nil
	}
	if os.IsNotExist(err) {
		return ProbeUnsatisfied, nil
	}
	return ProbeUnsatisfied, NewTransientError("stat failed", err).WithCode(ErrCodeProbe)
}

// CommandProbe runs a command and maps its exit status to a probe
// answer: zero means satisfied, non-zero means unsatisfied, and a
// command that could not be started at all is a probe error.
type CommandProbe struct {
	// Argv is the command and its arguments.
	Argv []string

	// Dir is the working directory, empty for the process default.
	Dir string
}

// Name returns the probe label.
func (p CommandProbe) Name() string {
	if len(p.Argv) == 0 {
		return "command"
	}
	return "command:" + p.Argv[0]
}

// Check executes the command and interprets its exit status.
func (p CommandProbe) Check(ctx context.Context) (ProbeState, error) {
	if len(p.Argv) == 0 {
		return ProbeUnsatisfied, NewPermanentError("command probe has empty argv", nil).
			WithCode(ErrCodeValidation)
	}
	cmd := exec.CommandContext(ctx, p.Argv[0], p.Argv[1:]...)
	cmd.Dir = p.Dir
	err := cmd.Run()
	if err == nil {
		return ProbeSatisfied, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return ProbeUnsatisfied, nil
	}
	return ProbeUnsatisfied, NewTransientError("probe command did not start", err).
		WithCode(ErrCodeProbe)
}

// HTTPProbe reports whether an HTTP health endpoint answers with a 2xx
// status. Connection failures are negative answers, not probe errors,
// since an unreachable endpoint is the expected "not up yet" signal.
type HTTPProbe struct {
	// URL is the endpoint to query.
	URL string

	// Timeout bounds the request, defaulting to five seconds.
	Timeout time.Duration

	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// Name returns the probe label.
func (p HTTPProbe) Name() string { return "http:" + p.URL }

// Check issues a GET against the endpoint.
func (p HTTPProbe) Check(ctx context.Context) (ProbeState, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return ProbeUnsatisfied, NewPermanentError("bad probe URL", err).WithCode(ErrCodeProbe)
	}
	resp, err := client.Do(req)
	if err != nil {
		return ProbeUnsatisfied, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return ProbeSatisfied, nil
	}
	return ProbeUnsatisfied, nil
}

// TCPProbe reports whether a TCP endpoint accepts connections.
type TCPProbe struct {
	// Addr is the host:port to dial.
	Addr string

	// Timeout bounds the dial, defaulting to three seconds.
	Timeout time.Duration
}

// Name returns the probe label.
func (p TCPProbe) Name() string { return "tcp:" + p.Addr }

// Check dials the address once.
func (p TCPProbe) Check(ctx context.Context) (ProbeState, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return ProbeUnsatisfied, nil
	}
	_ = conn.Close()
	return ProbeSatisfied, nil
}

// NotProbe inverts another probe's answer. Probe errors pass through.
type NotProbe struct {
	// Inner is the probe to invert.
	Inner Probe
}

// Name returns the probe label.
func (p NotProbe) Name() string { return "not:" + p.Inner.Name() }

// Check inverts the inner probe's state.
func (p NotProbe) Check(ctx context.Context) (ProbeState, error) {
	state, err := p.Inner.Check(ctx)
	if err != nil {
		return state, err
	}
	if state == ProbeSatisfied {
		return ProbeUnsatisfied, nil
	}
	return ProbeSatisfied, nil
}
