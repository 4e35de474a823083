package engine

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestPathProbe_Check_Missing(t *testing.T) {
	probe := PathProbe{Path: filepath.Join(t.TempDir(), "absent")}

	state, err := probe.Check(context.Background())
	if err != nil {
		t.Fatalf("Missing path is a negative answer, not an error: %v", err)
	}
	if state != ProbeUnsatisfied {
		t.Errorf("Expected unsatisfied, got %s", state)
	}
}

func TestPathProbe_Check_Exists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repo")
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	probe := PathProbe{Path: path}
	state, err := probe.Check(context.Background())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if state != ProbeSatisfied {
		t.Errorf("Expected satisfied, got %s", state)
	}
}

func TestCommandProbe_Check_ExitZero(t *testing.T) {
	probe := CommandProbe{Argv: []string{"true"}}

	state, err := probe.Check(context.Background())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if state != ProbeSatisfied {
		t.Errorf("Expected satisfied, got %s", state)
	}
}

func TestCommandProbe_Check_ExitNonZero(t *testing.T) {
	probe := CommandProbe{Argv: []string{"false"}}

	state, err := probe.Check(context.Background())
	if err != nil {
		t.Fatalf("Non-zero exit is a negative answer, not an error: %v", err)
	}
	if state != ProbeUnsatisfied {
		t.Errorf("Expected unsatisfied, got %s", state)
	}
}

func TestCommandProbe_Check_StartFailure(t *testing.T) {
	probe := CommandProbe{Argv: []string{"/nonexistent/groundcrew-probe"}}

	_, err := probe.Check(context.Background())
	if err == nil {
		t.Fatal("Expected probe error when the command cannot start")
	}
	if !IsCode(err, ErrCodeProbe) {
		t.Errorf("Expected probe error code, got: %v", err)
	}
	if !IsTransient(err) {
		t.Errorf("Probe errors are transient: %v", err)
	}
}

func TestHTTPProbe_Check_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	probe := HTTPProbe{URL: srv.URL}
	state, err := probe.Check(context.Background())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if state != ProbeSatisfied {
		t.Errorf("Expected satisfied, got %s", state)
	}
}

func TestHTTPProbe_Check_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	probe := HTTPProbe{URL: srv.URL}
	state, err := probe.Check(context.Background())
	if err != nil {
		t.Fatalf("A 5xx is a negative answer, not an error: %v", err)
	}
	if state != ProbeUnsatisfied {
		t.Errorf("Expected unsatisfied, got %s", state)
	}
}

func TestHTTPProbe_Check_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	url := srv.URL
	srv.Close()

	probe := HTTPProbe{URL: url}
	state, err := probe.Check(context.Background())
	if err != nil {
		t.Fatalf("An unreachable endpoint means not up yet: %v", err)
	}
	if state != ProbeUnsatisfied {
		t.Errorf("Expected unsatisfied, got %s", state)
	}
}

func TestTCPProbe_Check_Listening(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer listener.Close()

	probe := TCPProbe{Addr: listener.Addr().String()}
	state, err := probe.Check(context.Background())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if state != ProbeSatisfied {
		t.Errorf("Expected satisfied, got %s", state)
	}
}

func TestTCPProbe_Check_ConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	probe := TCPProbe{Addr: addr}
	state, err := probe.Check(context.Background())
	if err != nil {
		t.Fatalf("A closed port means not up yet: %v", err)
	}
	if state != ProbeUnsatisfied {
		t.Errorf("Expected unsatisfied, got %s", state)
	}
}

func TestNotProbe_Check_Inverts(t *testing.T) {
	probe := NotProbe{Inner: PathProbe{Path: filepath.Join(t.TempDir(), "absent")}}

	state, err := probe.Check(context.Background())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if state != ProbeSatisfied {
		t.Errorf("Expected inverted satisfied, got %s", state)
	}
}
