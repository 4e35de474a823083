package telemetry

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config must validate: %v", err)
	}

	bad := DefaultConfig()
	bad.Logging.Level = "loud"
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for invalid log level")
	}

	bad = DefaultConfig()
	bad.Logging.Format = "xml"
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for invalid log format")
	}

	bad = DefaultConfig()
	bad.Tracing.Enabled = true
	bad.Tracing.Exporter = "jaeger"
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for unsupported exporter")
	}

	bad = DefaultConfig()
	bad.Tracing.SamplingRate = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for out-of-range sampling rate")
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Info should be filtered at warn level")
	}
	if !strings.Contains(out, "visible") {
		t.Error("Warn should pass at warn level")
	}
}

func TestComponent_TagsChildLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewLogger(LoggingConfig{Level: "info", Format: "json"}, &buf), "composer")

	logger.Info().Msg("starting")
	if !strings.Contains(buf.String(), `"component":"composer"`) {
		t.Errorf("Component field missing: %s", buf.String())
	}
}

func TestMetrics_RecordsEngineCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, Namespace: "groundcrew"})

	m.RunCompleted(engine.RunStatusSucceeded, 2*time.Second)
	m.TaskCompleted("install", engine.TaskStatusSucceeded, time.Second)
	m.ActionCompleted("create venv", engine.OutcomeSkipped)
	m.ServiceStarted("db", 3*time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`groundcrew_runs_completed_total{status="succeeded"} 1`,
		`groundcrew_tasks_completed_total{status="succeeded",task="install"} 1`,
		`groundcrew_action_outcomes_total{outcome="skipped_already_satisfied"} 1`,
		"groundcrew_service_startup_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Exposition missing %q", want)
		}
	}
}

func TestMetrics_DisabledIsInert(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})

	// Must not panic with nil collectors.
	m.RunCompleted(engine.RunStatusFailed, time.Second)
	m.TaskCompleted("install", engine.TaskStatusFailed, time.Second)
	m.ActionCompleted("x", engine.OutcomeFailed)
	m.ServiceStarted("db", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Disabled metrics should expose nothing, got %d", rec.Code)
	}
}

func TestNewTracer_Disabled(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{Enabled: false}, "groundcrew", "dev", "test")
	if err != nil {
		t.Fatalf("NewTracer failed: %v", err)
	}
	defer tracer.Shutdown(t.Context())

	_, span := tracer.StartRunSpan(t.Context(), "up")
	if span.IsRecording() {
		t.Error("Disabled tracer must not record spans")
	}
	span.End()
}

func TestNewTracer_UnsupportedExporter(t *testing.T) {
	_, err := NewTracer(TracingConfig{Enabled: true, Exporter: "jaeger", SamplingRate: 1}, "groundcrew", "dev", "test")
	if err == nil {
		t.Fatal("Expected error for unsupported exporter")
	}
}
