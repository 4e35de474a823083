package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

const yamlManifest = `
project: mlops-stack
vars:
  venv: .venv
  region: us-east-1
tasks:
  install:
    description: create the virtual environment
    actions:
      - name: create venv
        run: ["python", "-m", "venv", "${venv}"]
        probe:
          type: path
          path: ${venv}
  login:
    needs: [install]
    guards:
      - name: venv-active
        type: env
        variable: VIRTUAL_ENV
        remedy: "activate the environment first: source ${venv}/bin/activate"
    actions:
      - name: sso login
        run: ["aws", "sso", "login", "--profile", "dev"]
        interactive: true
stack:
  file: compose.yaml
  start_timeout: 90s
credentials:
  profile: dev
  sso_start_url: https://example.awsapps.com/start
  region: ${region}
`

func writeManifest(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoader_Load_YAML(t *testing.T) {
	path := writeManifest(t, "groundcrew.yaml", yamlManifest)

	manifest, err := NewLoader().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if manifest.Project != "mlops-stack" {
		t.Errorf("project: got %q", manifest.Project)
	}
	if len(manifest.Tasks) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", len(manifest.Tasks))
	}

	install := manifest.Tasks["install"]
	if len(install.Actions) != 1 {
		t.Fatalf("install actions: got %d", len(install.Actions))
	}
	if install.Actions[0].Run[2] != ".venv" {
		t.Errorf("Var expansion in run args: got %v", install.Actions[0].Run)
	}
	if install.Actions[0].Probe == nil || install.Actions[0].Probe.Path != ".venv" {
		t.Errorf("Var expansion in probe: got %+v", install.Actions[0].Probe)
	}

	login := manifest.Tasks["login"]
	if len(login.Needs) != 1 || login.Needs[0] != "install" {
		t.Errorf("login needs: got %v", login.Needs)
	}
	if login.Guards[0].Remedy != "activate the environment first: source .venv/bin/activate" {
		t.Errorf("Var expansion in remedy: got %q", login.Guards[0].Remedy)
	}
	if !login.Actions[0].Interactive {
		t.Error("login action should be interactive")
	}

	if manifest.Stack == nil || manifest.Stack.StartTimeout != "90s" {
		t.Errorf("stack: got %+v", manifest.Stack)
	}
	if manifest.Credentials == nil || manifest.Credentials.Region != "us-east-1" {
		t.Errorf("Var expansion in credentials: got %+v", manifest.Credentials)
	}
}

func TestLoader_Load_CUE(t *testing.T) {
	path := writeManifest(t, "groundcrew.cue", `
project: "mlops-stack"
vars: venv: ".venv"
tasks: install: {
	actions: [{
		name: "create venv"
		run: ["python", "-m", "venv", "${venv}"]
		probe: {type: "path", path: "${venv}"}
	}]
}
`)

	manifest, err := NewLoader().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if manifest.Tasks["install"].Actions[0].Probe.Path != ".venv" {
		t.Errorf("CUE manifest should expand vars too: %+v", manifest.Tasks["install"].Actions[0].Probe)
	}
}

func TestLoader_Load_SchemaRejectsBadProbeType(t *testing.T) {
	path := writeManifest(t, "groundcrew.yaml", `
project: demo
tasks:
  install:
    actions:
      - name: step
        run: ["true"]
        probe:
          type: telepathy
`)

	_, err := NewLoader().Load(context.Background(), path)
	if err == nil {
		t.Fatal("Expected schema violation")
	}
	if engine.ExitCode(err) != engine.ExitUsage {
		t.Errorf("Invalid manifest is a usage error, got exit %d", engine.ExitCode(err))
	}
}

func TestLoader_Load_SchemaRejectsMissingProject(t *testing.T) {
	path := writeManifest(t, "groundcrew.yaml", `
tasks:
  install:
    actions:
      - name: step
        run: ["true"]
`)

	if _, err := NewLoader().Load(context.Background(), path); err == nil {
		t.Fatal("Expected schema violation for missing project")
	}
}

func TestLoader_Load_UnsupportedExtension(t *testing.T) {
	path := writeManifest(t, "groundcrew.toml", "project = \"demo\"\n")

	_, err := NewLoader().Load(context.Background(), path)
	if err == nil {
		t.Fatal("Expected error for unsupported extension")
	}
	if !engine.IsCode(err, engine.ErrCodeValidation) {
		t.Errorf("Expected validation code, got: %v", err)
	}
}

func TestLoader_Load_ComputedVars(t *testing.T) {
	path := writeManifest(t, "groundcrew.yaml", `
project: demo
vars:
  env: dev
compute: |
  stack_name = "demo-" + env
  ports = [8080, 8081]
tasks:
  deploy:
    actions:
      - name: deploy stack
        run: ["deploy", "${stack_name}"]
`)

	manifest, err := NewLoader().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if manifest.Tasks["deploy"].Actions[0].Run[1] != "demo-dev" {
		t.Errorf("Computed var expansion: got %v", manifest.Tasks["deploy"].Actions[0].Run)
	}
}

func TestLoader_LoadWithVars_OverridesWin(t *testing.T) {
	path := writeManifest(t, "groundcrew.yaml", `
project: demo
vars:
  env: dev
compute: |
  stack_name = "demo-" + env
tasks:
  deploy:
    actions:
      - name: deploy stack
        run: ["deploy", "${stack_name}", "${env}"]
`)

	manifest, err := NewLoader().LoadWithVars(context.Background(), path, map[string]any{
		"env":        "staging",
		"stack_name": "demo-override",
	})
	if err != nil {
		t.Fatalf("LoadWithVars failed: %v", err)
	}
	run := manifest.Tasks["deploy"].Actions[0].Run
	if run[1] != "demo-override" {
		t.Errorf("Override must beat the computed value: %v", run)
	}
	if run[2] != "staging" {
		t.Errorf("Override must beat the static value: %v", run)
	}
}

func TestLoader_Load_ActionBodyForms(t *testing.T) {
	path := writeManifest(t, "groundcrew.yaml", `
project: demo
vars:
  checkout: src
tasks:
  sources:
    actions:
      - name: clone service
        clone:
          url: https://github.com/example/service.git
          dir: ${checkout}/service
          ref: v2
      - name: fetch snapshot
        fetch:
          host: artifacts.internal
          user: ci
          password: hunter2
          remote: /srv/snapshots/latest.tar.gz
          local: ${checkout}/latest.tar.gz
  deploy:
    actions:
      - name: deploy stack
        infra:
          op: deploy
          profile: dev
          diff_first: true
`)

	manifest, err := NewLoader().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	clone := manifest.Tasks["sources"].Actions[0].Clone
	if clone == nil || clone.Dir != "src/service" || clone.Ref != "v2" {
		t.Errorf("Clone body should load with vars expanded: %+v", clone)
	}
	fetch := manifest.Tasks["sources"].Actions[1].Fetch
	if fetch == nil || fetch.Local != "src/latest.tar.gz" {
		t.Errorf("Fetch body should load with vars expanded: %+v", fetch)
	}
	infra := manifest.Tasks["deploy"].Actions[0].Infra
	if infra == nil || infra.Op != "deploy" || !infra.DiffFirst {
		t.Errorf("Infra body should load: %+v", infra)
	}
}

func TestLoader_Load_RejectsAmbiguousActionBody(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"two bodies", `
        run: ["true"]
        clone: {url: "https://x", dir: "x"}`},
		{"no body", ``},
	}
	for _, tc := range cases {
		path := writeManifest(t, "groundcrew.yaml", `
project: demo
tasks:
  t:
    actions:
      - name: step`+tc.body+`
`)
		_, err := NewLoader().Load(context.Background(), path)
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if engine.ExitCode(err) != engine.ExitUsage {
			t.Errorf("%s: expected usage exit, got %d", tc.name, engine.ExitCode(err))
		}
	}
}

func TestLoader_Load_UnknownVarStaysLiteral(t *testing.T) {
	path := writeManifest(t, "groundcrew.yaml", `
project: demo
tasks:
  run:
    actions:
      - name: run
        run: ["sh", "-c", "echo ${HOME_DIR}"]
`)

	manifest, err := NewLoader().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if manifest.Tasks["run"].Actions[0].Run[2] != "echo ${HOME_DIR}" {
		t.Errorf("Unknown references must stay literal: %v", manifest.Tasks["run"].Actions[0].Run)
	}
}

func TestDiscover_PrefersCUE(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"groundcrew.cue", "groundcrew.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("project: x"), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	path, err := Discover(dir, "")
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if filepath.Base(path) != "groundcrew.cue" {
		t.Errorf("Expected CUE manifest preferred, got %s", path)
	}
}

func TestDiscover_NothingFound(t *testing.T) {
	_, err := Discover(t.TempDir(), "")
	if err == nil {
		t.Fatal("Expected error when no manifest exists")
	}
}
