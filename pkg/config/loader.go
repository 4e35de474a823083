package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

// DefaultManifestNames are tried in order when no manifest path is
// given.
var DefaultManifestNames = []string{"groundcrew.cue", "groundcrew.yaml", "groundcrew.yml"}

// Loader parses, validates, and expands manifests.
type Loader struct {
	schema    *schemaChecker
	validator *validator.Validate
	starlark  *StarlarkEvaluator
}

// NewLoader creates a manifest loader.
func NewLoader() *Loader {
	return &Loader{
		schema:    newSchemaChecker(),
		validator: validator.New(),
		starlark:  NewStarlarkEvaluator(30 * time.Second),
	}
}

// Discover returns the manifest path to load: the explicit path when
// given, otherwise the first default name that exists in dir.
func Discover(dir, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	for _, name := range DefaultManifestNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", engine.NewPermanentError(
		fmt.Sprintf("no manifest found in %s (tried %s)", dir, strings.Join(DefaultManifestNames, ", ")),
		nil,
	).WithCode(engine.ErrCodeValidation)
}

// Load reads and validates the manifest at path. The format follows the
// file extension: .cue evaluates as CUE, .yaml and .yml parse as YAML.
// Both forms validate against the same schema, then computed vars run
// and ${name} references expand.
func (l *Loader) Load(ctx context.Context, path string) (*Manifest, error) {
	return l.LoadWithVars(ctx, path, nil)
}

// LoadWithVars loads the manifest with additional variable overrides
// applied before ${name} expansion. Overrides win over both static and
// computed vars.
func (l *Loader) LoadWithVars(ctx context.Context, path string, overrides map[string]any) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewPermanentError("read manifest", err).
			WithCode(engine.ErrCodeValidation)
	}

	var raw map[string]any
	switch ext := filepath.Ext(path); ext {
	case ".cue":
		raw, err = l.decodeCUE(path, data)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
		if err != nil {
			err = engine.NewPermanentError("parse manifest YAML", err).
				WithCode(engine.ErrCodeValidation)
		}
	default:
		return nil, engine.NewPermanentError(
			fmt.Sprintf("unsupported manifest extension %q", ext), nil).
			WithCode(engine.ErrCodeValidation)
	}
	if err != nil {
		return nil, err
	}

	if err := l.schema.check(raw); err != nil {
		return nil, engine.NewPermanentError("manifest schema violation", err).
			WithCode(engine.ErrCodeValidation)
	}

	manifest, err := decodeManifest(raw)
	if err != nil {
		return nil, err
	}

	if err := l.validator.Struct(manifest); err != nil {
		return nil, engine.NewPermanentError("manifest validation failed", err).
			WithCode(engine.ErrCodeValidation)
	}
	if err := validateActionBodies(manifest); err != nil {
		return nil, err
	}

	if err := l.computeVars(ctx, manifest); err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		if manifest.Vars == nil {
			manifest.Vars = make(map[string]any, len(overrides))
		}
		for name, value := range overrides {
			manifest.Vars[name] = value
		}
	}
	expandManifest(manifest)
	return manifest, nil
}

// validateActionBodies requires exactly one body form per action.
func validateActionBodies(manifest *Manifest) error {
	for taskName, task := range manifest.Tasks {
		for _, action := range task.Actions {
			bodies := 0
			if len(action.Run) > 0 {
				bodies++
			}
			if action.Clone != nil {
				bodies++
			}
			if action.Fetch != nil {
				bodies++
			}
			if action.Infra != nil {
				bodies++
			}
			if bodies != 1 {
				return engine.NewPermanentError(
					fmt.Sprintf("task %s action %s: exactly one of run, clone, fetch, infra required",
						taskName, action.Name), nil).
					WithCode(engine.ErrCodeValidation).WithTask(taskName)
			}
		}
	}
	return nil
}

// decodeCUE evaluates a CUE manifest into raw data.
func (l *Loader) decodeCUE(path string, data []byte) (map[string]any, error) {
	l.schema.once.Do(l.schema.compile)
	if l.schema.err != nil {
		return nil, l.schema.err
	}

	val := l.schema.ctx.CompileBytes(data, cue.Filename(path))
	if err := val.Err(); err != nil {
		return nil, engine.NewPermanentError("parse manifest CUE", err).
			WithCode(engine.ErrCodeValidation)
	}

	var raw map[string]any
	if err := val.Decode(&raw); err != nil {
		return nil, engine.NewPermanentError("decode manifest CUE", err).
			WithCode(engine.ErrCodeValidation)
	}
	return raw, nil
}

// decodeManifest converts schema-checked raw data into the typed
// manifest via a YAML round trip, which honors the struct tags for both
// source formats.
func decodeManifest(raw map[string]any) (*Manifest, error) {
	encoded, err := yaml.Marshal(raw)
	if err != nil {
		return nil, engine.NewPermanentError("encode manifest", err).
			WithCode(engine.ErrCodeInternal)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(encoded, &manifest); err != nil {
		return nil, engine.NewPermanentError("decode manifest", err).
			WithCode(engine.ErrCodeValidation)
	}
	return &manifest, nil
}

// computeVars runs the manifest's Starlark script and merges its
// exported globals into Vars. Script values win over static ones.
func (l *Loader) computeVars(ctx context.Context, manifest *Manifest) error {
	if manifest.Compute == "" {
		return nil
	}

	output, err := l.starlark.Evaluate(ctx, manifest.Compute, manifest.Vars)
	if err != nil {
		return engine.NewPermanentError("computed vars failed", err).
			WithCode(engine.ErrCodeValidation)
	}

	if manifest.Vars == nil {
		manifest.Vars = make(map[string]any, len(output))
	}
	for name, value := range output {
		manifest.Vars[name] = value
	}
	return nil
}

// expandManifest substitutes ${name} references in task definitions
// against the manifest vars. Unknown references are left untouched so
// shell-style $VAR usage inside commands survives.
func expandManifest(manifest *Manifest) {
	expand := func(s string) string { return expandVars(s, manifest.Vars) }

	for name, task := range manifest.Tasks {
		for i, action := range task.Actions {
			for j, arg := range action.Run {
				task.Actions[i].Run[j] = expand(arg)
			}
			task.Actions[i].Dir = expand(action.Dir)
			for key, value := range action.Env {
				task.Actions[i].Env[key] = expand(value)
			}
			if clone := task.Actions[i].Clone; clone != nil {
				clone.URL = expand(clone.URL)
				clone.Dir = expand(clone.Dir)
				clone.Ref = expand(clone.Ref)
			}
			if fetch := task.Actions[i].Fetch; fetch != nil {
				fetch.Host = expand(fetch.Host)
				fetch.User = expand(fetch.User)
				fetch.PrivateKey = expand(fetch.PrivateKey)
				fetch.KnownHosts = expand(fetch.KnownHosts)
				fetch.Remote = expand(fetch.Remote)
				fetch.Local = expand(fetch.Local)
			}
			if infra := task.Actions[i].Infra; infra != nil {
				infra.Dir = expand(infra.Dir)
				infra.Profile = expand(infra.Profile)
			}
			if probe := task.Actions[i].Probe; probe != nil {
				probe.Path = expand(probe.Path)
				probe.URL = expand(probe.URL)
				probe.Addr = expand(probe.Addr)
				probe.Module = expand(probe.Module)
				for j, arg := range probe.Run {
					probe.Run[j] = expand(arg)
				}
				for j, arg := range probe.Args {
					probe.Args[j] = expand(arg)
				}
			}
		}
		for i, guard := range task.Guards {
			task.Guards[i].Remedy = expand(guard.Remedy)
			for j, arg := range guard.Run {
				task.Guards[i].Run[j] = expand(arg)
			}
		}
		manifest.Tasks[name] = task
	}

	if manifest.Stack != nil {
		manifest.Stack.File = expand(manifest.Stack.File)
	}
	if credentials := manifest.Credentials; credentials != nil {
		credentials.Profile = expand(credentials.Profile)
		credentials.SSOStartURL = expand(credentials.SSOStartURL)
		credentials.SSORegion = expand(credentials.SSORegion)
		credentials.AccountID = expand(credentials.AccountID)
		credentials.RoleName = expand(credentials.RoleName)
		credentials.Region = expand(credentials.Region)
	}
	if manifest.Policies != nil {
		manifest.Policies.Dir = expand(manifest.Policies.Dir)
	}
}

// expandVars replaces ${name} with the var's value. References to
// unknown names stay literal.
func expandVars(s string, vars map[string]any) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		end += start

		name := s[start+2 : end]
		b.WriteString(s[:start])
		if value, ok := vars[name]; ok {
			b.WriteString(fmt.Sprint(value))
		} else {
			b.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
}
