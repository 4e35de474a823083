package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/groundcrew/groundcrew/pkg/compose"
	"github.com/groundcrew/groundcrew/pkg/config"
	"github.com/groundcrew/groundcrew/pkg/engine"
	"github.com/groundcrew/groundcrew/pkg/plugin"
	"github.com/groundcrew/groundcrew/pkg/policy"
	"github.com/groundcrew/groundcrew/pkg/providers/credential"
	"github.com/groundcrew/groundcrew/pkg/providers/docker"
	"github.com/groundcrew/groundcrew/pkg/providers/infra"
	"github.com/groundcrew/groundcrew/pkg/providers/source"
	"github.com/groundcrew/groundcrew/pkg/stores"
	"github.com/groundcrew/groundcrew/pkg/telemetry"
)

// Reserved task names registered from manifest sections rather than the
// tasks map. Manifest tasks may depend on them like any other task.
const (
	stackTaskName = "stack"
	loginTaskName = "login"
)

// app is one loaded project: the manifest plus every collaborator wired
// from it.
type app struct {
	manifest     *config.Manifest
	manifestDir  string
	logger       zerolog.Logger
	graph        *engine.Graph
	policies     *policy.Engine
	policyLoader *policy.Loader
	bootstrap    *credential.Bootstrap
	plugins      *plugin.Host

	// metrics, when set by the command, also receives service startup
	// durations from stack bring-ups.
	metrics compose.StartupMetrics

	// target is the run's requested task, fed into policy guard input.
	// Set by the command before resolution.
	target string
}

// loadApp discovers and loads the manifest, then assembles the task
// graph and its collaborators. overrides replace manifest vars for this
// invocation and may be nil.
func loadApp(ctx context.Context, logger zerolog.Logger, overrides map[string]any) (*app, error) {
	path, err := config.Discover(".", manifestPath)
	if err != nil {
		return nil, err
	}

	manifest, err := config.NewLoader().LoadWithVars(ctx, path, overrides)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("manifest", path).Str("project", manifest.Project).Msg("manifest loaded")

	a := &app{
		manifest:    manifest,
		manifestDir: filepath.Dir(path),
		logger:      logger,
	}

	if a.policies, err = policy.NewEngine(logger); err != nil {
		return nil, engine.NewPermanentError("policy engine setup failed", err).
			WithCode(engine.ErrCodeValidation)
	}
	if manifest.Policies != nil {
		if err := a.loadPolicies(ctx); err != nil {
			return nil, err
		}
	}

	if manifest.Credentials != nil {
		a.bootstrap = newBootstrap(*manifest.Credentials, false, logger)
	}

	if a.graph, err = a.buildGraph(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// Close releases the app's long-lived collaborators.
func (a *app) Close(ctx context.Context) {
	if a.plugins != nil {
		_ = a.plugins.Close(ctx)
	}
	if a.policyLoader != nil {
		a.policyLoader.Close()
	}
}

// resolvePath anchors a manifest-relative path at the manifest's
// directory so commands work from any working directory.
func (a *app) resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.manifestDir, path)
}

func (a *app) loadPolicies(ctx context.Context) error {
	dir := a.resolvePath(a.manifest.Policies.Dir)
	loader := policy.NewLoader(a.logger)

	policies, err := loader.LoadDir(ctx, dir)
	if err != nil {
		return engine.NewPermanentError("load policies", err).
			WithCode(engine.ErrCodeValidation)
	}
	if err := a.policies.Load(ctx, policies); err != nil {
		return engine.NewPermanentError("compile policies", err).
			WithCode(engine.ErrCodeValidation)
	}

	if a.manifest.Policies.Watch {
		if err := loader.Watch(ctx, dir, a.policies); err != nil {
			return engine.NewPermanentError("watch policies", err).
				WithCode(engine.ErrCodeValidation)
		}
		a.policyLoader = loader
	}
	return nil
}

// newBootstrap builds the credential bootstrap for the manifest's
// profile. force overrides the manifest's always_reconfigure setting.
func newBootstrap(cfg config.CredentialConfig, force bool, logger zerolog.Logger) *credential.Bootstrap {
	opts := []credential.BootstrapOption{
		credential.WithLogger(telemetry.Component(logger, "credential")),
	}
	if force || cfg.AlwaysReconfigure {
		opts = append(opts, credential.WithAlwaysReconfigure())
	}
	return credential.NewBootstrap(credential.NewSSOProvider(cfg), opts...)
}

// buildGraph registers the reserved tasks first, then every manifest
// task. A manifest task reusing a reserved name is a duplicate.
func (a *app) buildGraph(ctx context.Context) (*engine.Graph, error) {
	graph := engine.NewGraph()

	if a.bootstrap != nil {
		if err := graph.Register(a.loginTask()); err != nil {
			return nil, err
		}
	}
	if a.manifest.Stack != nil {
		if err := graph.Register(a.stackTask()); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(a.manifest.Tasks))
	for name := range a.manifest.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		task, err := a.buildTask(ctx, name, a.manifest.Tasks[name])
		if err != nil {
			return nil, err
		}
		if err := graph.Register(task); err != nil {
			return nil, err
		}
	}
	return graph, nil
}

// loginTask authenticates the credential profile. The probe makes a
// fresh login a skip when the credentials still verify.
func (a *app) loginTask() *engine.Task {
	action := &engine.Action{
		Name: "authenticate",
		Body: a.bootstrap.Command(),
	}
	if !a.manifest.Credentials.AlwaysReconfigure {
		action.Probe = a.bootstrap.Probe()
	}
	return &engine.Task{
		Name:        loginTaskName,
		Description: "authenticate the " + a.manifest.Credentials.Profile + " credential profile",
		Actions:     []*engine.Action{action},
	}
}

// stackTask brings the service stack up. Idempotency lives in the
// per-service health probes and the build image probes, so the task
// body itself carries none.
func (a *app) stackTask() *engine.Task {
	return &engine.Task{
		Name:        stackTaskName,
		Description: "bring the " + a.manifest.Stack.File + " service stack up",
		Actions: []*engine.Action{{
			Name: "stack up",
			Body: engine.FuncCommand{
				Label: "compose up " + a.manifest.Stack.File,
				Fn:    a.stackUp,
			},
		}},
	}
}

func (a *app) buildTask(ctx context.Context, name string, cfg config.TaskConfig) (*engine.Task, error) {
	task := &engine.Task{
		Name:        name,
		Needs:       cfg.Needs,
		Description: cfg.Description,
	}

	for _, guardCfg := range cfg.Guards {
		guard, err := a.buildGuard(name, cfg, guardCfg)
		if err != nil {
			return nil, err
		}
		task.Guards = append(task.Guards, guard)
	}

	for _, actionCfg := range cfg.Actions {
		action, err := a.buildAction(ctx, name, actionCfg)
		if err != nil {
			return nil, err
		}
		task.Actions = append(task.Actions, action)
	}
	return task, nil
}

func (a *app) buildGuard(taskName string, taskCfg config.TaskConfig, cfg config.GuardConfig) (engine.Guard, error) {
	switch cfg.Type {
	case "env":
		return engine.EnvGuard{Label: cfg.Name, Variable: cfg.Variable, Remedy: cfg.Remedy}, nil
	case "command":
		return engine.CommandGuard{Label: cfg.Name, Argv: cfg.Run, Remedy: cfg.Remedy}, nil
	case "policy":
		commands := make([][]string, 0, len(taskCfg.Actions))
		for _, action := range taskCfg.Actions {
			commands = append(commands, action.Run)
		}
		return &policy.TaskGuard{
			Label:  cfg.Name,
			Engine: a.policies,
			Policy: cfg.Rule,
			Input: func() *policy.Input {
				return &policy.Input{
					Task:     taskName,
					Target:   a.target,
					Commands: commands,
					Vars:     a.manifest.Vars,
				}
			},
		}, nil
	default:
		return nil, engine.NewPermanentError(
			fmt.Sprintf("task %s: unknown guard type %q", taskName, cfg.Type), nil).
			WithCode(engine.ErrCodeValidation).WithTask(taskName)
	}
}

// buildAction maps a manifest action onto its body form: a shell
// command, a git clone, an SFTP fetch, or an IaC operation. Clone and
// fetch carry built-in already-on-disk probes; an explicit probe in the
// manifest replaces them.
func (a *app) buildAction(ctx context.Context, taskName string, cfg config.ActionConfig) (*engine.Action, error) {
	probe, err := a.buildProbe(ctx, taskName, cfg.Probe)
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.Clone != nil:
		repo := source.GitRepo{
			URL: cfg.Clone.URL,
			Dir: a.resolvePath(cfg.Clone.Dir),
			Ref: cfg.Clone.Ref,
		}
		action := repo.CloneAction()
		action.Name = cfg.Name
		if probe != nil {
			action.Probe = probe
		}
		return action, nil

	case cfg.Fetch != nil:
		fetcher := source.NewSFTPFetcher(source.SSHConfig{
			Host:           cfg.Fetch.Host,
			Port:           cfg.Fetch.Port,
			User:           cfg.Fetch.User,
			Password:       cfg.Fetch.Password,
			PrivateKeyPath: a.resolvePath(cfg.Fetch.PrivateKey),
			KnownHostsPath: a.resolvePath(cfg.Fetch.KnownHosts),
		}, telemetry.Component(a.logger, "sftp"))
		action := fetcher.Action(cfg.Fetch.Remote, a.resolvePath(cfg.Fetch.Local))
		action.Name = cfg.Name
		if probe != nil {
			action.Probe = probe
		}
		return action, nil

	case cfg.Infra != nil:
		body, err := a.infraCommand(taskName, cfg)
		if err != nil {
			return nil, err
		}
		return &engine.Action{Name: cfg.Name, Probe: probe, Body: body}, nil

	default:
		return &engine.Action{
			Name:  cfg.Name,
			Probe: probe,
			Body: engine.ExecCommand{
				Argv:        cfg.Run,
				Dir:         cfg.Dir,
				Env:         envList(cfg.Env),
				Interactive: cfg.Interactive,
			},
		}, nil
	}
}

// infraCommand maps an infra operation onto the IaC tool adapter.
// Action-level env vars pass through to the CLI.
func (a *app) infraCommand(taskName string, cfg config.ActionConfig) (engine.Command, error) {
	tool := infra.Tool{
		Binary:  cfg.Infra.Binary,
		Dir:     a.resolvePath(cfg.Infra.Dir),
		Profile: cfg.Infra.Profile,
		Env:     envList(cfg.Env),
	}
	switch cfg.Infra.Op {
	case "synth":
		return tool.Synth(), nil
	case "diff":
		return tool.Diff(), nil
	case "deploy":
		return tool.Deploy(cfg.Infra.DiffFirst), nil
	case "destroy":
		return tool.Destroy(), nil
	default:
		return nil, engine.NewPermanentError(
			fmt.Sprintf("task %s: unknown infra op %q", taskName, cfg.Infra.Op), nil).
			WithCode(engine.ErrCodeValidation).WithTask(taskName)
	}
}

func (a *app) buildProbe(ctx context.Context, taskName string, cfg *config.ProbeConfig) (engine.Probe, error) {
	if cfg == nil {
		return nil, nil
	}

	var probe engine.Probe
	switch cfg.Type {
	case "path":
		probe = engine.PathProbe{Path: cfg.Path}
	case "command":
		probe = engine.CommandProbe{Argv: cfg.Run}
	case "http":
		probe = engine.HTTPProbe{URL: cfg.URL}
	case "tcp":
		probe = engine.TCPProbe{Addr: cfg.Addr}
	case "wasm":
		host, err := a.pluginHost(ctx)
		if err != nil {
			return nil, err
		}
		loaded, err := host.LoadFile(ctx, a.resolvePath(cfg.Module))
		if err != nil {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("task %s: load probe plugin", taskName), err).
				WithCode(engine.ErrCodeValidation).WithTask(taskName)
		}
		probe = loaded.Probe(cfg.Args...)
	default:
		return nil, engine.NewPermanentError(
			fmt.Sprintf("task %s: unknown probe type %q", taskName, cfg.Type), nil).
			WithCode(engine.ErrCodeValidation).WithTask(taskName)
	}

	if cfg.Negate {
		probe = engine.NotProbe{Inner: probe}
	}
	return probe, nil
}

// pluginHost creates the WASI host on first use; projects without wasm
// probes never pay for a runtime.
func (a *app) pluginHost(ctx context.Context) (*plugin.Host, error) {
	if a.plugins != nil {
		return a.plugins, nil
	}
	host, err := plugin.NewHost(ctx)
	if err != nil {
		return nil, engine.NewPermanentError("probe plugin host setup failed", err).
			WithCode(engine.ErrCodeInternal)
	}
	a.plugins = host
	return host, nil
}

// stackSpecs parses the stack file into normalized service specs and
// the per-service startup window. It touches no container daemon, so
// validation can call it too.
func (a *app) stackSpecs(ctx context.Context) ([]compose.ServiceSpec, time.Duration, error) {
	stack := a.manifest.Stack
	file := a.resolvePath(stack.File)

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, 0, engine.NewPermanentError("read stack file", err).
			WithCode(engine.ErrCodeValidation)
	}

	var timeout time.Duration
	if stack.StartTimeout != "" {
		timeout, err = time.ParseDuration(stack.StartTimeout)
		if err != nil {
			return nil, 0, engine.NewPermanentError(
				fmt.Sprintf("invalid stack start_timeout %q", stack.StartTimeout), err).
				WithCode(engine.ErrCodeValidation)
		}
	}

	specs, err := compose.LoadStack(ctx, data, a.manifest.Project)
	if err != nil {
		return nil, 0, err
	}
	return specs, timeout, nil
}

// stackNodes binds the stack specs to the container daemon.
func (a *app) stackNodes(ctx context.Context) ([]*compose.ServiceNode, error) {
	specs, timeout, err := a.stackSpecs(ctx)
	if err != nil {
		return nil, err
	}

	runtime, err := docker.NewRuntime()
	if err != nil {
		return nil, engine.NewTransientError("container daemon unavailable", err).
			WithCode(engine.ErrCodeInternal)
	}

	bound := runtime.Bind(specs, docker.BindOptions{
		StackFile:    a.resolvePath(a.manifest.Stack.File),
		ProjectName:  a.manifest.Project,
		StartTimeout: timeout,
	})

	nodes := make([]*compose.ServiceNode, 0, len(bound))
	for i := range bound {
		nodes = append(nodes, &bound[i])
	}
	return nodes, nil
}

// stackUp is the stack task body: bind and bring every service to
// healthy in dependency order.
func (a *app) stackUp(ctx context.Context) error {
	nodes, err := a.stackNodes(ctx)
	if err != nil {
		return err
	}
	_, err = a.composer().Up(ctx, nodes)
	return err
}

// composer builds the stack composer with the app's logger and, when a
// command enabled metrics, the startup duration sink.
func (a *app) composer() *compose.Composer {
	opts := []compose.ComposerOption{
		compose.WithLogger(telemetry.Component(a.logger, "composer")),
	}
	if a.metrics != nil {
		opts = append(opts, compose.WithMetrics(a.metrics))
	}
	return compose.NewComposer(opts...)
}

// journalFile is the run history location: an explicit override, or the
// project-local default next to the manifest.
func (a *app) journalFile(override string) string {
	if override != "" {
		return override
	}
	return filepath.Join(a.manifestDir, ".groundcrew", "history.db")
}

func (a *app) openJournal(ctx context.Context, override string) (*stores.SQLiteJournal, error) {
	path := a.journalFile(override)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, engine.NewPermanentError("create journal directory", err).
			WithCode(engine.ErrCodeInternal)
	}
	journal, err := stores.Open(ctx, path)
	if err != nil {
		return nil, engine.NewPermanentError("open run journal", err).
			WithCode(engine.ErrCodeInternal)
	}
	return journal, nil
}

// envList flattens an env map into sorted KEY=VALUE entries.
func envList(env map[string]string) []string {
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
		out = append(out, key+"="+env[key])
	}
	return out
}
