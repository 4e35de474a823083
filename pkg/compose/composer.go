package compose

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

const (
	// DefaultStartTimeout is the per-node health wait when the node
	// does not set its own.
	DefaultStartTimeout = 60 * time.Second

	// DefaultPollInterval is the initial health poll interval.
	DefaultPollInterval = 500 * time.Millisecond

	maxPollInterval = 5 * time.Second

	tracerName = "github.com/groundcrew/groundcrew/pkg/compose"
)

// StartupMetrics receives service bring-up durations.
type StartupMetrics interface {
	ServiceStarted(service string, d time.Duration)
}

// Composer brings service stacks up and down in dependency order.
type Composer struct {
	logger  zerolog.Logger
	tracer  trace.Tracer
	metrics StartupMetrics
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithLogger sets the composer logger.
func WithLogger(logger zerolog.Logger) ComposerOption {
	return func(c *Composer) { c.logger = logger }
}

// WithMetrics records each service's time to healthy in the sink.
func WithMetrics(metrics StartupMetrics) ComposerOption {
	return func(c *Composer) { c.metrics = metrics }
}

// NewComposer creates a composer.
func NewComposer(opts ...ComposerOption) *Composer {
	c := &Composer{
		logger: zerolog.Nop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Up brings the stack up level by level. Within a level the nodes start
// concurrently; a level only begins once every node of the previous
// level is healthy. The first failure stops the bring-up: nodes not yet
// started stay pending, and nodes already healthy are left running.
func (c *Composer) Up(ctx context.Context, nodes []*ServiceNode) (*UpReport, error) {
	levels, err := computeLevels(nodes)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*ServiceNode, len(nodes))
	for _, node := range nodes {
		byName[node.Name] = node
	}

	report := &UpReport{
		Nodes:  make(map[string]*NodeResult, len(nodes)),
		Levels: levels,
	}
	for _, node := range nodes {
		report.Nodes[node.Name] = &NodeResult{Name: node.Name, State: NodeStatePending}
	}

	ctx, span := c.tracer.Start(ctx, "stack up",
		trace.WithAttributes(attribute.Int("stack.services", len(nodes))))
	defer span.End()

	for i, level := range levels {
		c.logger.Info().Int("level", i).Strs("services", level).Msg("starting level")

		var wg sync.WaitGroup
		var mu sync.Mutex
		var levelErr error

		for _, name := range level {
			node := byName[name]
			wg.Add(1)
			go func() {
				defer wg.Done()
				result := report.Nodes[node.Name]
				if upErr := c.upNode(ctx, node, result); upErr != nil {
					mu.Lock()
					if levelErr == nil {
						levelErr = upErr
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if levelErr != nil {
			// No rollback: healthy services stay up for inspection.
			span.SetStatus(codes.Error, levelErr.Error())
			return report, levelErr
		}
	}

	return report, nil
}

// upNode builds, starts, and health-waits a single node.
func (c *Composer) upNode(ctx context.Context, node *ServiceNode, result *NodeResult) error {
	logger := c.logger.With().Str("service", node.Name).Logger()
	started := time.Now()

	fail := func(err error) error {
		result.State = NodeStateCrashed
		result.Duration = time.Since(started)
		result.Error = err.Error()
		return err
	}

	if node.Build != nil {
		buildResult, err := node.Build.Run(ctx, logger)
		if err != nil {
			logger.Error().Err(err).Msg("build failed")
			return fail(err)
		}
		logger.Debug().Str("outcome", string(buildResult.Outcome)).Msg("build step done")
	}

	result.State = NodeStateStarting
	if node.Start != nil {
		if err := node.Start.Execute(ctx); err != nil {
			logger.Error().Err(err).Msg("start failed")
			return fail(engine.NewPermanentError("service start failed", err).
				WithCode(engine.ErrCodeActionFailed).
				WithTask(node.Name))
		}
	}

	if err := c.waitHealthy(ctx, node, logger); err != nil {
		return fail(err)
	}

	result.State = NodeStateHealthy
	result.Duration = time.Since(started)
	if c.metrics != nil {
		c.metrics.ServiceStarted(node.Name, result.Duration)
	}
	logger.Info().Dur("took", result.Duration).Msg("service healthy")
	return nil
}

// waitHealthy polls the node's health probe until it confirms, with
// exponential backoff between polls. Health is fail-closed: a probe
// error counts as not-yet-healthy, never as confirmation.
func (c *Composer) waitHealthy(ctx context.Context, node *ServiceNode, logger zerolog.Logger) error {
	if node.Health == nil {
		return nil
	}

	timeout := node.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	interval := node.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	deadline := time.Now().Add(timeout)
	var lastErr error

	for {
		state, err := node.Health.Check(ctx)
		if err == nil && state == engine.ProbeSatisfied {
			return nil
		}
		if err != nil {
			lastErr = err
			logger.Debug().Err(err).Msg("health probe errored, treating as unhealthy")
		}

		if time.Now().Add(interval).After(deadline) {
			return engine.NewTransientError(
				fmt.Sprintf("service %s did not become healthy within %s", node.Name, timeout),
				lastErr,
			).WithCode(engine.ErrCodeStartupTimeout).WithTask(node.Name)
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return engine.NewPermanentError("health wait cancelled", ctx.Err()).
				WithCode(engine.ErrCodeInternal).
				WithTask(node.Name)
		}

		interval *= 2
		if interval > maxPollInterval {
			interval = maxPollInterval
		}
	}
}

// Down stops the stack in reverse dependency order so dependents shut
// down before what they need.
func (c *Composer) Down(ctx context.Context, nodes []*ServiceNode) error {
	levels, err := computeLevels(nodes)
	if err != nil {
		return err
	}

	byName := make(map[string]*ServiceNode, len(nodes))
	for _, node := range nodes {
		byName[node.Name] = node
	}

	var firstErr error
	for i := len(levels) - 1; i >= 0; i-- {
		for _, name := range levels[i] {
			node := byName[name]
			if node.Stop == nil {
				continue
			}
			if err := node.Stop.Execute(ctx); err != nil {
				c.logger.Warn().Err(err).Str("service", name).Msg("stop failed")
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

// UpCommand adapts a stack bring-up to a task action body.
func (c *Composer) UpCommand(label string, nodes []*ServiceNode) engine.Command {
	return &upCommand{composer: c, label: label, nodes: nodes}
}

type upCommand struct {
	composer *Composer
	label    string
	nodes    []*ServiceNode
}

func (u *upCommand) Describe() string { return u.label }

func (u *upCommand) Execute(ctx context.Context) error {
	_, err := u.composer.Up(ctx, u.nodes)
	return err
}

// computeLevels validates the dependency graph and assigns each node a
// startup level via Kahn's algorithm. Nodes at the same level have no
// dependency relationship and may start concurrently.
func computeLevels(nodes []*ServiceNode) ([][]string, error) {
	byName := make(map[string]*ServiceNode, len(nodes))
	for _, node := range nodes {
		if node.Name == "" {
			return nil, engine.NewPermanentError("service node has empty name", nil).
				WithCode(engine.ErrCodeValidation)
		}
		if _, exists := byName[node.Name]; exists {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("duplicate service name: %s", node.Name), nil).
				WithCode(engine.ErrCodeValidation)
		}
		byName[node.Name] = node
	}

	dependents := make(map[string][]string, len(nodes))
	inDegree := make(map[string]int, len(nodes))
	for _, node := range nodes {
		inDegree[node.Name] += 0
		for _, need := range node.Needs {
			if _, exists := byName[need]; !exists {
				return nil, engine.NewPermanentError(
					fmt.Sprintf("service %s depends on unknown service %s", node.Name, need), nil).
					WithCode(engine.ErrCodeValidation).
					WithTask(node.Name)
			}
			dependents[need] = append(dependents[need], node.Name)
			inDegree[node.Name]++
		}
	}

	var current []string
	for _, node := range nodes {
		if inDegree[node.Name] == 0 {
			current = append(current, node.Name)
		}
	}

	var levels [][]string
	processed := 0
	for len(current) > 0 {
		levels = append(levels, current)
		processed += len(current)

		var next []string
		for _, name := range current {
			for _, dependent := range dependents[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if processed != len(nodes) {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("service dependency cycle: %s", cyclePath(byName, inDegree)), nil).
			WithCode(engine.ErrCodeCycle)
	}
	return levels, nil
}

// cyclePath walks the unprocessed remainder of the graph to render the
// cycle for the error message.
func cyclePath(byName map[string]*ServiceNode, inDegree map[string]int) string {
	var start string
	for name, degree := range inDegree {
		if degree > 0 {
			start = name
			break
		}
	}
	if start == "" {
		return "unknown"
	}

	// Follow unresolved dependency edges until a node repeats.
	seen := map[string]int{}
	path := []string{start}
	seen[start] = 0
	node := start
	for {
		var next string
		for _, need := range byName[node].Needs {
			if inDegree[need] > 0 {
				next = need
				break
			}
		}
		if next == "" {
			return strings.Join(path, " -> ")
		}
		if at, ok := seen[next]; ok {
			return strings.Join(append(path[at:], next), " -> ")
		}
		seen[next] = len(path)
		path = append(path, next)
		node = next
	}
}
