package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Engine holds compiled policies and evaluates them against task runs.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates a policy engine preloaded with the built-in
// policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy").Logger(),
	}
	for _, p := range builtinPolicies() {
		if err := e.add(context.Background(), p); err != nil {
			return nil, fmt.Errorf("compile built-in policy %s: %w", p.Name, err)
		}
	}
	return e, nil
}

// compile prepares a policy's deny query for repeated evaluation.
func compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	query, err := rego.New(
		rego.Query(fmt.Sprintf("data.%s.deny", packageName(p.Rego))),
		rego.Module(p.Name+".rego", p.Rego),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &compiledPolicy{policy: p, query: query}, nil
}

// add compiles a policy and stores it.
func (e *Engine) add(ctx context.Context, p Policy) error {
	cp, err := compile(ctx, p)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.policies[p.Name] = cp
	e.mu.Unlock()
	return nil
}

// Load compiles and stores the given policies, replacing same-named
// ones. The first compile failure aborts without touching the rest.
func (e *Engine) Load(ctx context.Context, policies []Policy) error {
	for _, p := range policies {
		if err := e.add(ctx, p); err != nil {
			return fmt.Errorf("compile policy %s: %w", p.Name, err)
		}
		e.logger.Debug().Str("policy", p.Name).Msg("policy compiled")
	}
	return nil
}

// Replace swaps the full directory-loaded policy set, keeping
// built-ins. Used by hot reload.
func (e *Engine) Replace(ctx context.Context, policies []Policy) error {
	fresh := make(map[string]*compiledPolicy)
	for _, p := range append(builtinPolicies(), policies...) {
		cp, err := compile(ctx, p)
		if err != nil {
			return fmt.Errorf("compile policy %s: %w", p.Name, err)
		}
		fresh[p.Name] = cp
	}

	e.mu.Lock()
	e.policies = fresh
	e.mu.Unlock()
	e.logger.Info().Int("policies", len(fresh)).Msg("policy set replaced")
	return nil
}

// Evaluate runs every policy's deny query against the input and
// collects the violations.
func (e *Engine) Evaluate(ctx context.Context, input *Input) ([]Violation, error) {
	e.mu.RLock()
	compiled := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		compiled = append(compiled, cp)
	}
	e.mu.RUnlock()

	var violations []Violation
	for _, cp := range compiled {
		results, err := cp.query.Eval(ctx, rego.EvalInput(input.asMap()))
		if err != nil {
			return nil, fmt.Errorf("evaluate policy %s: %w", cp.policy.Name, err)
		}
		for _, result := range results {
			for _, expr := range result.Expressions {
				denies, ok := expr.Value.([]any)
				if !ok {
					continue
				}
				for _, deny := range denies {
					violations = append(violations, Violation{
						Policy:  cp.policy.Name,
						Message: denyMessage(deny),
					})
				}
			}
		}
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].Policy != violations[j].Policy {
			return violations[i].Policy < violations[j].Policy
		}
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

// List returns the loaded policies sorted by name.
func (e *Engine) List() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies
}

// denyMessage renders one deny result. Policies may deny with a bare
// string or with an object carrying a message field.
func denyMessage(deny any) string {
	switch v := deny.(type) {
	case string:
		return v
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	}
	return fmt.Sprintf("%v", deny)
}

// packageName extracts the package path from a Rego module.
func packageName(module string) string {
	for _, line := range strings.Split(module, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			if fields := strings.Fields(trimmed); len(fields) >= 2 {
				return fields[1]
			}
		}
	}
	return "groundcrew.policies"
}
