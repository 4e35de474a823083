package config

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StarlarkEvaluator runs manifest var scripts. Scripts are pure
// computation: print is suppressed, there is no filesystem or network
// access, and execution is bounded by a timeout.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates an evaluator with the given timeout.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkEvaluator{timeout: timeout}
}

// Evaluate runs the script with the manifest vars predeclared and
// returns its exported globals. Globals starting with underscore stay
// private to the script.
func (e *StarlarkEvaluator) Evaluate(ctx context.Context, script string, vars map[string]any) (map[string]any, error) {
	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		output map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		output, err := e.run(script, vars)
		done <- outcome{output, err}
	}()

	select {
	case <-evalCtx.Done():
		return nil, fmt.Errorf("var script timed out after %s", e.timeout)
	case result := <-done:
		return result.output, result.err
	}
}

func (e *StarlarkEvaluator) run(script string, vars map[string]any) (map[string]any, error) {
	thread := &starlark.Thread{
		Name:  "manifest vars",
		Print: func(*starlark.Thread, string) {},
	}

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}
	for name, value := range vars {
		converted, err := toStarlark(value)
		if err != nil {
			return nil, fmt.Errorf("var %s: %w", name, err)
		}
		predeclared[name] = converted
	}

	globals, err := starlark.ExecFile(thread, "vars.star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("var script failed: %w", err)
	}

	output := make(map[string]any, len(globals))
	for name, value := range globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		converted, err := fromStarlark(value)
		if err != nil {
			return nil, fmt.Errorf("var %s: %w", name, err)
		}
		output[name] = converted
	}
	return output, nil
}

func toStarlark(v any) (starlark.Value, error) {
	switch value := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case int64:
		return starlark.MakeInt64(value), nil
	case float64:
		return starlark.Float(value), nil
	case string:
		return starlark.String(value), nil
	case []any:
		items := make([]starlark.Value, len(value))
		for i, item := range value {
			converted, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			items[i] = converted
		}
		return starlark.NewList(items), nil
	case map[string]any:
		dict := starlark.NewDict(len(value))
		for key, item := range value {
			converted, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(key), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func fromStarlark(v starlark.Value) (any, error) {
	switch value := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(value), nil
	case starlark.Int:
		i, ok := value.Int64()
		if !ok {
			return nil, fmt.Errorf("integer out of range")
		}
		return i, nil
	case starlark.Float:
		return float64(value), nil
	case starlark.String:
		return string(value), nil
	case *starlark.List:
		items := make([]any, value.Len())
		for i := 0; i < value.Len(); i++ {
			converted, err := fromStarlark(value.Index(i))
			if err != nil {
				return nil, err
			}
			items[i] = converted
		}
		return items, nil
	case *starlark.Dict:
		out := make(map[string]any, value.Len())
		for _, item := range value.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict keys must be strings")
			}
			converted, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[string(key)] = converted
		}
		return out, nil
	case *starlarkstruct.Struct:
		out := make(map[string]any)
		for _, name := range value.AttrNames() {
			attr, err := value.Attr(name)
			if err != nil {
				continue
			}
			converted, err := fromStarlark(attr)
			if err != nil {
				return nil, err
			}
			out[name] = converted
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type %s", v.Type())
	}
}
