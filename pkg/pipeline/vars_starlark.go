package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// VarsEvaluator runs the optional Starlark vars script of a manifest. The
// static vars are predeclared as strings; every exported string global the
// script defines becomes a pipeline variable.
type VarsEvaluator struct {
	timeout time.Duration
}

// NewVarsEvaluator creates a vars evaluator. A zero timeout defaults to 30s.
func NewVarsEvaluator(timeout time.Duration) *VarsEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &VarsEvaluator{timeout: timeout}
}

// Evaluate runs the script and returns the computed variables.
func (ve *VarsEvaluator) Evaluate(ctx context.Context, script string, vars map[string]string) (map[string]string, error) {
	evalCtx, cancel := context.WithTimeout(ctx, ve.timeout)
	defer cancel()

	resultCh := make(chan map[string]string, 1)
	errCh := make(chan error, 1)

	go func() {
		result, err := evaluateVars(script, vars)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	select {
	case <-evalCtx.Done():
		return nil, fmt.Errorf("vars script timed out after %v", ve.timeout)
	case err := <-errCh:
		return nil, err
	case result := <-resultCh:
		return result, nil
	}
}

func evaluateVars(script string, vars map[string]string) (map[string]string, error) {
	thread := &starlark.Thread{
		Name: "conduit-vars",
		Print: func(_ *starlark.Thread, msg string) {
			// Scripts compute values, they do not talk to the operator.
		},
	}

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}
	for key, val := range vars {
		predeclared[key] = starlark.String(val)
	}

	globals, err := starlark.ExecFile(thread, "vars.star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("vars script execution failed: %w", err)
	}

	output := make(map[string]string)
	for name, val := range globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		switch v := val.(type) {
		case starlark.String:
			output[name] = string(v)
		case starlark.Int:
			output[name] = v.String()
		case starlark.Bool:
			if bool(v) {
				output[name] = "true"
			} else {
				output[name] = "false"
			}
		default:
			return nil, fmt.Errorf("vars script global %s has unsupported type %s", name, val.Type())
		}
	}
	return output, nil
}
