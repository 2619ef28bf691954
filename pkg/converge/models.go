package converge

import (
	"context"
	"fmt"
	"strings"

	"github.com/openconduit/openconduit/pkg/dispatch"
	"github.com/openconduit/openconduit/pkg/target"
)

// Runner dispatches a single request. Satisfied by *dispatch.Dispatcher.
type Runner interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

// ModelConverger converges the set of models installed on an inference host.
// The probe lists installed models once per pass; apply pulls what is
// missing.
type ModelConverger struct {
	runner    Runner
	converger *Converger
	backend   target.Backend
	overrides target.Overrides
	vmid      int
	retry     RetryPolicy
}

// NewModelConverger creates a model converger dispatching to the given
// backend and target.
func NewModelConverger(runner Runner, converger *Converger, backend target.Backend, overrides target.Overrides, vmid int) *ModelConverger {
	return &ModelConverger{
		runner:    runner,
		converger: converger,
		backend:   backend,
		overrides: overrides,
		vmid:      vmid,
		retry:     DefaultRetryPolicy(),
	}
}

// SetRetryPolicy replaces the readiness wait policy.
func (mc *ModelConverger) SetRetryPolicy(p RetryPolicy) {
	mc.retry = p
}

// Run converges the raw desired-model list against the target. It waits for
// the model service to answer, snapshots the installed set, then applies the
// missing models in the order the list names them.
func (mc *ModelConverger) Run(ctx context.Context, raw string) (*Report, error) {
	units := Normalize(raw)
	if len(units) == 0 {
		return &Report{Status: StatusConverged}, nil
	}

	if err := mc.retry.WaitReady(ctx, func(ctx context.Context) (bool, error) {
		_, err := mc.installed(ctx)
		if err != nil {
			return false, err
		}
		return true, nil
	}); err != nil {
		return nil, fmt.Errorf("model service not ready: %w", err)
	}

	installed, err := mc.installed(ctx)
	if err != nil {
		return nil, err
	}

	probe := func(ctx context.Context, unit string) (bool, error) {
		return installed[baseName(unit)], nil
	}
	apply := func(ctx context.Context, unit string) error {
		_, err := mc.runner.Dispatch(ctx, mc.request("ollama pull "+unit))
		return err
	}

	return mc.converger.Converge(ctx, units, probe, apply)
}

// installed returns the set of model base names present on the target.
func (mc *ModelConverger) installed(ctx context.Context) (map[string]bool, error) {
	result, err := mc.runner.Dispatch(ctx, mc.request("ollama list"))
	if err != nil {
		return nil, err
	}

	models := make(map[string]bool)
	if len(result.Results) == 0 {
		return models, nil
	}

	lines := strings.Split(result.Results[0].Result.Stdout, "\n")
	for i, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		// First line is the NAME/ID/SIZE header.
		if i == 0 && strings.EqualFold(fields[0], "name") {
			continue
		}
		models[baseName(fields[0])] = true
	}
	return models, nil
}

func (mc *ModelConverger) request(command string) dispatch.Request {
	return dispatch.Request{
		Backend:  mc.backend,
		Target:   mc.overrides,
		VMID:     mc.vmid,
		Commands: []string{command},
	}
}

// baseName strips a ":tag" suffix so "llama3" matches "llama3:latest".
func baseName(model string) string {
	if i := strings.IndexByte(model, ':'); i >= 0 {
		return model[:i]
	}
	return model
}
