package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/openconduit/openconduit/pkg/dispatch"
	"github.com/openconduit/openconduit/pkg/target"
	"github.com/openconduit/openconduit/pkg/transports"
)

// fakeRunner records dispatched commands and fails on a chosen command.
type fakeRunner struct {
	dispatched []dispatch.Request
	failOn     string
	failWith   error
}

func (r *fakeRunner) Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error) {
	r.dispatched = append(r.dispatched, req)
	cmd := req.Commands[0]
	if r.failOn != "" && cmd == r.failOn {
		err := r.failWith
		if err == nil {
			err = &dispatch.CommandError{Command: cmd, ExitCode: 1}
		}
		return &dispatch.Result{
			Backend: req.Backend,
			Results: []dispatch.CommandResult{
				{Command: cmd, Result: &transports.ExecResult{ExitCode: 1, Stderr: "failed"}},
			},
		}, err
	}
	return &dispatch.Result{
		Backend: req.Backend,
		Results: []dispatch.CommandResult{
			{Command: cmd, Result: &transports.ExecResult{Stdout: "ok"}},
		},
	}, nil
}

func testPipeline() Pipeline {
	return Pipeline{
		Name:    "deploy",
		Backend: target.BackendSSH,
		Vars:    map[string]string{"version": "1.2.3"},
		Setup: []Step{
			{Name: "update", Command: "apt-get update"},
		},
		Commands: []Step{
			{Name: "install", Command: "apt-get install -y app={{version}}"},
			{Name: "restart", Command: "systemctl restart app"},
		},
	}
}

func TestRunExecutesPhasesInOrder(t *testing.T) {
	runner := &fakeRunner{}
	engine := NewEngine(runner, nil)

	result, err := engine.Run(context.Background(), testPipeline())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", result.Status, StatusCompleted)
	}
	if len(result.Steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(result.Steps))
	}

	wantCommands := []string{
		"apt-get update",
		"apt-get install -y app=1.2.3",
		"systemctl restart app",
	}
	for i, want := range wantCommands {
		if runner.dispatched[i].Commands[0] != want {
			t.Errorf("step %d command = %q, want %q", i, runner.dispatched[i].Commands[0], want)
		}
	}

	if result.Steps[0].Phase != PhaseSetup {
		t.Errorf("step 0 phase = %q, want setup", result.Steps[0].Phase)
	}
	if result.Steps[1].Phase != PhaseCommands || result.Steps[2].Phase != PhaseCommands {
		t.Error("command steps not in commands phase")
	}
	if result.RunID == "" {
		t.Error("RunID is empty")
	}
}

func TestRunAbortsAtFirstFailure(t *testing.T) {
	runner := &fakeRunner{failOn: "apt-get install -y app=1.2.3"}
	engine := NewEngine(runner, nil)

	result, err := engine.Run(context.Background(), testPipeline())
	if err == nil {
		t.Fatal("Run() error = nil, want AbortError")
	}

	var abortErr *AbortError
	if !errors.As(err, &abortErr) {
		t.Fatalf("error type = %T, want *AbortError", err)
	}
	if abortErr.StepIndex != 1 {
		t.Errorf("StepIndex = %d, want 1", abortErr.StepIndex)
	}
	if abortErr.Phase != PhaseCommands {
		t.Errorf("Phase = %q, want commands", abortErr.Phase)
	}

	var cmdErr *dispatch.CommandError
	if !errors.As(err, &cmdErr) {
		t.Error("AbortError does not unwrap to the CommandError cause")
	}

	if result.Status != StatusAborted {
		t.Errorf("Status = %q, want %q", result.Status, StatusAborted)
	}
	// The failing step is included; the step after it never ran.
	if len(result.Steps) != 2 {
		t.Errorf("got %d steps, want 2", len(result.Steps))
	}
	if len(runner.dispatched) != 2 {
		t.Errorf("dispatched %d commands, want 2", len(runner.dispatched))
	}
}

func TestRunAbortsInSetupPhase(t *testing.T) {
	runner := &fakeRunner{failOn: "apt-get update"}
	engine := NewEngine(runner, nil)

	_, err := engine.Run(context.Background(), testPipeline())

	var abortErr *AbortError
	if !errors.As(err, &abortErr) {
		t.Fatalf("error type = %T, want *AbortError", err)
	}
	if abortErr.StepIndex != 0 || abortErr.Phase != PhaseSetup {
		t.Errorf("abort at step %d phase %q, want step 0 setup", abortErr.StepIndex, abortErr.Phase)
	}
	if len(runner.dispatched) != 1 {
		t.Errorf("dispatched %d commands, want 1", len(runner.dispatched))
	}
}

func TestRunValidatesPipeline(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Pipeline)
	}{
		{"missing name", func(p *Pipeline) { p.Name = "" }},
		{"invalid backend", func(p *Pipeline) { p.Backend = "carrier-pigeon" }},
		{"empty commands", func(p *Pipeline) { p.Commands = nil }},
		{"empty setup command", func(p *Pipeline) { p.Setup[0].Command = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPipeline()
			tt.mutate(&p)
			engine := NewEngine(&fakeRunner{}, nil)
			if _, err := engine.Run(context.Background(), p); err == nil {
				t.Error("Run() with invalid pipeline should fail")
			}
		})
	}
}

func TestRunPropagatesElevatedAndTarget(t *testing.T) {
	runner := &fakeRunner{}
	engine := NewEngine(runner, nil)

	p := testPipeline()
	p.Target = target.Overrides{Host: "deploy.example.com"}
	p.Commands = []Step{{Command: "systemctl restart app", Elevated: true}}
	p.Setup = nil

	if _, err := engine.Run(context.Background(), p); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	req := runner.dispatched[0]
	if req.Target.Host != "deploy.example.com" {
		t.Errorf("Target.Host = %q, want deploy.example.com", req.Target.Host)
	}
	if !req.Elevated {
		t.Error("elevated flag not propagated")
	}
}
