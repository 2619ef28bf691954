// Package pipeline runs multi-step deployments: a setup phase followed by a
// commands phase, with variable substitution applied to every step. The run
// aborts at the first failing step and reports where it stopped.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/openconduit/openconduit/pkg/dispatch"
	"github.com/openconduit/openconduit/pkg/target"
	"github.com/openconduit/openconduit/pkg/telemetry"
	"github.com/openconduit/openconduit/pkg/transports"
)

// Phase names, in execution order.
const (
	PhaseSetup    = "setup"
	PhaseCommands = "commands"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

// Step is a single command in a pipeline phase.
type Step struct {
	Name     string `json:"name,omitempty"`
	Command  string `json:"command"`
	Elevated bool   `json:"elevated,omitempty"`
}

// Pipeline describes a deployment: where to run, what variables to
// substitute, and the steps of each phase.
type Pipeline struct {
	Name     string            `json:"name"`
	Backend  target.Backend    `json:"backend"`
	Target   target.Overrides  `json:"target"`
	VMID     int               `json:"vmid,omitempty"`
	Vars     map[string]string `json:"vars,omitempty"`
	Setup    []Step            `json:"setup,omitempty"`
	Commands []Step            `json:"commands"`
}

// Steps returns the total number of steps across both phases.
func (p *Pipeline) Steps() int {
	return len(p.Setup) + len(p.Commands)
}

// Validate checks the pipeline is runnable.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pipeline has no name")
	}
	if !p.Backend.Valid() {
		return fmt.Errorf("pipeline %s: unknown backend %q", p.Name, p.Backend)
	}
	if len(p.Commands) == 0 {
		return fmt.Errorf("pipeline %s: commands phase is empty", p.Name)
	}
	for i, s := range p.Setup {
		if s.Command == "" {
			return fmt.Errorf("pipeline %s: setup step %d has no command", p.Name, i)
		}
	}
	for i, s := range p.Commands {
		if s.Command == "" {
			return fmt.Errorf("pipeline %s: commands step %d has no command", p.Name, i)
		}
	}
	return nil
}

// StepResult records one executed step. Index counts across phases, setup
// first.
type StepResult struct {
	Index   int                    `json:"index"`
	Phase   string                 `json:"phase"`
	Name    string                 `json:"name,omitempty"`
	Command string                 `json:"command"`
	Result  *transports.ExecResult `json:"result,omitempty"`
}

// RunResult is the outcome of a pipeline run. On abort it carries the steps
// that ran, including the failing one when it produced output.
type RunResult struct {
	RunID      string        `json:"run_id"`
	Pipeline   string        `json:"pipeline"`
	Status     string        `json:"status"`
	Steps      []StepResult  `json:"steps"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// AbortError reports a run stopped by a failing step.
type AbortError struct {
	RunID     string
	StepIndex int
	Phase     string
	Cause     error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("pipeline run %s aborted at step %d (%s phase): %v", e.RunID, e.StepIndex, e.Phase, e.Cause)
}

func (e *AbortError) Unwrap() error {
	return e.Cause
}

// Runner dispatches a single request. Satisfied by *dispatch.Dispatcher.
type Runner interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

// Engine executes pipelines over a Runner.
type Engine struct {
	runner  Runner
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher
}

// NewEngine creates a pipeline engine. tel may be nil.
func NewEngine(runner Runner, tel *telemetry.Telemetry) *Engine {
	e := &Engine{
		runner: runner,
		logger: telemetry.FromContext(context.Background()),
	}
	if tel != nil {
		e.logger = tel.Logger.NewComponentLogger("pipeline")
		e.metrics = tel.Metrics
		e.tracer = tel.Tracer
		e.events = tel.Events
	}
	return e
}

// Run executes the pipeline's phases in order: setup, then commands. Each
// step is rendered against the pipeline variables and dispatched on its own.
// The first failure aborts the run with an AbortError carrying the step
// index; the partial RunResult is still returned.
func (e *Engine) Run(ctx context.Context, p Pipeline) (*RunResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	startTime := time.Now()

	logger := e.logger.WithPipeline(runID)
	logger.Infof("starting pipeline %s with %d steps", p.Name, p.Steps())

	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.StartPipelineSpan(ctx, runID)
		defer span.End()
	}

	if e.events != nil {
		_ = e.events.PublishPipelineStarted(runID, p.Steps())
	}

	result := &RunResult{
		RunID:     runID,
		Pipeline:  p.Name,
		Status:    StatusCompleted,
		Steps:     make([]StepResult, 0, p.Steps()),
		StartedAt: startTime,
	}

	index := 0
	phases := []struct {
		name  string
		steps []Step
	}{
		{PhaseSetup, p.Setup},
		{PhaseCommands, p.Commands},
	}

	for _, phase := range phases {
		for _, step := range phase.steps {
			rendered := e.render(step.Command, p.Vars, logger)

			stepResult := StepResult{
				Index:   index,
				Phase:   phase.name,
				Name:    step.Name,
				Command: rendered,
			}

			stepCtx := ctx
			var stepSpan trace.Span
			if e.tracer != nil {
				stepCtx, stepSpan = e.tracer.StartStepSpan(ctx, runID, phase.name, index)
			}

			dispatchResult, err := e.runner.Dispatch(stepCtx, dispatch.Request{
				Backend:  p.Backend,
				Target:   p.Target,
				VMID:     p.VMID,
				Commands: []string{rendered},
				Elevated: step.Elevated,
			})
			if stepSpan != nil {
				if err != nil {
					telemetry.RecordError(stepSpan, err)
				} else {
					telemetry.RecordSuccess(stepSpan)
				}
				stepSpan.End()
			}
			if dispatchResult != nil && len(dispatchResult.Results) > 0 {
				stepResult.Result = dispatchResult.Results[0].Result
			}
			result.Steps = append(result.Steps, stepResult)

			if err != nil {
				e.finishStep(phase.name, "failed")
				e.finish(result, StatusAborted, startTime)

				abortErr := &AbortError{
					RunID:     runID,
					StepIndex: index,
					Phase:     phase.name,
					Cause:     err,
				}
				logger.WithError(err).Errorf("step %d failed, aborting", index)
				if e.events != nil {
					_ = e.events.PublishPipelineAborted(runID, index, err.Error())
				}
				return result, abortErr
			}

			e.finishStep(phase.name, "success")
			logger.Debugf("step %d (%s) completed", index, phase.name)
			index++
		}
	}

	e.finish(result, StatusCompleted, startTime)
	logger.Infof("pipeline %s completed in %s", p.Name, result.Duration)
	if e.events != nil {
		_ = e.events.PublishPipelineCompleted(runID, result.Duration)
	}
	return result, nil
}

func (e *Engine) finishStep(phase, status string) {
	if e.metrics != nil {
		e.metrics.RecordPipelineStep(phase, status)
	}
}

func (e *Engine) finish(result *RunResult, status string, startTime time.Time) {
	result.Status = status
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(startTime)
	if e.metrics != nil {
		e.metrics.RecordPipelineRun(status, result.Duration)
	}
}
