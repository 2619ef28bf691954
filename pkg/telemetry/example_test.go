package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/openconduit/openconduit/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "conduit"
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.New(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("controller started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DefaultConfig()

	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific logger
	logger := tel.Logger.NewComponentLogger("dispatch")

	// Add context fields
	logger = logger.
		WithBackend("secure-shell-exec").
		WithTarget("web1.example.com", "deploy")

	logger.Debug("opening transport session")
	logger.Info("command dispatched")
	logger.Warn("session closed with pending output")

	// Log with error
	err := fmt.Errorf("network timeout")
	logger.WithError(err).Error("failed to reach target")

	// Output varies, no output specified
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true

	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	// Record dispatch metrics
	tel.Metrics.RecordDispatchStarted()

	start := time.Now()
	time.Sleep(5 * time.Millisecond)
	duration := time.Since(start)

	tel.Metrics.RecordDispatchCompleted("secure-shell-exec", "success", duration)

	// Record pipeline metrics
	tel.Metrics.RecordPipelineRun("completed", duration)
	tel.Metrics.RecordPipelineStep("commands", "success")

	// Record convergence metrics
	tel.Metrics.RecordConvergenceUnit("applied")
	tel.Metrics.RecordConvergenceRun("converged")

	// Record transport error metrics
	tel.Metrics.RecordTransportError("secure-shell-exec", "unavailable")

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_eventPublishing demonstrates event publishing and subscription.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false // Synchronous for example

	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe to events
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Event: %s\n", event.Type)
	})

	// Publish events
	tel.Events.PublishPipelineStarted("run-123", 4)
	tel.Events.PublishUnitOutcome("llama3", "applied")
	tel.Events.PublishPipelineCompleted("run-123", 25*time.Millisecond)

	// Output:
	// Event: pipeline.started
	// Event: converge.unit.applied
	// Event: pipeline.completed
}

// Example_dispatchInstrumentation demonstrates instrumenting a dispatch.
func Example_dispatchInstrumentation() {
	cfg := telemetry.DefaultConfig()
	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start a dispatch span
	ctx, span := tel.Tracer.StartDispatchSpan(ctx, "secure-shell-exec", "web1.example.com")
	defer span.End()

	// Simulate work
	logger := telemetry.FromContext(ctx)
	logger.Info("executing command")
	time.Sleep(5 * time.Millisecond)

	telemetry.RecordSuccess(span)

	fmt.Println("Dispatch instrumentation complete")
	// Output: Dispatch instrumentation complete
}

// Example_pipelineInstrumentation demonstrates instrumenting a pipeline run.
func Example_pipelineInstrumentation() {
	cfg := telemetry.DefaultConfig()
	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ctx, runSpan := tel.Tracer.StartPipelineSpan(ctx, "run-123")
	defer runSpan.End()

	// One span per step
	_, stepSpan := tel.Tracer.StartStepSpan(ctx, "run-123", "setup", 0)
	time.Sleep(5 * time.Millisecond)
	telemetry.RecordSuccess(stepSpan)
	stepSpan.End()

	// Record a failing step
	_, stepSpan = tel.Tracer.StartStepSpan(ctx, "run-123", "commands", 1)
	telemetry.RecordError(stepSpan, fmt.Errorf("exit code 2"))
	stepSpan.End()

	fmt.Println("Pipeline instrumentation complete")
	// Output: Pipeline instrumentation complete
}

// Example_errorRecording demonstrates error recording with classification.
func Example_errorRecording() {
	cfg := telemetry.DefaultConfig()
	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ctx, span := tel.Tracer.Start(ctx, "risky_operation")
	defer span.End()

	err := fmt.Errorf("connection timeout")

	if err != nil {
		telemetry.RecordError(span, err)
		tel.Metrics.RecordTransportError("secure-shell-exec", "unavailable")

		logger := telemetry.FromContext(ctx)
		logger.WithError(err).Error("operation failed")
	}

	fmt.Println("Error recording complete")
	// Output: Error recording complete
}

// Example_multipleComponents demonstrates telemetry in a multi-component system.
func Example_multipleComponents() {
	cfg := telemetry.DefaultConfig()
	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific loggers
	dispatchLogger := tel.Logger.NewComponentLogger("dispatch")
	pipelineLogger := tel.Logger.NewComponentLogger("pipeline")
	convergeLogger := tel.Logger.NewComponentLogger("converge")

	dispatchLogger.Info("dispatcher initialized")
	pipelineLogger.Info("engine initialized")
	convergeLogger.Info("converger initialized")

	fmt.Println("Multi-component logging complete")
	// Output: Multi-component logging complete
}
