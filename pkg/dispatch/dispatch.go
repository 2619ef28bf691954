// Package dispatch routes command lists to a backend transport. Each dispatch
// resolves its target, opens one fresh session, runs the commands in order,
// and releases the session on every exit path. The first non-zero exit stops
// the run.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/openconduit/openconduit/pkg/config"
	"github.com/openconduit/openconduit/pkg/policy"
	"github.com/openconduit/openconduit/pkg/target"
	"github.com/openconduit/openconduit/pkg/telemetry"
	"github.com/openconduit/openconduit/pkg/transports"
	"github.com/openconduit/openconduit/pkg/transports/devbridge"
	sshtransport "github.com/openconduit/openconduit/pkg/transports/ssh"
	"github.com/openconduit/openconduit/pkg/transports/virt"
)

// Request describes one dispatch: a backend, optional target overrides, and
// the commands to run.
type Request struct {
	Backend  target.Backend   `json:"backend"`
	Target   target.Overrides `json:"target"`
	VMID     int              `json:"vmid,omitempty"`
	Commands []string         `json:"commands"`
	Elevated bool             `json:"elevated,omitempty"`
}

// CommandResult pairs a command string with its execution result.
type CommandResult struct {
	Command string                `json:"command"`
	Result  *transports.ExecResult `json:"result"`
}

// Result is the outcome of a dispatch. On a command failure it carries the
// results collected up to and including the failing command.
type Result struct {
	Backend  target.Backend  `json:"backend"`
	Host     string          `json:"host"`
	Results  []CommandResult `json:"results"`
	Duration time.Duration   `json:"duration"`
}

// CommandError reports a command that ran and exited non-zero.
type CommandError struct {
	Command  string
	Index    int
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed with exit code %d", e.Command, e.ExitCode)
}

// IsCommandFailure reports whether err is a CommandError.
func IsCommandFailure(err error) bool {
	_, ok := err.(*CommandError)
	return ok
}

// TransportFactory builds a transport for a backend. vmid is only meaningful
// for the virtualization backend.
type TransportFactory func(backend target.Backend, vmid int) (transports.Transport, error)

// Dispatcher resolves targets and runs command lists over transports.
type Dispatcher struct {
	defaults *config.Defaults
	factory  TransportFactory
	guard    *policy.Guard
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	events   *telemetry.EventPublisher
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithGuard installs a policy guard that every command must pass before any
// session is opened.
func WithGuard(g *policy.Guard) Option {
	return func(d *Dispatcher) { d.guard = g }
}

// WithTransportFactory replaces the default transport factory.
func WithTransportFactory(f TransportFactory) Option {
	return func(d *Dispatcher) { d.factory = f }
}

// New creates a Dispatcher. tel may be nil, in which case logging goes to the
// default logger and metrics, traces, and events are skipped.
func New(defaults *config.Defaults, tel *telemetry.Telemetry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		defaults: defaults,
		logger:   telemetry.FromContext(context.Background()),
	}
	if tel != nil {
		d.logger = tel.Logger.NewComponentLogger("dispatcher")
		d.metrics = tel.Metrics
		d.tracer = tel.Tracer
		d.events = tel.Events
	}
	d.factory = d.defaultFactory
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) defaultFactory(backend target.Backend, vmid int) (transports.Transport, error) {
	switch backend {
	case target.BackendSSH:
		return sshtransport.New(), nil
	case target.BackendVirt:
		if vmid <= 0 {
			return nil, fmt.Errorf("virtualization backend requires a container id")
		}
		return virt.New(vmid), nil
	case target.BackendBridge:
		return devbridge.New(d.defaults.Bridge.Binary), nil
	default:
		return nil, fmt.Errorf("unknown backend: %q", backend)
	}
}

// Dispatch runs the request's commands in order over a single fresh session.
// On a CommandError the returned Result holds everything that ran, including
// the failing command's output.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if len(req.Commands) == 0 {
		return nil, fmt.Errorf("no commands to dispatch")
	}

	startTime := time.Now()
	backend := string(req.Backend)

	if d.metrics != nil {
		d.metrics.RecordDispatchStarted()
	}

	finish := func(status string) {
		if d.metrics != nil {
			d.metrics.RecordDispatchCompleted(backend, status, time.Since(startTime))
		}
	}

	tgt, err := target.Resolve(req.Backend, req.Target, d.defaults)
	if err != nil {
		finish("resolve_error")
		return nil, err
	}

	logger := d.logger.WithBackend(backend).WithTarget(tgt.Host, tgt.User)

	if d.guard != nil {
		for _, cmd := range req.Commands {
			if err := d.guard.CheckCommand(ctx, cmd); err != nil {
				logger.WithError(err).Warn("command rejected")
				finish("rejected")
				return nil, err
			}
		}
	}

	ctx, span := d.startSpan(ctx, backend, tgt.Host)
	defer span.end()

	transport, err := d.factory(req.Backend, req.VMID)
	if err != nil {
		span.recordError(err)
		finish("factory_error")
		return nil, err
	}

	session, err := transport.Open(ctx, tgt)
	if err != nil {
		span.recordError(err)
		d.recordTransportError(backend, err)
		logger.WithError(err).Error("failed to open session")
		finish(openFailureStatus(err))
		return nil, err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("failed to close session")
		}
	}()

	result := &Result{
		Backend: req.Backend,
		Host:    tgt.Host,
		Results: make([]CommandResult, 0, len(req.Commands)),
	}

	for i, cmd := range req.Commands {
		execResult, err := session.Run(ctx, cmd, req.Elevated)
		if err != nil {
			span.recordError(err)
			d.recordTransportError(backend, err)
			logger.WithError(err).Errorf("command %d failed at transport level", i)
			finish("transport_error")
			result.Duration = time.Since(startTime)
			return result, err
		}

		result.Results = append(result.Results, CommandResult{Command: cmd, Result: execResult})

		if execResult.ExitCode != 0 {
			cmdErr := &CommandError{
				Command:  cmd,
				Index:    i,
				ExitCode: execResult.ExitCode,
				Stderr:   execResult.Stderr,
			}
			span.recordError(cmdErr)
			if d.metrics != nil {
				d.metrics.RecordTransportError(backend, "command")
			}
			if d.events != nil {
				_ = d.events.Publish(telemetry.Event{
					Type:    telemetry.EventTypeDispatchFailed,
					Source:  "dispatch",
					Message: cmdErr.Error(),
					Level:   telemetry.EventLevelError,
				})
			}
			logger.Warnf("command %d exited with code %d", i, execResult.ExitCode)
			finish("command_failed")
			result.Duration = time.Since(startTime)
			return result, cmdErr
		}
	}

	span.recordSuccess()
	result.Duration = time.Since(startTime)
	logger.Debugf("dispatched %d commands in %s", len(req.Commands), result.Duration)
	finish("success")
	return result, nil
}

func (d *Dispatcher) recordTransportError(backend string, err error) {
	if d.metrics == nil {
		return
	}
	if transports.IsAuthFailure(err) {
		d.metrics.RecordTransportError(backend, "auth")
		return
	}
	d.metrics.RecordTransportError(backend, "unavailable")
}

func openFailureStatus(err error) string {
	if transports.IsAuthFailure(err) {
		return "auth_error"
	}
	return "transport_error"
}

// spanHandle is a nil-safe wrapper so dispatch paths read the same whether
// tracing is enabled or not.
type spanHandle struct {
	span trace.Span
}

func (d *Dispatcher) startSpan(ctx context.Context, backend, host string) (context.Context, spanHandle) {
	if d.tracer == nil {
		return ctx, spanHandle{}
	}
	ctx, s := d.tracer.StartDispatchSpan(ctx, backend, host)
	return ctx, spanHandle{span: s}
}

func (h spanHandle) end() {
	if h.span != nil {
		h.span.End()
	}
}

func (h spanHandle) recordError(err error) {
	if h.span != nil {
		telemetry.RecordError(h.span, err)
	}
}

func (h spanHandle) recordSuccess() {
	if h.span != nil {
		telemetry.RecordSuccess(h.span)
	}
}
