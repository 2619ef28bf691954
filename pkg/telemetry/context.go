package telemetry

import (
	"context"
)

// Telemetry bundles logging, tracing, metrics, and events behind one handle.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// New creates a new telemetry bundle from configuration.
func New(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry bundle to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, telemetryContextKey{}, t)
}

// TelemetryFromContext retrieves the telemetry bundle from the context.
// Returns nil if no bundle is present.
func TelemetryFromContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes and closes all telemetry subsystems.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	t.Events.Close()
	return t.Tracer.Shutdown(ctx)
}
