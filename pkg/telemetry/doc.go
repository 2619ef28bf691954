// Package telemetry provides observability for the conduit controller:
// structured logging (zerolog), Prometheus metrics, OpenTelemetry tracing,
// and an in-process event stream for execution lifecycle events.
//
// A single Telemetry bundle is constructed at process start from Config and
// passed to the components that need it. Component loggers are derived with
// NewComponentLogger so every log line carries its origin:
//
//	tel, err := telemetry.New(telemetry.DefaultConfig())
//	if err != nil {
//		...
//	}
//	defer tel.Shutdown(context.Background())
//
//	log := tel.Logger.NewComponentLogger("dispatch")
//	log.Info("dispatching command")
//
// Metrics are registered on a private registry and exposed via
// Metrics.Handler, which the REST server mounts at /metrics.
package telemetry
