package converge

import (
	"context"
	"fmt"
	"time"

	"github.com/openconduit/openconduit/pkg/telemetry"
)

// Unit outcomes.
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Run statuses.
const (
	StatusConverged = "converged"
	StatusFailed    = "failed"
)

// ProbeFunc reports whether a unit is already present on the target.
type ProbeFunc func(ctx context.Context, unit string) (bool, error)

// ApplyFunc installs a missing unit on the target.
type ApplyFunc func(ctx context.Context, unit string) error

// UnitResult records the outcome for one unit.
type UnitResult struct {
	Unit    string `json:"unit"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Report is the outcome of a convergence run. On failure it carries the
// results up to and including the failing unit.
type Report struct {
	Status     string        `json:"status"`
	Units      []UnitResult  `json:"units"`
	Applied    int           `json:"applied"`
	Skipped    int           `json:"skipped"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// UnitError reports the unit whose probe or apply failed.
type UnitError struct {
	Unit  string
	Op    string
	Cause error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("convergence failed on unit %s during %s: %v", e.Unit, e.Op, e.Cause)
}

func (e *UnitError) Unwrap() error {
	return e.Cause
}

// Converger runs convergence passes with shared telemetry.
type Converger struct {
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
}

// New creates a Converger. tel may be nil.
func New(tel *telemetry.Telemetry) *Converger {
	c := &Converger{
		logger: telemetry.FromContext(context.Background()),
	}
	if tel != nil {
		c.logger = tel.Logger.NewComponentLogger("converge")
		c.metrics = tel.Metrics
		c.events = tel.Events
	}
	return c
}

// Converge processes units in order: probe each one, apply it when absent.
// Applying is idempotent from the caller's view because present units are
// skipped. The first probe or apply error stops the run with a UnitError;
// the partial Report is still returned.
func (c *Converger) Converge(ctx context.Context, units []string, probe ProbeFunc, apply ApplyFunc) (*Report, error) {
	startTime := time.Now()
	report := &Report{
		Status:    StatusConverged,
		Units:     make([]UnitResult, 0, len(units)),
		StartedAt: startTime,
	}

	finish := func(status string) {
		report.Status = status
		report.FinishedAt = time.Now()
		report.Duration = report.FinishedAt.Sub(startTime)
		if c.metrics != nil {
			c.metrics.RecordConvergenceRun(status)
		}
	}

	for _, unit := range units {
		logger := c.logger.WithUnit(unit)

		present, err := probe(ctx, unit)
		if err != nil {
			unitErr := &UnitError{Unit: unit, Op: "probe", Cause: err}
			report.Units = append(report.Units, UnitResult{Unit: unit, Outcome: OutcomeFailed, Error: err.Error()})
			c.recordUnit(unit, OutcomeFailed)
			logger.WithError(err).Error("probe failed")
			finish(StatusFailed)
			return report, unitErr
		}

		if present {
			report.Units = append(report.Units, UnitResult{Unit: unit, Outcome: OutcomeSkipped})
			report.Skipped++
			c.recordUnit(unit, OutcomeSkipped)
			logger.Debug("unit already present")
			continue
		}

		if err := apply(ctx, unit); err != nil {
			unitErr := &UnitError{Unit: unit, Op: "apply", Cause: err}
			report.Units = append(report.Units, UnitResult{Unit: unit, Outcome: OutcomeFailed, Error: err.Error()})
			c.recordUnit(unit, OutcomeFailed)
			logger.WithError(err).Error("apply failed")
			finish(StatusFailed)
			return report, unitErr
		}

		report.Units = append(report.Units, UnitResult{Unit: unit, Outcome: OutcomeApplied})
		report.Applied++
		c.recordUnit(unit, OutcomeApplied)
		logger.Info("unit applied")
	}

	finish(StatusConverged)
	c.logger.Infof("converged %d units: %d applied, %d skipped", len(units), report.Applied, report.Skipped)
	return report, nil
}

func (c *Converger) recordUnit(unit, outcome string) {
	if c.metrics != nil {
		c.metrics.RecordConvergenceUnit(outcome)
	}
	if c.events != nil {
		_ = c.events.PublishUnitOutcome(unit, outcome)
	}
}
