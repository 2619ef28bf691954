package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents an execution lifecycle event in the conduit controller.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated pipeline run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Unit is the associated convergence unit, if applicable.
	Unit string `json:"unit,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypePipelineStarted   = "pipeline.started"
	EventTypePipelineCompleted = "pipeline.completed"
	EventTypePipelineAborted   = "pipeline.aborted"
	EventTypeStepCompleted     = "pipeline.step.completed"
	EventTypeStepFailed        = "pipeline.step.failed"
	EventTypeUnitApplied       = "converge.unit.applied"
	EventTypeUnitSkipped       = "converge.unit.skipped"
	EventTypeUnitFailed        = "converge.unit.failed"
	EventTypeDispatchFailed    = "dispatch.failed"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []EventSubscriber
	done        chan struct{}
	wg          sync.WaitGroup
	mu          sync.RWMutex
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ep := &EventPublisher{
		config: cfg,
		done:   make(chan struct{}),
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Subscribe registers a subscriber for all events.
func (ep *EventPublisher) Subscribe(sub EventSubscriber) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, sub)
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.done:
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliver(event)
	return nil
}

// PublishPipelineStarted publishes a pipeline started event.
func (ep *EventPublisher) PublishPipelineStarted(runID string, steps int) error {
	return ep.Publish(Event{
		Type:    EventTypePipelineStarted,
		Source:  "pipeline",
		RunID:   runID,
		Message: fmt.Sprintf("pipeline %s started with %d steps", runID, steps),
		Level:   EventLevelInfo,
	})
}

// PublishPipelineCompleted publishes a pipeline completed event.
func (ep *EventPublisher) PublishPipelineCompleted(runID string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypePipelineCompleted,
		Source:  "pipeline",
		RunID:   runID,
		Message: fmt.Sprintf("pipeline %s completed", runID),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
		},
	})
}

// PublishPipelineAborted publishes a pipeline aborted event.
func (ep *EventPublisher) PublishPipelineAborted(runID string, stepIndex int, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePipelineAborted,
		Source:  "pipeline",
		RunID:   runID,
		Message: fmt.Sprintf("pipeline %s aborted at step %d: %s", runID, stepIndex, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"step_index": stepIndex,
		},
	})
}

// PublishUnitOutcome publishes a convergence unit outcome event.
func (ep *EventPublisher) PublishUnitOutcome(unit, outcome string) error {
	eventType := EventTypeUnitApplied
	level := EventLevelInfo
	switch outcome {
	case "skipped":
		eventType = EventTypeUnitSkipped
	case "failed":
		eventType = EventTypeUnitFailed
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:    eventType,
		Source:  "converge",
		Unit:    unit,
		Message: fmt.Sprintf("unit %s %s", unit, outcome),
		Level:   level,
	})
}

// Close stops the publisher and waits for pending async events to drain.
func (ep *EventPublisher) Close() {
	if !ep.config.Enabled || !ep.config.EnableAsync {
		return
	}
	close(ep.done)
	ep.wg.Wait()
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()
	for {
		select {
		case event := <-ep.buffer:
			ep.deliver(event)
		case <-ep.done:
			// Drain remaining buffered events before exiting
			for {
				select {
				case event := <-ep.buffer:
					ep.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	subs := make([]EventSubscriber, len(ep.subscribers))
	copy(subs, ep.subscribers)
	ep.mu.RUnlock()

	for _, sub := range subs {
		sub(event)
	}
}
