// Package events carries structured signals from the workflow engine and the
// appointment lifecycle manager to the notification collaborator.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/songzhibin97/clinic-intake/errs"
)

var (
	// ErrBusClosed indicates the event bus has been closed.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrChannelFull indicates the event channel is full and cannot accept more events.
	ErrChannelFull = errors.New("event channel is full")
	// ErrNoHandler indicates no handlers are registered for the event type.
	ErrNoHandler = errors.New("no handlers registered for event type")
)

// All subscribes a handler to every event type.
const All = "*"

// Event types published by the workflow engine and the lifecycle manager.
const (
	WorkflowStarted   = "workflow.started"
	WorkflowAdvanced  = "workflow.advanced"
	WorkflowRetreated = "workflow.retreated"
	WorkflowSubmitted = "workflow.submitted"
	WorkflowAbandoned = "workflow.abandoned"

	AppointmentBooked      = "appointment.booked"
	AppointmentConfirmed   = "appointment.confirmed"
	AppointmentCancelled   = "appointment.cancelled"
	AppointmentRescheduled = "appointment.rescheduled"
	AppointmentConflict    = "appointment.conflict"
)

// Event is a structured signal. Failures carry the error kind, never display text.
type Event struct {
	Type    string                 // e.g., "appointment.booked"
	Subject string                 // workflow instance or appointment ID
	Kind    errs.Kind              // set for failure signals
	At      time.Time              // stamped by Publish when zero
	Data    map[string]interface{} // additional event data
}

// EventHandler defines the interface for handling events.
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// EventHandlerFunc is a function adapter for EventHandler.
type EventHandlerFunc func(ctx context.Context, event Event) error

// Handle implements the EventHandler interface.
func (f EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscription identifies a registered handler.
type Subscription uint64

type entry struct {
	id      Subscription
	handler EventHandler
}

// EventBus delivers events to handlers on a single background goroutine, so
// handlers observe events in publish order.
type EventBus struct {
	handlers   map[string][]entry
	nextID     Subscription
	mu         sync.RWMutex
	eventCh    chan Event
	errHandler func(event Event, err error)
	logger     zerolog.Logger
	wg         sync.WaitGroup
	closed     bool
	closeMu    sync.RWMutex
}

// EventBusOption defines functional options for configuring EventBus.
type EventBusOption func(*EventBus)

// WithBufferSize sets the event channel buffer size.
func WithBufferSize(size int) EventBusOption {
	return func(eb *EventBus) {
		eb.eventCh = make(chan Event, size)
	}
}

// WithErrorHandler sets a custom error handler function.
func WithErrorHandler(handler func(event Event, err error)) EventBusOption {
	return func(eb *EventBus) {
		eb.errHandler = handler
	}
}

// WithLogger sets the logger used by the default error handler.
func WithLogger(logger zerolog.Logger) EventBusOption {
	return func(eb *EventBus) {
		eb.logger = logger
	}
}

// NewEventBus creates a new EventBus and starts its delivery goroutine.
// The default buffer size is 100; handler errors are logged.
func NewEventBus(options ...EventBusOption) *EventBus {
	eb := &EventBus{
		handlers: make(map[string][]entry),
		eventCh:  make(chan Event, 100),
		logger:   zerolog.Nop(),
	}
	for _, option := range options {
		option(eb)
	}
	if eb.errHandler == nil {
		eb.errHandler = eb.logError
	}

	eb.wg.Add(1)
	go eb.processEvents()

	return eb
}

// Subscribe registers a handler for an event type, or for every type with All.
func (eb *EventBus) Subscribe(eventType string, handler EventHandler) Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	eb.handlers[eventType] = append(eb.handlers[eventType], entry{id: eb.nextID, handler: handler})
	return eb.nextID
}

// SubscribeFunc subscribes a function as a handler to an event type.
func (eb *EventBus) SubscribeFunc(eventType string, handlerFunc func(ctx context.Context, event Event) error) Subscription {
	return eb.Subscribe(eventType, EventHandlerFunc(handlerFunc))
}

// Unsubscribe removes a subscription. Returns false if it was not registered.
func (eb *EventBus) Unsubscribe(id Subscription) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for eventType, entries := range eb.handlers {
		for i, e := range entries {
			if e.id != id {
				continue
			}
			entries = append(entries[:i:i], entries[i+1:]...)
			if len(entries) == 0 {
				delete(eb.handlers, eventType)
			} else {
				eb.handlers[eventType] = entries
			}
			return true
		}
	}
	return false
}

// HasSubscribers checks if any handler would receive an event of the given type.
func (eb *EventBus) HasSubscribers(eventType string) bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType]) > 0 || len(eb.handlers[All]) > 0
}

// Publish queues an event for delivery without blocking.
// Returns an error if the context is canceled, the bus is closed, no handler
// is registered, or the channel is full.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	eb.closeMu.RLock()
	defer eb.closeMu.RUnlock()
	if eb.closed {
		return ErrBusClosed
	}
	if !eb.HasSubscribers(event.Type) {
		return ErrNoHandler
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	select {
	case eb.eventCh <- event:
		return nil
	default:
		return ErrChannelFull
	}
}

// PublishSync delivers an event on the caller's goroutine and returns all
// handler errors. Delivery is bounded by a 5-second timeout.
func (eb *EventBus) PublishSync(ctx context.Context, event Event) []error {
	eb.closeMu.RLock()
	closed := eb.closed
	eb.closeMu.RUnlock()
	if closed {
		return []error{ErrBusClosed}
	}

	handlers := eb.handlersFor(event.Type)
	if len(handlers) == 0 {
		return []error{ErrNoHandler}
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return eb.executeHandlers(timeoutCtx, handlers, event)
}

// Stop closes the bus and waits for queued events to be delivered.
func (eb *EventBus) Stop() {
	eb.closeMu.Lock()
	if !eb.closed {
		eb.closed = true
		close(eb.eventCh)
	}
	eb.closeMu.Unlock()

	eb.wg.Wait()
}

func (eb *EventBus) handlersFor(eventType string) []EventHandler {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	out := make([]EventHandler, 0, len(eb.handlers[eventType])+len(eb.handlers[All]))
	for _, e := range eb.handlers[eventType] {
		out = append(out, e.handler)
	}
	for _, e := range eb.handlers[All] {
		out = append(out, e.handler)
	}
	return out
}

func (eb *EventBus) processEvents() {
	defer eb.wg.Done()

	for event := range eb.eventCh {
		handlers := eb.handlersFor(event.Type)
		for _, err := range eb.executeHandlers(context.Background(), handlers, event) {
			eb.errHandler(event, err)
		}
	}
}

// executeHandlers runs handlers one after another in subscription order.
func (eb *EventBus) executeHandlers(ctx context.Context, handlers []EventHandler, event Event) []error {
	var failures []error
	for _, h := range handlers {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		if err := h.Handle(ctx, event); err != nil {
			failures = append(failures, err)
		}
	}
	return failures
}

func (eb *EventBus) logError(event Event, err error) {
	eb.logger.Error().Err(err).
		Str("event", event.Type).
		Str("subject", event.Subject).
		Msg("event handler failed")
}
