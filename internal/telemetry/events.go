package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"chat-engine/internal/observability"
)

// Publisher delivers an encoded event to the broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// EventEmitter wraps domain events in a versioned envelope and publishes them.
// Publish failures are logged and counted, never returned. After Start, events
// go through a bounded queue and Emit never waits on the broker.
type EventEmitter struct {
	publisher   Publisher
	prefix      string
	service     string
	environment string
	logger      *slog.Logger

	mu     sync.RWMutex
	queue  chan queuedEvent
	done   chan struct{}
	closed bool
}

type queuedEvent struct {
	ctx      context.Context
	envelope Envelope
}

// Envelope is the broker payload for every domain event.
type Envelope struct {
	SchemaVersion int    `json:"schema_version"`
	EventType     string `json:"event_type"`
	OccurredAt    string `json:"occurred_at"`
	Service       string `json:"service"`
	Environment   string `json:"environment"`
	TraceID       string `json:"trace_id,omitempty"`
	Payload       any    `json:"payload"`
}

func NewEventEmitter(publisher Publisher, prefix, service, environment string, logger *slog.Logger) *EventEmitter {
	return &EventEmitter{
		publisher:   publisher,
		prefix:      strings.TrimSuffix(prefix, "."),
		service:     service,
		environment: environment,
		logger:      logger.With("component", "events"),
	}
}

// Start switches the emitter to background publishing through a queue of
// buffer events. Events that do not fit are dropped and counted.
func (e *EventEmitter) Start(buffer int) {
	if e == nil || e.publisher == nil || buffer <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queue != nil || e.closed {
		return
	}
	e.queue = make(chan queuedEvent, buffer)
	e.done = make(chan struct{})
	go e.run()
}

func (e *EventEmitter) run() {
	defer close(e.done)
	for item := range e.queue {
		e.publish(item.ctx, item.envelope)
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (e *EventEmitter) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	queue, done := e.queue, e.done
	e.mu.Unlock()
	if queue == nil {
		return nil
	}

	close(queue)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RoutingKey returns the topic routing key used for eventType.
func (e *EventEmitter) RoutingKey(eventType string) string {
	if e.prefix == "" {
		return eventType
	}
	return e.prefix + "." + eventType
}

func (e *EventEmitter) Emit(ctx context.Context, eventType string, payload any) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := Envelope{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		Payload:       payload,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		envelope.TraceID = sc.TraceID().String()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	switch {
	case e.closed:
		observability.IncDomainEvent(eventType, "dropped")
	case e.queue == nil:
		e.publish(ctx, envelope)
	default:
		select {
		case e.queue <- queuedEvent{ctx: context.WithoutCancel(ctx), envelope: envelope}:
		default:
			observability.IncDomainEvent(eventType, "dropped")
			e.logger.WarnContext(ctx, "event queue full, dropping event", "event_type", eventType)
		}
	}
}

func (e *EventEmitter) publish(ctx context.Context, envelope Envelope) {
	if err := e.publisher.Publish(ctx, e.RoutingKey(envelope.EventType), envelope); err != nil {
		observability.IncDomainEvent(envelope.EventType, "error")
		e.logger.WarnContext(ctx, "event publish failed", "event_type", envelope.EventType, "err", err)
		return
	}
	observability.IncDomainEvent(envelope.EventType, "published")
}
