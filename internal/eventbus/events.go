package eventbus

import (
	"context"
	"log"
	"time"
)

// EventType represents the type of an event
type EventType string

// Standard event types
const (
	// Session events
	EventSessionStarted      EventType = "session_started"
	EventSessionStateChanged EventType = "session_state_changed"
	EventSessionCompleted    EventType = "session_completed"
	EventSessionFailed       EventType = "session_failed"
	EventSessionCancelled    EventType = "session_cancelled"
	EventSessionIteration    EventType = "session_iteration"

	// Seeding events (prompt to DSL)
	EventSeedingStarted EventType = "seeding_started"
	EventSeedingSuccess EventType = "seeding_success"
	EventSeedingFailure EventType = "seeding_failure"

	// Resolution events
	EventResolutionStarted    EventType = "resolution_started"
	EventResolutionSuccess    EventType = "resolution_success"
	EventResolutionIncomplete EventType = "resolution_incomplete"
	EventSlotResolved         EventType = "slot_resolved"
	EventSlotFailed           EventType = "slot_failed"
	EventInteractionRequested EventType = "interaction_requested"
	EventInteractionAnswered  EventType = "interaction_answered"
	EventQueryUserAnswered    EventType = "query_user_answered"
	EventInferenceCall        EventType = "inference_call"

	// Evaluation events
	EventEvaluationStarted          EventType = "evaluation_started"
	EventEvaluationCompleted        EventType = "evaluation_completed"
	EventIntentExecutionStarted     EventType = "intent_execution_started"
	EventIntentExecutionSuccess     EventType = "intent_execution_success"
	EventIntentExecutionFailure     EventType = "intent_execution_failure"
	EventIntentExecutionRecoverable EventType = "intent_execution_recoverable"
	EventIntentExecutionRetry       EventType = "intent_execution_retry"
	EventRedirected                 EventType = "redirected"

	// Async session events
	EventSessionAsyncStarted   EventType = "session_async_started"
	EventSessionAsyncSuccess   EventType = "session_async_success"
	EventSessionAsyncFailure   EventType = "session_async_failure"
	EventSessionAsyncCancelled EventType = "session_async_cancelled"

	// System events
	EventSystemError   EventType = "system_error"
	EventSystemWarning EventType = "system_warning"
	EventSystemInfo    EventType = "system_info"
)

// Metadata keys shared by publishers and subscribers.
const (
	MetaSessionID = "session_id"
	MetaIntent    = "intent"
	MetaSlot      = "slot"
	MetaKind      = "kind"
	MetaStatus    = "status"
	MetaState     = "state"
	MetaError     = "error"
	MetaErrorCode = "error_code"
	MetaDuration  = "duration_ms"
	MetaIteration = "iteration"
)

// EventHandler receives delivered events. A non-nil error makes the bus
// retry the delivery.
type EventHandler func(context.Context, Event) error

// Event is one lifecycle notification.
type Event interface {
	Type() EventType
	Payload() interface{}
	Metadata() map[string]interface{}
	// Timestamp is the publication time in Unix nanoseconds.
	Timestamp() int64
	// Source names the publishing operation, e.g. "Resolver.Resolve".
	Source() string
}

// EventBus dispatches events to subscribers.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe returns a subscription id for Unsubscribe.
	Subscribe(eventTypes []EventType, handler EventHandler) (string, error)
	SubscribeAll(handler EventHandler) (string, error)
	Unsubscribe(subscriptionID string) error
	Close() error
}

// BaseEvent is the Event published by Emit.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
	metadata  map[string]interface{}
	timestamp int64
	source    string
}

// NewEvent stamps a new event with the current time.
func NewEvent(eventType EventType, payload interface{}, source string, metadata map[string]interface{}) *BaseEvent {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	return &BaseEvent{
		eventType: eventType,
		payload:   payload,
		metadata:  metadata,
		timestamp: time.Now().UnixNano(),
		source:    source,
	}
}

func (e *BaseEvent) Type() EventType                  { return e.eventType }
func (e *BaseEvent) Payload() interface{}             { return e.payload }
func (e *BaseEvent) Metadata() map[string]interface{} { return e.metadata }
func (e *BaseEvent) Timestamp() int64                 { return e.timestamp }
func (e *BaseEvent) Source() string                   { return e.source }

// SessionOf returns the session id carried in the event metadata, or "".
func SessionOf(e Event) string {
	id, _ := e.Metadata()[MetaSessionID].(string)
	return id
}

// Emit publishes an event on bus if bus is non-nil. Delivery is detached
// from ctx cancellation so that "cancelled" events still reach subscribers.
// Publishing failures are logged, never returned.
func Emit(ctx context.Context, bus EventBus, eventType EventType, source string, payload interface{}, metadata map[string]interface{}) {
	if bus == nil {
		return
	}
	if err := bus.Publish(context.WithoutCancel(ctx), NewEvent(eventType, payload, source, metadata)); err != nil {
		log.Printf("Failed to publish event (event_type: %s, source: %s, error: %v)", eventType, source, err)
	}
}
