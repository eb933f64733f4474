package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventVideoStatus carries a models.StatusEvent after every accepted
	// status mutation (ingestion, submission, reset).
	EventVideoStatus EventType = "video_status"

	// EventVideoSubmitted fires once per accepted submission batch.
	EventVideoSubmitted EventType = "video_submitted"

	// EventVideoReset fires after a successful gated reset.
	EventVideoReset EventType = "video_reset"

	// EventStats carries the periodic diagnostics payload.
	EventStats EventType = "stats"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages the in-process pub/sub bus between the ingestion
// adapter, the selection controller, and the propagation hub.
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers asynchronously. Handler errors
	// are logged, never returned to the publisher.
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes an event and waits for all handlers.
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
