package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventJobCreated   EventType = "job_created"
	EventJobClaimed   EventType = "job_claimed"
	EventJobCompleted EventType = "job_completed"
	EventJobFailed    EventType = "job_failed"
	EventJobRequeued  EventType = "job_requeued"
	EventJobSkipped   EventType = "job_skipped"
	EventJobCancelled EventType = "job_cancelled"
	EventJobReclaimed EventType = "job_reclaimed"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for every event type
	SubscribeAll(handler EventHandler) error

	// Publish an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
