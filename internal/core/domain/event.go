package domain

import "time"

// EventType identifies a queue lifecycle event.
type EventType string

const (
	EventItemAdded     EventType = "item_added"
	EventItemStarted   EventType = "item_started"
	EventItemCompleted EventType = "item_completed"
	EventItemFailed    EventType = "item_failed"
	EventItemCancelled EventType = "item_cancelled"
	EventQueuePaused   EventType = "queue_paused"
	EventQueueResumed  EventType = "queue_resumed"
)

// Event is delivered to registered listeners. Listeners are read-only
// observers; the Job pointer must not be mutated.
type Event struct {
	Type      EventType `json:"type"`
	Job       *Job      `json:"job,omitempty"`
	Err       error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}
