package events

import (
	"context"
	"encoding/json"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// Instance events. statemachine.Driver holds a Publisher (see
	// internal/statemachine) but none of its operations call it, so
	// nothing in this module publishes these.
	EventInstanceTriggered EventType = "instance.triggered"
	EventInstanceRunning   EventType = "instance.running"
	EventInstanceCompleted EventType = "instance.completed"
	EventInstanceFailed    EventType = "instance.failed"
	EventInstanceCanceled  EventType = "instance.canceled"
	EventInstancePaused    EventType = "instance.paused"

	// Task events, built by RedisPubSub.PublishTaskEvent; nothing in this
	// module calls it.
	EventTaskDispatched EventType = "task.dispatched"
	EventTaskStarted    EventType = "task.started"
	EventTaskCompleted  EventType = "task.completed"
	EventTaskFailed     EventType = "task.failed"

	// Worker/supervisor node events, built by RedisPubSub.PublishWorkerEvent;
	// nothing in this module calls it.
	EventWorkerJoined  EventType = "worker.joined"
	EventWorkerLeft    EventType = "worker.left"
	EventWorkerPaused  EventType = "worker.paused"
	EventWorkerResumed EventType = "worker.resumed"

	// System events
	EventSystemMetrics EventType = "system.metrics"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType EventType, data map[string]interface{}) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// ToJSON serializes the event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Publisher defines the interface for event publishers
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error)
	Close() error
}

// Subscriber represents an event subscriber
type Subscriber interface {
	OnEvent(event *Event)
	EventTypes() []EventType
}

// InstanceEventData creates event data for an instance transition.
func InstanceEventData(instanceID int64, state string, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"instance_id": instanceID,
		"state":       state,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// TaskEventData creates event data for task events
func TaskEventData(taskID, instanceID int64, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"task_id":     taskID,
		"instance_id": instanceID,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// WorkerEventData creates event data for worker/supervisor node events.
func WorkerEventData(endpoint, role, state string, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"endpoint": endpoint,
		"role":     role,
		"state":    state,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}
