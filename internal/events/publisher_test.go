package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_Constants(t *testing.T) {
	// Verify all event types are defined correctly
	assert.Equal(t, EventType("instance.triggered"), EventInstanceTriggered)
	assert.Equal(t, EventType("instance.running"), EventInstanceRunning)
	assert.Equal(t, EventType("instance.completed"), EventInstanceCompleted)
	assert.Equal(t, EventType("instance.failed"), EventInstanceFailed)
	assert.Equal(t, EventType("instance.canceled"), EventInstanceCanceled)
	assert.Equal(t, EventType("instance.paused"), EventInstancePaused)
	assert.Equal(t, EventType("task.dispatched"), EventTaskDispatched)
	assert.Equal(t, EventType("task.started"), EventTaskStarted)
	assert.Equal(t, EventType("task.completed"), EventTaskCompleted)
	assert.Equal(t, EventType("task.failed"), EventTaskFailed)
	assert.Equal(t, EventType("worker.joined"), EventWorkerJoined)
	assert.Equal(t, EventType("worker.left"), EventWorkerLeft)
	assert.Equal(t, EventType("worker.paused"), EventWorkerPaused)
	assert.Equal(t, EventType("worker.resumed"), EventWorkerResumed)
	assert.Equal(t, EventType("system.metrics"), EventSystemMetrics)
}

func TestNewEvent(t *testing.T) {
	data := map[string]interface{}{
		"instance_id": int64(123),
		"state":       "running",
	}

	event := NewEvent(EventInstanceRunning, data)

	assert.Equal(t, EventInstanceRunning, event.Type)
	assert.Equal(t, data, event.Data)
	assert.False(t, event.Timestamp.IsZero())
	assert.WithinDuration(t, time.Now(), event.Timestamp, time.Second)
}

func TestEvent_ToJSON(t *testing.T) {
	event := &Event{
		Type:      EventInstanceCompleted,
		Timestamp: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Data: map[string]interface{}{
			"instance_id": int64(456),
			"result":      "success",
		},
	}

	data, err := event.ToJSON()
	require.NoError(t, err)

	var parsed map[string]interface{}
	err = json.Unmarshal(data, &parsed)
	require.NoError(t, err)

	assert.Equal(t, "instance.completed", parsed["type"])
	assert.NotEmpty(t, parsed["timestamp"])
	assert.NotNil(t, parsed["data"])
}

func TestFromJSON(t *testing.T) {
	jsonData := `{
		"type": "instance.failed",
		"timestamp": "2024-01-15T10:30:00Z",
		"data": {"instance_id": 789, "error": "timeout"}
	}`

	event, err := FromJSON([]byte(jsonData))
	require.NoError(t, err)

	assert.Equal(t, EventInstanceFailed, event.Type)
	assert.EqualValues(t, 789, event.Data["instance_id"])
	assert.Equal(t, "timeout", event.Data["error"])
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("invalid json"))
	assert.Error(t, err)
}

func TestEvent_RoundTrip(t *testing.T) {
	original := NewEvent(EventWorkerJoined, map[string]interface{}{
		"endpoint": "10.0.0.1:9000",
		"state":    "active",
	})

	data, err := original.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, original.Type, restored.Type)
	assert.Equal(t, original.Data["endpoint"], restored.Data["endpoint"])
	assert.Equal(t, original.Data["state"], restored.Data["state"])
}

func TestInstanceEventData(t *testing.T) {
	data := InstanceEventData(42, "completed", map[string]interface{}{
		"retried_count": 1,
	})

	assert.EqualValues(t, 42, data["instance_id"])
	assert.Equal(t, "completed", data["state"])
	assert.Equal(t, 1, data["retried_count"])
}

func TestTaskEventData(t *testing.T) {
	data := TaskEventData(1001, 42, map[string]interface{}{
		"worker_server": "10.0.0.1:9000",
	})

	assert.EqualValues(t, 1001, data["task_id"])
	assert.EqualValues(t, 42, data["instance_id"])
	assert.Equal(t, "10.0.0.1:9000", data["worker_server"])
}

func TestTaskEventData_NoExtra(t *testing.T) {
	data := TaskEventData(1002, 43, nil)

	assert.EqualValues(t, 1002, data["task_id"])
	assert.EqualValues(t, 43, data["instance_id"])
	assert.Len(t, data, 2)
}

func TestWorkerEventData(t *testing.T) {
	data := WorkerEventData("10.0.0.1:9000", "worker", "active", map[string]interface{}{
		"concurrency": 10,
	})

	assert.Equal(t, "10.0.0.1:9000", data["endpoint"])
	assert.Equal(t, "worker", data["role"])
	assert.Equal(t, "active", data["state"])
	assert.Equal(t, 10, data["concurrency"])
}

func TestWorkerEventData_NoExtra(t *testing.T) {
	data := WorkerEventData("10.0.0.2:9000", "supervisor", "paused", nil)

	assert.Equal(t, "10.0.0.2:9000", data["endpoint"])
	assert.Equal(t, "supervisor", data["role"])
	assert.Equal(t, "paused", data["state"])
	assert.Len(t, data, 3)
}
