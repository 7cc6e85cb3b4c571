package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRedisPubSub(t *testing.T) {
	// Test with nil client - should create struct correctly even with nil
	// (actual operations would fail but construction should work)
	pubsub := NewRedisPubSub(nil)

	assert.NotNil(t, pubsub)
	assert.Nil(t, pubsub.client)
	assert.NotNil(t, pubsub.subscribers)
	assert.Len(t, pubsub.subscribers, 0)
}

func TestRedisPubSub_channelName(t *testing.T) {
	pubsub := NewRedisPubSub(nil)

	tests := []struct {
		eventType EventType
		expected  string
	}{
		{EventInstanceTriggered, "disjob:events:instance.triggered"},
		{EventInstanceRunning, "disjob:events:instance.running"},
		{EventInstanceCompleted, "disjob:events:instance.completed"},
		{EventInstanceFailed, "disjob:events:instance.failed"},
		{EventTaskStarted, "disjob:events:task.started"},
		{EventTaskCompleted, "disjob:events:task.completed"},
		{EventTaskFailed, "disjob:events:task.failed"},
		{EventWorkerJoined, "disjob:events:worker.joined"},
		{EventWorkerLeft, "disjob:events:worker.left"},
		{EventWorkerPaused, "disjob:events:worker.paused"},
		{EventWorkerResumed, "disjob:events:worker.resumed"},
		{EventSystemMetrics, "disjob:events:system.metrics"},
	}

	for _, tc := range tests {
		t.Run(string(tc.eventType), func(t *testing.T) {
			channel := pubsub.channelName(tc.eventType)
			assert.Equal(t, tc.expected, channel)
		})
	}
}

func TestRedisPubSub_Close_EmptySubscribers(t *testing.T) {
	pubsub := NewRedisPubSub(nil)

	// Should not panic with empty subscribers
	err := pubsub.Close()
	assert.NoError(t, err)
	assert.Len(t, pubsub.subscribers, 0)
}

func TestChannelPrefix(t *testing.T) {
	assert.Equal(t, "disjob:events:", channelPrefix)
}
