package timingwheel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffer_AdmitsAndDedups(t *testing.T) {
	w := New(10*time.Millisecond, 8)

	item := &Item{TaskID: 1, TriggerTime: time.Now().Add(time.Hour), Payload: "a"}
	assert.True(t, w.Offer(item))

	dup := &Item{TaskID: 1, TriggerTime: time.Now().Add(time.Hour), Payload: "b"}
	assert.False(t, w.Offer(dup))
}

func TestOffer_PastTriggerTimeStillAdmitted(t *testing.T) {
	w := New(10*time.Millisecond, 8)

	item := &Item{TaskID: 2, TriggerTime: time.Now().Add(-time.Minute)}
	assert.True(t, w.Offer(item))
}

func TestCancel_RemovesPendingItem(t *testing.T) {
	w := New(10*time.Millisecond, 8)

	item := &Item{TaskID: 3, TriggerTime: time.Now().Add(time.Hour)}
	require.True(t, w.Offer(item))

	assert.True(t, w.Cancel(3))
	assert.False(t, w.Cancel(3))
}

func TestCancel_UnknownTaskID(t *testing.T) {
	w := New(10*time.Millisecond, 8)
	assert.False(t, w.Cancel(999))
}

func TestRun_DeliversDueItemsOnDue(t *testing.T) {
	w := New(5*time.Millisecond, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	item := &Item{TaskID: 4, TriggerTime: time.Now(), Payload: "ready"}
	require.True(t, w.Offer(item))

	select {
	case got := <-w.Due():
		assert.Equal(t, int64(4), got.TaskID)
		assert.Equal(t, "ready", got.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for due item")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	w := New(5*time.Millisecond, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}

func TestOffer_DistinctTaskIDsBothAdmitted(t *testing.T) {
	w := New(10*time.Millisecond, 8)

	assert.True(t, w.Offer(&Item{TaskID: 10, TriggerTime: time.Now().Add(time.Hour)}))
	assert.True(t, w.Offer(&Item{TaskID: 11, TriggerTime: time.Now().Add(time.Hour)}))

	assert.True(t, w.Cancel(10))
	assert.True(t, w.Cancel(11))
}
