package statemachine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternTable_LockSerializesSameKey(t *testing.T) {
	table := NewInternTable()

	var (
		mu      sync.Mutex
		order   []string
		started = make(chan struct{})
	)

	unlock := table.Lock(42)

	go func() {
		close(started)
		unlock2 := table.Lock(42)
		defer unlock2()
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	}()

	<-started
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	assert.Empty(t, order, "second goroutine must not have acquired the lock yet")
	mu.Unlock()

	unlock()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestInternTable_DistinctKeysDoNotBlock(t *testing.T) {
	table := NewInternTable()

	unlock1 := table.Lock(1)
	defer unlock1()

	done := make(chan struct{})
	go func() {
		unlock2 := table.Lock(2)
		defer unlock2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a distinct key should not block")
	}
}

func TestInternTable_ReentrantSequentialAcquire(t *testing.T) {
	table := NewInternTable()

	unlock := table.Lock(7)
	unlock()

	done := make(chan struct{})
	go func() {
		unlock2 := table.Lock(7)
		unlock2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock should be re-acquirable once released")
	}
}
