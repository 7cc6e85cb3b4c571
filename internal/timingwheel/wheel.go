// Package timingwheel is the worker-side bounded-delay admission queue: a
// fixed ring of buckets keyed by trigger time, polled once per tick, that
// hands due items to the executor pool. No library in the retrieved pack
// implements this (it is pure in-process scheduling, not I/O), so it is
// hand-built on container/list the way a bounded ring buffer is normally
// expressed in Go, with one sync.Mutex per bucket per spec.md's "each
// bucket guarded by its own lock" ordering guarantee.
package timingwheel

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/maumercado/task-queue-go/internal/logger"
)

// Item is one admitted unit of work, identified by TaskID for dedup and
// carrying an opaque Payload the executor pool interprets.
type Item struct {
	TaskID      int64
	TriggerTime time.Time
	Payload     any
}

type bucket struct {
	mu      sync.Mutex
	entries *list.List // of *Item
	ids     map[int64]*list.Element
}

func newBucket() *bucket {
	return &bucket{entries: list.New(), ids: make(map[int64]*list.Element)}
}

// Wheel is a ring of ringSize buckets, each covering one tickMs-wide slice
// of time. An item's bucket is (triggerTime.UnixMilli() / tickMs) %
// ringSize; the poller advances one bucket per tick and drains whatever
// landed there.
type Wheel struct {
	tick     time.Duration
	ringSize int
	buckets  []*bucket
	cursor   int
	cursorMu sync.Mutex
	out      chan *Item
}

func New(tick time.Duration, ringSize int) *Wheel {
	buckets := make([]*bucket, ringSize)
	for i := range buckets {
		buckets[i] = newBucket()
	}
	return &Wheel{
		tick:     tick,
		ringSize: ringSize,
		buckets:  buckets,
		out:      make(chan *Item, ringSize),
	}
}

// Due returns the channel the executor pool drains admitted items from.
func (w *Wheel) Due() <-chan *Item {
	return w.out
}

func (w *Wheel) slot(t time.Time) int {
	ms := t.UnixMilli()
	tickMs := w.tick.Milliseconds()
	if tickMs <= 0 {
		tickMs = 1
	}
	return int((ms / tickMs) % int64(w.ringSize))
}

// Offer admits item into the bucket matching its TriggerTime. A trigger
// time already in the past (or within the current tick) lands in the bucket
// one tick ahead of now and is popped on the poller's next advance or the
// one after. Offer returns false if that bucket already holds an entry for
// this TaskID (dedup is per bucket).
func (w *Wheel) Offer(item *Item) bool {
	at := item.TriggerTime
	if !at.After(time.Now()) {
		at = time.Now().Add(w.tick)
	}
	idx := w.slot(at)
	b := w.buckets[idx]

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.ids[item.TaskID]; exists {
		return false
	}
	el := b.entries.PushBack(item)
	b.ids[item.TaskID] = el
	return true
}

// Cancel removes a still-pending item before it fires, used when an
// operator terminates a task that the wheel has admitted but not yet
// dispatched to the executor pool.
func (w *Wheel) Cancel(taskID int64) bool {
	for _, b := range w.buckets {
		b.mu.Lock()
		if el, ok := b.ids[taskID]; ok {
			b.entries.Remove(el)
			delete(b.ids, taskID)
			b.mu.Unlock()
			return true
		}
		b.mu.Unlock()
	}
	return false
}

// Run advances the ring one bucket per tick, draining whatever landed in
// the current bucket onto the Due channel, until ctx is canceled. The
// cursor starts at the bucket one tick ahead of the clock, so it keeps step
// with the trigger-time buckets Offer fills.
func (w *Wheel) Run(ctx context.Context) {
	w.cursorMu.Lock()
	w.cursor = w.slot(time.Now().Add(w.tick))
	w.cursorMu.Unlock()

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.advance(ctx)
		}
	}
}

func (w *Wheel) advance(ctx context.Context) {
	w.cursorMu.Lock()
	idx := w.cursor
	w.cursor = (w.cursor + 1) % w.ringSize
	w.cursorMu.Unlock()

	b := w.buckets[idx]
	b.mu.Lock()
	due := make([]*Item, 0, b.entries.Len())
	for el := b.entries.Front(); el != nil; el = el.Next() {
		due = append(due, el.Value.(*Item))
	}
	b.entries.Init()
	b.ids = make(map[int64]*list.Element)
	b.mu.Unlock()

	for _, item := range due {
		select {
		case w.out <- item:
		case <-ctx.Done():
			return
		default:
			logger.Warn().Int64("task_id", item.TaskID).Msg("timingwheel: executor pool backlogged, dropping due item")
		}
	}
}
