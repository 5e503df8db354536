// Package queue deduplicates wallet activities and feeds them, one per
// tick, to the analysis pipeline.
package queue

import (
	"errors"
	"sync"
	"time"

	"gswapcopy/internal/domain"
)

// ErrQueueFull is returned by Push when the queue is at capacity.
var ErrQueueFull = errors.New("queue full")

// Deduplicator remembers the most recent activity ids. The oldest id is
// evicted once capacity is reached.
type Deduplicator struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]int // id -> ring slot holding it
	order    []string
	next     int
}

// NewDeduplicator creates a deduplicator holding up to capacity ids.
func NewDeduplicator(capacity int) *Deduplicator {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Deduplicator{
		capacity: capacity,
		seen:     make(map[string]int, capacity),
		order:    make([]string, 0, capacity),
	}
}

// Seen marks id and reports whether it had already been marked.
func (d *Deduplicator) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}

	var slot int
	if len(d.order) < d.capacity {
		slot = len(d.order)
		d.order = append(d.order, id)
	} else {
		slot = d.next
		if old := d.order[slot]; old != "" {
			if at, ok := d.seen[old]; ok && at == slot {
				delete(d.seen, old)
			}
		}
		d.order[slot] = id
		d.next = (d.next + 1) % d.capacity
	}
	d.seen[id] = slot
	return false
}

// Forget unmarks id so a later replay is accepted again. Its ring slot is
// emptied and reused in turn.
func (d *Deduplicator) Forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	slot, ok := d.seen[id]
	if !ok {
		return
	}
	d.order[slot] = ""
	delete(d.seen, id)
}

// Len returns how many ids are remembered.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Item is a queued activity with its delivery attempts.
type Item struct {
	Activity   domain.WalletActivity
	Attempts   int
	EnqueuedAt time.Time
}

// Queue is a bounded FIFO safe for concurrent producers and one consumer.
type Queue struct {
	mu       sync.Mutex
	capacity int
	items    []Item
}

// New creates a queue holding up to capacity items.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Queue{capacity: capacity}
}

// Push appends an activity.
func (q *Queue) Push(a domain.WalletActivity) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, Item{Activity: a, EnqueuedAt: time.Now()})
	return nil
}

// PushFront puts an item back at the head for retry. Retries are never
// refused for capacity.
func (q *Queue) PushFront(it Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]Item{it}, q.items...)
}

// Pop removes the head item.
func (q *Queue) Pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	it := q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]
	return it, true
}

// Drain removes and returns every queued item.
func (q *Queue) Drain() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the push limit.
func (q *Queue) Capacity() int {
	return q.capacity
}
