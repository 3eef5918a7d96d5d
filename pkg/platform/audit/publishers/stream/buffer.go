// Package stream buffers persisted audit events for best-effort delivery
// to external sinks.
package stream

import (
	"sync"

	audit "warden/pkg/platform/audit"
)

// RingBuffer is a bounded, thread-safe FIFO of audit events. When full, the
// oldest event is dropped to make room. The durable store already holds
// every event, so a drop only delays downstream consumers.
type RingBuffer struct {
	mu       sync.Mutex
	events   []audit.Event
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int

	dropped int64
	onDrop  func()
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 10000
	}
	return &RingBuffer{
		events:   make([]audit.Event, capacity),
		capacity: capacity,
	}
}

// OnDrop registers a callback invoked for each dropped event.
func (b *RingBuffer) OnDrop(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Enqueue adds an event, dropping the oldest if necessary.
func (b *RingBuffer) Enqueue(event audit.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
		if b.onDrop != nil {
			b.onDrop()
		}
	}

	b.events[b.head] = event
	b.head = (b.head + 1) % b.capacity
	b.count++
}

// DequeueBatch removes up to n events in FIFO order.
func (b *RingBuffer) DequeueBatch(n int) []audit.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 || n <= 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}

	result := make([]audit.Event, n)
	for i := range n {
		result[i] = b.events[b.tail]
		b.events[b.tail] = audit.Event{}
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return result
}

// Requeue puts events back at the front of the queue after a failed
// publish, keeping their order. Events that do not fit are dropped.
func (b *RingBuffer) Requeue(events []audit.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(events) - 1; i >= 0; i-- {
		if b.count >= b.capacity {
			b.dropped++
			if b.onDrop != nil {
				b.onDrop()
			}
			continue
		}
		b.tail = (b.tail - 1 + b.capacity) % b.capacity
		b.events[b.tail] = events[i]
		b.count++
	}
}

func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
