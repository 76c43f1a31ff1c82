// Package queue is the bounded in-memory hand-off between the outbox relay
// and the delivery workers.
package queue

import (
	"context"
	"sync"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/Khushwant-Singh1/HackOps/pkg/metrics"
)

const defaultQueueCapacity = 10_000

// Event is the payload type flowing through the queue.
type Event = model.DomainEvent

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue returns false if the queue is full or closed.
	Enqueue(ctx context.Context, e Event) bool
	// Dequeue returns a channel that is closed when the queue is closed and
	// drained.
	Dequeue(ctx context.Context) <-chan Event
	Len(ctx context.Context) int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	events   chan Event
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.events = make(chan Event, q.capacity)
	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds an event without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e Event) bool { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}
	if ctx.Err() != nil {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	}

	select {
	case q.events <- e:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.events))
		return true
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue exposes the receive side. Consumers stop on ctx themselves.
func (q *InMemoryQueue) Dequeue(_ context.Context) <-chan Event {
	return q.events
}

// Len returns the current number of queued events.
func (q *InMemoryQueue) Len(_ context.Context) int {
	size := len(q.events)
	metrics.UpdateQueueSize(size)
	return size
}

// Close stops accepting events. Queued events remain readable.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.events)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
