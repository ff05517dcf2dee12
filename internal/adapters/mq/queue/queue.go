// Package queue carries cycle triggers from the scheduler and the HTTP API
// to the single cycle worker.
//
// The default capacity is one: while a cycle runs, at most one trigger
// waits behind it and any further trigger is coalesced into that one.
package queue

import (
	"context"
	"sync"

	"github.com/okian/meterbridge/internal/domain/model"
	"github.com/okian/meterbridge/pkg/metrics"
)

const defaultQueueCapacity = 1

// Trigger is the payload flowing through the queue.
type Trigger = model.Trigger

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a trigger. It returns ErrCoalesced when the queue is
	// full and ErrClosed after Close.
	Enqueue(ctx context.Context, t Trigger) error

	// Dequeue returns the channel the worker reads from. It is closed by Close.
	Dequeue(ctx context.Context) <-chan Trigger

	// Len returns the number of waiting triggers.
	Len(ctx context.Context) int

	// Close stops accepting triggers.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	triggers chan Trigger
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.triggers = make(chan Trigger, q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds a trigger without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t Trigger) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case q.triggers <- t:
		metrics.RecordTrigger(string(t.Reason), false)
		metrics.UpdateQueueSize(len(q.triggers))
		return nil
	default:
		metrics.RecordTrigger(string(t.Reason), true)
		return ErrCoalesced
	}
}

// Dequeue returns the trigger channel. Reading from the channel directly
// keeps a trigger taken by the worker out of the queue's capacity.
func (q *InMemoryQueue) Dequeue(_ context.Context) <-chan Trigger {
	return q.triggers
}

// Len returns the current number of waiting triggers.
func (q *InMemoryQueue) Len(_ context.Context) int {
	size := len(q.triggers)
	metrics.UpdateQueueSize(size)
	return size
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.triggers)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
