// Package bus provides the session channel pair that bridges a web client
// and a running conversation: two unbounded FIFO queues of text frames,
// keyed per session in a Hub.
package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Put after Close, and by Get once the queue is
// closed and drained.
var ErrClosed = errors.New("bus: queue closed")

// Queue is an unbounded FIFO of text messages safe for concurrent use.
// Put never blocks. Get blocks until an item is available, the context
// ends, or the queue is closed and empty.
type Queue struct {
	mu     sync.Mutex
	items  []string
	notify chan struct{} // closed and replaced on every Put/Close
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{})}
}

// Put appends msg to the tail of the queue.
func (q *Queue) Put(msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, msg)
	q.wakeLocked()
	return nil
}

// Get removes and returns the head of the queue. A Get that returns an
// error has not consumed anything.
func (q *Queue) Get(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, nil
		}
		if q.closed {
			q.mu.Unlock()
			return "", ErrClosed
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Unget puts msg back at the head of the queue, for a consumer that took
// it but could not deliver it. It fails only once the queue is closed.
func (q *Queue) Unget(msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append([]string{msg}, q.items...)
	q.wakeLocked()
	return nil
}

// removeLast drops the most recent pending copy of msg. It reports
// whether one was found.
func (q *Queue) removeLast(msg string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.items) - 1; i >= 0; i-- {
		if q.items[i] == msg {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of pending messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting new messages and wakes all waiting getters.
// Pending messages can still be drained. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.wakeLocked()
}

func (q *Queue) wakeLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}
