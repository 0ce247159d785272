// Package subscription provides a bounded message queue of one subscriber.
package subscription

import "sync"

// Subscription is the queue of one subscriber.
type Subscription struct {
	mu     sync.Mutex
	closed bool
	queue  chan any
}

// New creates a subscription buffering up to size messages.
func New(size int) *Subscription {
	return &Subscription{
		queue: make(chan any, size),
	}
}

// Send queues message without blocking. It returns false when the
// subscription is closed or full.
func (s *Subscription) Send(message any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- message:
		return true
	default:
		return false
	}
}

// Receive returns the queue. It is closed by Close.
func (s *Subscription) Receive() <-chan any {
	return s.queue
}

// Close closes the queue. It is safe to call repeatedly.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}
