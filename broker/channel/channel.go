// Package channel provides the implementation of message channels.
package channel

import (
	"sync"

	"peercall/broker/subscription"
)

// Channel represents a message channel that can have multiple subscribers.
type Channel struct {
	mu   sync.RWMutex
	subs []*subscription.Subscription
}

// New creates and initializes a new Channel instance.
func New() *Channel {
	return &Channel{
		subs: make([]*subscription.Subscription, 0),
	}
}

// SendAll queues message on every subscription and returns how many
// subscriptions dropped it. Concurrent calls are serialized so that every
// subscriber sees the same order.
func (c *Channel) SendAll(message any) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for _, sub := range c.subs {
		if !sub.Send(message) {
			dropped++
		}
	}
	return dropped
}

// AddSubscription adds a new Subscription Channel.
func (c *Channel) AddSubscription(sub *subscription.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subs = append(c.subs, sub)
}

// RemoveSubscription removes and closes a Subscription. It reports whether
// sub was registered.
func (c *Channel) RemoveSubscription(sub *subscription.Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			sub.Close()
			return true
		}
	}
	return false
}

// Len returns the number of subscriptions.
func (c *Channel) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}
