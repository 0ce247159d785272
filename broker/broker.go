package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"peercall/broker/channel"
	"peercall/broker/subscription"
)

// DefaultQueueSize is the number of messages buffered for each subscriber.
const DefaultQueueSize = 256

// Below is the Error message for the broker.
var (
	ErrChannelNotFound      = errors.New("channel not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

type key struct {
	topic  Topic
	detail Detail
}

// Memory is an in-process Broker.
type Memory struct {
	mu        sync.RWMutex
	channels  map[key]*channel.Channel
	queueSize int
}

// New creates a new in-process broker.
func New() *Memory {
	return &Memory{
		channels:  make(map[key]*channel.Channel),
		queueSize: DefaultQueueSize,
	}
}

// Publish delivers message to every subscriber of topic and detail, in the
// order Publish is called.
func (b *Memory) Publish(topic Topic, detail Detail, message any) error {
	b.mu.RLock()
	ch, ok := b.channels[key{topic, detail}]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", detail, ErrChannelNotFound)
	}

	if dropped := ch.SendAll(message); dropped > 0 {
		slog.Warn("subscriber queue full, message dropped", "detail", detail, "dropped", dropped)
	}
	return nil
}

// Subscribe registers a new subscription for topic and detail.
func (b *Memory) Subscribe(topic Topic, detail Detail) *subscription.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := key{topic, detail}
	ch, ok := b.channels[k]
	if !ok {
		ch = channel.New()
		b.channels[k] = ch
	}
	sub := subscription.New(b.queueSize)
	ch.AddSubscription(sub)
	return sub
}

// Unsubscribe removes and closes sub. The channel is dropped with its last
// subscriber.
func (b *Memory) Unsubscribe(topic Topic, detail Detail, sub *subscription.Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := key{topic, detail}
	ch, ok := b.channels[k]
	if !ok {
		return fmt.Errorf("%s: %w", detail, ErrChannelNotFound)
	}
	if !ch.RemoveSubscription(sub) {
		return fmt.Errorf("%s: %w", detail, ErrSubscriptionNotFound)
	}
	if ch.Len() == 0 {
		delete(b.channels, k)
	}
	return nil
}
