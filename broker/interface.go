// Package broker delivers relay messages to the sockets of room participants.
package broker

import "peercall/broker/subscription"

// Topic groups the subscriptions of one kind of receiver.
type Topic int

const (
	// ClientSocket is the topic of the outbound queue of each relay socket.
	ClientSocket Topic = iota
)

// Detail selects a single receiver within a topic. For ClientSocket it is
// the relay connection ID.
type Detail string

// Broker is a pub/sub of messages keyed by topic and detail.
//
//go:generate mockgen -destination=mock_broker.go -package=broker . Broker
type Broker interface {
	Publish(topic Topic, detail Detail, message any) error
	Subscribe(topic Topic, detail Detail) *subscription.Subscription
	Unsubscribe(topic Topic, detail Detail, sub *subscription.Subscription) error
}
