// Package broker moves message envelopes between Kafka topics and receive
// endpoints.
package broker

import (
	"context"

	"conduit/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic string, msg *models.MessageEnvelope) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// HandlerFunc processes one delivery. A returned error is retried unless it
// is permanent, then the message is dead-lettered.
type HandlerFunc func(ctx context.Context, msg *models.MessageEnvelope) error
