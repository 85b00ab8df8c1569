package saga

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"conduit/pkg/consume"
	pkgerrors "conduit/pkg/errors"
)

// MessageHandler applies one message to a saga instance.
type MessageHandler[T any] func(ctx context.Context, c *consume.Context, instance *Instance[T]) error

type binding[T any] struct {
	policy  Policy
	handler MessageHandler[T]
}

// Connector routes messages to a saga repository. It is a consume.Consumer
// and is connected to a registry once per bound message type.
type Connector[T any] struct {
	repository  *Repository[T]
	bindings    map[string]binding[T]
	correlation func(c *consume.Context) (uuid.UUID, error)
}

func NewConnector[T any](repository *Repository[T]) *Connector[T] {
	return &Connector[T]{
		repository:  repository,
		bindings:    make(map[string]binding[T]),
		correlation: EnvelopeCorrelation,
	}
}

// EnvelopeCorrelation reads the correlation id carried by the envelope.
func EnvelopeCorrelation(c *consume.Context) (uuid.UUID, error) {
	raw := c.CorrelationID()
	if raw == "" {
		return uuid.Nil, pkgerrors.ErrValidation.WithDetail("message",
			fmt.Sprintf("message %s of type %s has no correlation id", c.MessageID(), c.MessageType()))
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.ErrValidation.WithCause(err).WithDetail("message",
			fmt.Sprintf("message %s has malformed correlation id %q", c.MessageID(), raw))
	}
	return id, nil
}

// WithCorrelation replaces how the correlation id is derived from a message.
func (cn *Connector[T]) WithCorrelation(fn func(c *consume.Context) (uuid.UUID, error)) *Connector[T] {
	cn.correlation = fn
	return cn
}

// On binds messageType to handler under policy. A later binding for the
// same type replaces the earlier one.
func (cn *Connector[T]) On(messageType string, policy Policy, handler MessageHandler[T]) *Connector[T] {
	cn.bindings[messageType] = binding[T]{policy: policy, handler: handler}
	return cn
}

// Connect registers the connector for every bound message type.
func (cn *Connector[T]) Connect(registry *consume.Registry) {
	for _, messageType := range cn.MessageTypes() {
		registry.Connect(messageType, cn)
	}
}

func (cn *Connector[T]) MessageTypes() []string {
	types := make([]string, 0, len(cn.bindings))
	for t := range cn.bindings {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (cn *Connector[T]) Consume(ctx context.Context, c *consume.Context) error {
	b, ok := cn.bindings[c.MessageType()]
	if !ok {
		return nil
	}

	id, err := cn.correlation(c)
	if err != nil {
		return err
	}

	return cn.repository.Send(ctx, id, b.policy, func(ctx context.Context, instance *Instance[T]) error {
		return b.handler(ctx, c, instance)
	})
}

func (cn *Connector[T]) String() string {
	return "saga(" + cn.repository.Name() + ")"
}
