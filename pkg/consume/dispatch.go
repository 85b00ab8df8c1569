package consume

import (
	"context"
	"fmt"

	"conduit/internal/logger"
	"conduit/pkg/metrics"
	"conduit/pkg/pipe"
)

const (
	DispatchConsumed = "consumed"
	DispatchSkipped  = "skipped"
	DispatchFailed   = "failed"
)

type dispatchFilter struct {
	registry *Registry
	logger   logger.Logger
}

// Send runs every consumer connected to the message type, in order, and stops
// at the first error. A message nobody consumes is logged and skipped.
func (f *dispatchFilter) Send(ctx context.Context, c *Context, next pipe.Pipe[*Context]) error {
	messageType := c.MessageType()
	consumers := f.registry.Consumers(messageType)

	if len(consumers) == 0 {
		metrics.IncConsumerDispatch(messageType, DispatchSkipped)
		f.logger.WarnwCtx(ctx, "No consumer connected for message type",
			"message_type", messageType,
		)
		return next.Send(ctx, c)
	}

	for _, consumer := range consumers {
		if err := consumer.Consume(ctx, c); err != nil {
			metrics.IncConsumerDispatch(messageType, DispatchFailed)
			return err
		}
	}
	metrics.IncConsumerDispatch(messageType, DispatchConsumed)

	return next.Send(ctx, c)
}

func (f *dispatchFilter) Probe(pc pipe.ProbeContext) {
	consumers := pc.CreateFilterScope("dispatch").CreateScope("consumers")
	for _, messageType := range f.registry.MessageTypes() {
		connected := f.registry.Consumers(messageType)
		names := make([]string, 0, len(connected))
		for _, consumer := range connected {
			names = append(names, consumerName(consumer))
		}
		consumers.Add(messageType, names)
	}
}

func consumerName(consumer Consumer) string {
	if s, ok := consumer.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", consumer)
}

type DispatchOption func(*dispatchSpecification)

func WithDispatchLogger(log logger.Logger) DispatchOption {
	return func(s *dispatchSpecification) {
		s.logger = log
	}
}

type dispatchSpecification struct {
	registry *Registry
	logger   logger.Logger
}

// UseDispatch terminates a pipe by handing each message to its consumers.
func UseDispatch(registry *Registry, opts ...DispatchOption) pipe.Specification[*Context] {
	s := &dispatchSpecification{registry: registry, logger: logger.NopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *dispatchSpecification) Apply(b pipe.Builder[*Context]) {
	b.AddFilter(&dispatchFilter{registry: s.registry, logger: s.logger})
}

func (s *dispatchSpecification) Validate() []pipe.ValidationResult {
	if s.registry == nil {
		return []pipe.ValidationResult{pipe.Failed("dispatch.registry", "must not be nil")}
	}
	if s.registry.Len() == 0 {
		return []pipe.ValidationResult{pipe.Failed("dispatch.registry", "no consumers connected")}
	}
	return nil
}
