// Package filters holds the ambient filters every receive endpoint carries:
// panic recovery, logging, metrics, tracing and a per-message deadline.
package filters

import (
	"context"

	"conduit/internal/logger"
	"conduit/pkg/consume"
	pkgerrors "conduit/pkg/errors"
	"conduit/pkg/pipe"
)

type recoverFilter struct {
	logger logger.Logger
}

// Send turns a panic further down the pipe into a fatal INTERNAL_ERROR so the
// broker dead-letters the message instead of crashing the consumer.
func (f *recoverFilter) Send(ctx context.Context, c *consume.Context, next pipe.Pipe[*consume.Context]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.RecoverPanic(r)
			f.logger.ErrorwCtx(ctx, "Panic recovered in pipe",
				"error", err,
				"message_id", c.MessageID(),
				"message_type", c.MessageType(),
			)
		}
	}()

	return next.Send(ctx, c)
}

func (f *recoverFilter) Probe(pc pipe.ProbeContext) {
	pc.CreateFilterScope("recover")
}

func UseRecover(log logger.Logger) pipe.Specification[*consume.Context] {
	if log == nil {
		log = logger.NopLogger()
	}
	return pipe.UseFilter[*consume.Context](&recoverFilter{logger: log})
}
