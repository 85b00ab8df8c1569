package filters

import (
	"context"
	"time"

	"conduit/internal/logger"
	"conduit/pkg/consume"
	pkgerrors "conduit/pkg/errors"
	"conduit/pkg/logging"
	"conduit/pkg/pipe"
)

type loggingFilter struct {
	logger logger.Logger
}

// Send puts the message identity into ctx so every log line written further
// down carries it, then logs the outcome.
func (f *loggingFilter) Send(ctx context.Context, c *consume.Context, next pipe.Pipe[*consume.Context]) error {
	ctx = logging.WithEndpoint(ctx, c.Endpoint)
	ctx = logging.WithMessageID(ctx, c.MessageID())
	ctx = logging.WithMessageType(ctx, c.MessageType())
	if id := c.CorrelationID(); id != "" {
		ctx = logging.WithCorrelationID(ctx, id)
	}
	if c.Envelope != nil && c.Envelope.Metadata.TraceID != "" && logging.GetTraceID(ctx) == "" {
		ctx = logging.WithTraceID(ctx, c.Envelope.Metadata.TraceID)
	}

	start := time.Now()
	f.logger.DebugwCtx(ctx, "Message received")

	err := next.Send(ctx, c)
	duration := time.Since(start)

	switch {
	case err == nil:
		f.logger.InfowCtx(ctx, "Message consumed", "duration", duration)
	case pkgerrors.IsFatal(err):
		f.logger.ErrorwCtx(ctx, "Message failed permanently", "error", err, "duration", duration)
	default:
		f.logger.WarnwCtx(ctx, "Message failed", "error", err, "duration", duration)
	}

	return err
}

func (f *loggingFilter) Probe(pc pipe.ProbeContext) {
	pc.CreateFilterScope("logging")
}

func UseLogging(log logger.Logger) pipe.Specification[*consume.Context] {
	if log == nil {
		log = logger.NopLogger()
	}
	return pipe.UseFilter[*consume.Context](&loggingFilter{logger: log})
}
