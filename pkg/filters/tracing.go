package filters

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"conduit/pkg/consume"
	"conduit/pkg/logging"
	"conduit/pkg/pipe"
)

const tracerName = "conduit/pipe"

type tracingFilter struct {
	tracer trace.Tracer
}

// Send opens one consumer span per message. The span becomes a child of
// whatever trace the transport already put into ctx.
func (f *tracingFilter) Send(ctx context.Context, c *consume.Context, next pipe.Pipe[*consume.Context]) error {
	ctx, span := f.tracer.Start(ctx, "consume "+c.MessageType(),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingMessageID(c.MessageID()),
			semconv.MessagingDestinationName(c.Endpoint),
			attribute.String("conduit.message_type", c.MessageType()),
			attribute.String("conduit.correlation_id", c.CorrelationID()),
		),
	)
	defer span.End()

	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = logging.WithTraceID(ctx, sc.TraceID().String())
	}

	err := next.Send(ctx, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

func (f *tracingFilter) Probe(pc pipe.ProbeContext) {
	pc.CreateFilterScope("tracing").Add("tracer", tracerName)
}

// UseTracing traces through tp, or through the global provider when tp is nil.
func UseTracing(tp trace.TracerProvider) pipe.Specification[*consume.Context] {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return pipe.UseFilter[*consume.Context](&tracingFilter{tracer: tp.Tracer(tracerName)})
}
