package filters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"conduit/internal/logger"
	"conduit/pkg/consume"
	pkgerrors "conduit/pkg/errors"
	"conduit/pkg/logging"
	"conduit/pkg/metrics"
	"conduit/pkg/models"
	"conduit/pkg/pipe"
)

func newMessage(endpoint string) *consume.Context {
	return consume.NewContext(endpoint, models.NewMessageEnvelopeBuilder().
		WithID("msg-1").
		WithType("order.submitted").
		WithCorrelationID(uuid.NewString()).
		WithSource("test").
		Build())
}

func terminal(fn pipe.FilterFunc[*consume.Context]) pipe.Specification[*consume.Context] {
	return pipe.UseFilter[*consume.Context](pipe.NewFilterFunc("terminal", fn))
}

func TestRecover_ConvertsPanicToFatalError(t *testing.T) {
	p, err := pipe.Build(
		UseRecover(nil),
		terminal(func(context.Context, *consume.Context, pipe.Pipe[*consume.Context]) error {
			panic("consumer exploded")
		}),
	)
	require.NoError(t, err)

	err = p.Send(context.Background(), newMessage("orders"))
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrInternal)
	assert.True(t, pkgerrors.IsFatal(err))
	assert.Contains(t, err.Error(), "consumer exploded")
}

func TestLogging_EnrichesContextAndLogsOutcome(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.FromZap(zap.New(core))

	var seen context.Context
	p, err := pipe.Build(
		UseLogging(log),
		terminal(func(ctx context.Context, c *consume.Context, next pipe.Pipe[*consume.Context]) error {
			seen = ctx
			return next.Send(ctx, c)
		}),
	)
	require.NoError(t, err)

	msg := newMessage("orders")
	require.NoError(t, p.Send(context.Background(), msg))

	assert.Equal(t, "msg-1", logging.GetMessageID(seen))
	assert.Equal(t, "order.submitted", logging.GetMessageType(seen))
	assert.Equal(t, "orders", logging.GetEndpoint(seen))
	assert.Equal(t, msg.CorrelationID(), logging.GetCorrelationID(seen))

	consumed := logs.FilterMessage("Message consumed").All()
	require.Len(t, consumed, 1)
	assert.Equal(t, "msg-1", consumed[0].ContextMap()[logging.MessageIDKey])
}

func TestLogging_FailureLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.FromZap(zap.New(core))

	failure := errors.New("boom")
	p, err := pipe.Build(
		UseLogging(log),
		terminal(func(context.Context, *consume.Context, pipe.Pipe[*consume.Context]) error { return failure }),
	)
	require.NoError(t, err)

	assert.ErrorIs(t, p.Send(context.Background(), newMessage("orders")), failure)
	require.Len(t, logs.FilterMessage("Message failed").All(), 1)
	assert.Equal(t, zapcore.WarnLevel, logs.FilterMessage("Message failed").All()[0].Level)

	p, err = pipe.Build(
		UseLogging(log),
		terminal(func(context.Context, *consume.Context, pipe.Pipe[*consume.Context]) error {
			return pkgerrors.ErrValidation.WithDetail("message", "bad payload")
		}),
	)
	require.NoError(t, err)

	require.Error(t, p.Send(context.Background(), newMessage("orders")))
	permanent := logs.FilterMessage("Message failed permanently").All()
	require.Len(t, permanent, 1)
	assert.Equal(t, zapcore.ErrorLevel, permanent[0].Level)
}

func TestMetrics_CountsByStatus(t *testing.T) {
	endpoint := "metrics-" + uuid.NewString()
	fail := true
	p, err := pipe.Build(
		UseMetrics(),
		terminal(func(context.Context, *consume.Context, pipe.Pipe[*consume.Context]) error {
			if fail {
				return errors.New("transient")
			}
			return nil
		}),
	)
	require.NoError(t, err)

	require.Error(t, p.Send(context.Background(), newMessage(endpoint)))
	fail = false
	require.NoError(t, p.Send(context.Background(), newMessage(endpoint)))
	require.NoError(t, p.Send(context.Background(), newMessage(endpoint)))

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.PipeMessagesTotal.WithLabelValues(endpoint, StatusSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PipeMessagesTotal.WithLabelValues(endpoint, StatusError)))
}

func TestTracing_RecordsConsumerSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	var traceID string
	p, err := pipe.Build(
		UseTracing(tp),
		terminal(func(ctx context.Context, c *consume.Context, next pipe.Pipe[*consume.Context]) error {
			traceID = logging.GetTraceID(ctx)
			return errors.New("handler failed")
		}),
	)
	require.NoError(t, err)

	require.Error(t, p.Send(context.Background(), newMessage("orders")))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "consume order.submitted", span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, span.SpanContext().TraceID().String(), traceID)
	require.NotEmpty(t, span.Events())
	assert.Equal(t, "exception", span.Events()[0].Name)
}

func TestTimeout(t *testing.T) {
	p, err := pipe.Build(
		UseTimeout(20*time.Millisecond),
		terminal(func(ctx context.Context, c *consume.Context, next pipe.Pipe[*consume.Context]) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	)
	require.NoError(t, err)

	err = p.Send(context.Background(), newMessage("orders"))
	assert.ErrorIs(t, err, pkgerrors.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.Send(ctx, newMessage("orders"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, pkgerrors.ErrTimeout)
}

func TestTimeout_Validate(t *testing.T) {
	_, err := pipe.Build(UseTimeout(0))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsBuildValidation(err))
}

func TestDescribe(t *testing.T) {
	p, err := pipe.Build(
		UseRecover(nil),
		UseLogging(nil),
		UseMetrics(),
		UseTracing(nil),
		UseTimeout(time.Second),
	)
	require.NoError(t, err)

	filters := pipe.Describe(p)["filters"].([]map[string]any)
	types := make([]string, 0, len(filters))
	for _, f := range filters {
		types = append(types, f["filterType"].(string))
	}
	assert.Equal(t, []string{"recover", "logging", "metrics", "tracing", "timeout"}, types)
	assert.Equal(t, "1s", filters[4]["timeout"])
}
