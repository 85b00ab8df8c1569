package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/config"
	"conduit/internal/logger"
	pkgerrors "conduit/pkg/errors"
	"conduit/pkg/models"
	"conduit/pkg/retry"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     chan kafka.Message
	committed []kafka.Message
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{queue: make(chan kafka.Message, len(msgs)+1)}
	for _, m := range msgs {
		r.queue <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.queue:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) Committed() []kafka.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kafka.Message(nil), r.committed...)
}

type recordingProducer struct {
	mu        sync.Mutex
	published []*models.MessageEnvelope
	topics    []string
}

func (p *recordingProducer) Publish(_ context.Context, topic string, msg *models.MessageEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.published = append(p.published, msg)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

type fakeWriter struct {
	written []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func newTestConsumer(reader *fakeReader, maxAttempts int) (*KafkaConsumer, *recordingProducer) {
	dlq := &recordingProducer{}
	c := &KafkaConsumer{
		cfg:         config.KafkaConfig{DLQTopic: "orders.dlq"},
		logger:      logger.NopLogger(),
		serviceName: "test",
		reader:      reader,
		newReader:   func(string) messageReader { return reader },
		dlqProducer: dlq,
		policy: retry.Policy{
			MaxAttempts:     maxAttempts,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			Multiplier:      1.5,
		},
	}
	return c, dlq
}

func kafkaMessage(t *testing.T, envelope *models.MessageEnvelope) kafka.Message {
	t.Helper()
	body, err := json.Marshal(envelope)
	require.NoError(t, err)
	return kafka.Message{Topic: "orders", Partition: 2, Offset: 41, Value: body}
}

func orderSubmitted() *models.MessageEnvelope {
	return models.NewMessageEnvelopeBuilder().
		WithID("msg-1").
		WithType("order.submitted").
		WithSource("checkout").
		WithCorrelationID("9b2f3c4e-0d4b-4e53-8d0c-7d1f4c1e9a10").
		Build()
}

func TestKafkaConsumer_HandleSuccessCommits(t *testing.T) {
	reader := newFakeReader()
	c, dlq := newTestConsumer(reader, 3)

	var got *models.MessageEnvelope
	ok := c.handleMessage(context.Background(), kafkaMessage(t, orderSubmitted()), func(_ context.Context, msg *models.MessageEnvelope) error {
		got = msg
		return nil
	})

	require.True(t, ok)
	require.NotNil(t, got)
	assert.Equal(t, "order.submitted", got.Type)
	require.NotNil(t, got.Metadata.Delivery)
	assert.Equal(t, "orders", got.Metadata.Delivery.Topic)
	assert.Equal(t, 2, got.Metadata.Delivery.Partition)
	assert.Equal(t, int64(41), got.Metadata.Delivery.Offset)
	assert.Equal(t, 1, got.Metadata.Delivery.Attempt)
	assert.Len(t, reader.Committed(), 1)
	assert.Empty(t, dlq.published)
}

func TestKafkaConsumer_TransientErrorsRetryThenDeadLetter(t *testing.T) {
	reader := newFakeReader()
	c, dlq := newTestConsumer(reader, 3)

	var attempts []int
	c.handleMessage(context.Background(), kafkaMessage(t, orderSubmitted()), func(_ context.Context, msg *models.MessageEnvelope) error {
		attempts = append(attempts, msg.Metadata.Delivery.Attempt)
		return pkgerrors.ErrConcurrency
	})

	assert.Equal(t, []int{1, 2, 3}, attempts)
	require.Len(t, dlq.published, 1)
	assert.Equal(t, "orders.dlq", dlq.topics[0])
	info := dlq.published[0].Metadata.DeadLetter
	require.NotNil(t, info)
	assert.Equal(t, "CONCURRENCY_CONFLICT", info.Code)
	assert.Equal(t, "orders", info.SourceTopic)
	assert.Equal(t, 3, info.Attempts)
	assert.Len(t, reader.Committed(), 1)
}

func TestKafkaConsumer_FatalErrorsSkipRetries(t *testing.T) {
	reader := newFakeReader()
	c, dlq := newTestConsumer(reader, 5)

	calls := 0
	c.handleMessage(context.Background(), kafkaMessage(t, orderSubmitted()), func(context.Context, *models.MessageEnvelope) error {
		calls++
		return pkgerrors.ErrSagaNotFound.WithDetail("message", "order saga not found")
	})

	assert.Equal(t, 1, calls)
	require.Len(t, dlq.published, 1)
	assert.Equal(t, "SAGA_NOT_FOUND", dlq.published[0].Metadata.DeadLetter.Code)
	assert.Equal(t, 1, dlq.published[0].Metadata.DeadLetter.Attempts)
}

func TestKafkaConsumer_PanicIsFatal(t *testing.T) {
	reader := newFakeReader()
	c, dlq := newTestConsumer(reader, 3)

	calls := 0
	c.handleMessage(context.Background(), kafkaMessage(t, orderSubmitted()), func(context.Context, *models.MessageEnvelope) error {
		calls++
		panic("boom")
	})

	assert.Equal(t, 1, calls)
	require.Len(t, dlq.published, 1)
	assert.Equal(t, "INTERNAL_ERROR", dlq.published[0].Metadata.DeadLetter.Code)
}

func TestKafkaConsumer_UnreadableMessages(t *testing.T) {
	t.Run("not json is committed and dropped", func(t *testing.T) {
		reader := newFakeReader()
		c, dlq := newTestConsumer(reader, 3)

		ok := c.handleMessage(context.Background(), kafka.Message{Topic: "orders", Value: []byte("{")}, func(context.Context, *models.MessageEnvelope) error {
			t.Fatal("handler must not run")
			return nil
		})

		assert.True(t, ok)
		assert.Len(t, reader.Committed(), 1)
		assert.Empty(t, dlq.published)
	})

	t.Run("envelope without id is dead-lettered", func(t *testing.T) {
		reader := newFakeReader()
		c, dlq := newTestConsumer(reader, 3)

		envelope := orderSubmitted()
		envelope.ID = ""
		c.handleMessage(context.Background(), kafkaMessage(t, envelope), func(context.Context, *models.MessageEnvelope) error {
			t.Fatal("handler must not run")
			return nil
		})

		require.Len(t, dlq.published, 1)
		assert.Equal(t, "VALIDATION_ERROR", dlq.published[0].Metadata.DeadLetter.Code)
		assert.Len(t, reader.Committed(), 1)
	})
}

func TestKafkaConsumer_ShutdownLeavesMessageUncommitted(t *testing.T) {
	reader := newFakeReader()
	c, dlq := newTestConsumer(reader, 3)
	ctx, cancel := context.WithCancel(context.Background())

	ok := c.handleMessage(ctx, kafkaMessage(t, orderSubmitted()), func(ctx context.Context, _ *models.MessageEnvelope) error {
		cancel()
		return ctx.Err()
	})

	assert.False(t, ok)
	assert.Empty(t, reader.Committed())
	assert.Empty(t, dlq.published)
}

func TestKafkaConsumer_Consume(t *testing.T) {
	reader := newFakeReader(kafkaMessage(t, orderSubmitted()))
	c, _ := newTestConsumer(reader, 1)
	ctx, cancel := context.WithCancel(context.Background())

	handled := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Consume(ctx, "orders", func(_ context.Context, msg *models.MessageEnvelope) error {
			handled <- msg.ID
			return nil
		})
	}()

	select {
	case id := <-handled:
		assert.Equal(t, "msg-1", id)
	case <-time.After(5 * time.Second):
		t.Fatal("message was not handled")
	}
	assert.Eventually(t, func() bool { return len(reader.Committed()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
	assert.NoError(t, c.Close())
}

func TestKafkaProducer_PublishKeysByCorrelation(t *testing.T) {
	writer := &fakeWriter{}
	p := &KafkaProducer{writer: writer, logger: logger.NopLogger(), serviceName: "test"}

	require.NoError(t, p.Publish(context.Background(), "orders", orderSubmitted()))

	require.Len(t, writer.written, 1)
	assert.Equal(t, "orders", writer.written[0].Topic)
	assert.Equal(t, "9b2f3c4e-0d4b-4e53-8d0c-7d1f4c1e9a10", string(writer.written[0].Key))

	var decoded models.MessageEnvelope
	require.NoError(t, json.Unmarshal(writer.written[0].Value, &decoded))
	assert.Equal(t, "msg-1", decoded.ID)
}

func TestRetryPolicy_Overrides(t *testing.T) {
	policy := retryPolicy(config.RetryConfig{MaxAttempts: 7, Multiplier: 3})

	assert.Equal(t, 7, policy.MaxAttempts)
	assert.Equal(t, 3.0, policy.Multiplier)
	assert.Equal(t, time.Second, policy.InitialInterval)
}

func TestFactory_UnknownBroker(t *testing.T) {
	_, err := NewConsumer(config.BrokerConfig{Type: "rabbitmq"}, logger.NopLogger())
	assert.Error(t, err)

	_, err = NewProducer(config.BrokerConfig{Type: "rabbitmq"}, logger.NopLogger())
	assert.Error(t, err)
}
