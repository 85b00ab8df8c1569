//go:build integration

package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/config"
	"conduit/internal/logger"
	"conduit/internal/testinfra"
	"conduit/pkg/models"
)

func TestKafka_Integration_PublishConsume(t *testing.T) {
	cfg := config.KafkaConfig{
		Brokers: []string{testinfra.Kafka(t)},
		GroupID: "conduit-integration",
		Retry:   config.RetryConfig{MaxAttempts: 1, InitialInterval: 10 * time.Millisecond},
	}
	topic := "orders-integration"

	producer := NewKafkaProducer(cfg, logger.NopLogger())
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	envelope := orderSubmitted()
	require.Eventually(t, func() bool {
		return producer.Publish(ctx, topic, envelope) == nil
	}, time.Minute, time.Second)

	var (
		mu       sync.Mutex
		received []*models.MessageEnvelope
	)
	consumer := NewKafkaConsumer(cfg, logger.NopLogger())
	consumed := make(chan error, 1)
	go func() {
		consumed <- consumer.Consume(ctx, topic, func(_ context.Context, msg *models.MessageEnvelope) error {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, msg)
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Minute, 500*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-consumed, context.Canceled)
	require.NoError(t, consumer.Close())

	assert.Equal(t, envelope.ID, received[0].ID)
	assert.Equal(t, envelope.CorrelationID, received[0].CorrelationID)
	require.NotNil(t, received[0].Metadata.Delivery)
	assert.Equal(t, topic, received[0].Metadata.Delivery.Topic)
}
