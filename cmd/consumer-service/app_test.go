package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/broker"
	"conduit/internal/config"
	"conduit/internal/logger"
	"conduit/internal/orders"
	"conduit/pkg/models"
)

// blockingConsumer delivers its messages and then blocks until ctx is done,
// the way the Kafka consumer does.
type blockingConsumer struct {
	messages []*models.MessageEnvelope

	mu      sync.Mutex
	handled []error
	closed  bool
	started chan struct{}
}

func (c *blockingConsumer) Consume(ctx context.Context, _ string, handler broker.HandlerFunc) error {
	for _, msg := range c.messages {
		err := handler(ctx, msg)
		c.mu.Lock()
		c.handled = append(c.handled, err)
		c.mu.Unlock()
	}
	close(c.started)
	<-ctx.Done()
	return ctx.Err()
}

func (c *blockingConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *blockingConsumer) SetServiceName(string) {}

func (c *blockingConsumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestApp_RunServesWhileConsuming(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{Port: freePort(t), ReadTimeoutSeconds: 5, WriteTimeoutSeconds: 5},
	}
	orderID := uuid.New()
	consumer := &blockingConsumer{
		started: make(chan struct{}),
		messages: []*models.MessageEnvelope{
			models.NewMessageEnvelopeBuilder().
				WithID("msg-1").
				WithType(orders.MessageOrderSubmitted).
				WithSource("checkout").
				WithCorrelationID(orderID.String()).
				WithPayload(map[string]interface{}{"customer_id": "c-1", "total": 12.5}).
				Build(),
		},
	}

	app := NewApp(cfg, logger.NopLogger())
	ep, err := app.buildEndpoint(nil, nil)
	require.NoError(t, err)
	app.endpoint = ep
	app.base.Consumer = consumer

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app.initServer(ctx)

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	select {
	case <-consumer.started:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer was not started")
	}

	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	resp, err := http.Get(base + "/api/v1/sagas/order/" + orderID.String())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, app.journal.Len())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.True(t, consumer.Closed())
	assert.Equal(t, []error{nil}, consumer.handled)
	_, err = net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestApp_RunReturnsConsumerFailure(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{Port: freePort(t), ReadTimeoutSeconds: 5, WriteTimeoutSeconds: 5}}

	app := NewApp(cfg, logger.NopLogger())
	ep, err := app.buildEndpoint(nil, nil)
	require.NoError(t, err)
	app.endpoint = ep
	app.base.Consumer = failingConsumer{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	app.initServer(ctx)

	err = app.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consumer error")
	assert.NoError(t, ctx.Err())
}

type failingConsumer struct{}

func (failingConsumer) Consume(context.Context, string, broker.HandlerFunc) error {
	return fmt.Errorf("broker unreachable")
}
func (failingConsumer) Close() error          { return nil }
func (failingConsumer) SetServiceName(string) {}
