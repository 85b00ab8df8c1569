package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/constants"
)

const validYAML = `
server:
  port: 8080
  read_timeout_seconds: 10s
  write_timeout_seconds: 10s
broker:
  type: kafka
  kafka:
    brokers: ["localhost:9092"]
    group_id: orders-consumer
    input_topic: orders
database:
  redis:
    host: localhost
    port: 6379
endpoint:
  name: orders
  timeout: 5s
  expression:
    filter: 'type.startsWith("order.")'
saga:
  store: redis
  completed_ttl: 1h
inbox:
  enabled: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Broker.Kafka.Brokers)
	assert.Equal(t, "orders-consumer", cfg.Broker.Kafka.GroupID)
	assert.Equal(t, 5*time.Second, cfg.Endpoint.Timeout)
	assert.Equal(t, `type.startsWith("order.")`, cfg.Endpoint.Expression.Filter)
	assert.Equal(t, constants.SagaStoreRedis, cfg.Saga.Store)
	assert.Equal(t, time.Hour, cfg.Saga.CompletedTTL)

	// Defaults survive for keys the file leaves out.
	assert.Equal(t, constants.DefaultDLQTopic, cfg.Broker.Kafka.DLQTopic)
	assert.Equal(t, 3, cfg.Broker.Kafka.Retry.MaxAttempts)
	assert.Equal(t, constants.DefaultInboxTTLSeconds, cfg.Inbox.TTLSeconds)
	assert.Equal(t, constants.FallbackDeny, cfg.Inbox.OnRedisError)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("BROKER_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SAGA_STORE", "memory")

	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Broker.Kafka.Brokers)
	assert.Equal(t, constants.SagaStoreMemory, cfg.Saga.Store)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func validConfig() *Config {
	cfg := defaults()
	cfg.Server = ServerConfig{Port: 8080, ReadTimeoutSeconds: time.Second, WriteTimeoutSeconds: time.Second}
	cfg.Broker.Kafka.Brokers = []string{"localhost:9092"}
	return &cfg
}

func TestValidateStatic(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "no brokers", mutate: func(c *Config) { c.Broker.Kafka.Brokers = nil }, wantErr: "broker.kafka.brokers"},
		{name: "unknown broker", mutate: func(c *Config) { c.Broker.Type = "rabbitmq" }, wantErr: "broker.type"},
		{name: "unknown saga store", mutate: func(c *Config) { c.Saga.Store = "cassandra" }, wantErr: "saga.store"},
		{name: "saga store without database", mutate: func(c *Config) { c.Saga.Store = constants.SagaStorePostgres }, wantErr: "database.postgres is not configured"},
		{name: "inbox without redis", mutate: func(c *Config) { c.Inbox.Enabled = true }, wantErr: "inbox requires database.redis"},
		{name: "bad expression fallback", mutate: func(c *Config) { c.Endpoint.Expression.OnError = "retry" }, wantErr: "endpoint.expression.on_error"},
		{name: "rate limit without rps", mutate: func(c *Config) { c.Endpoint.RateLimit.Enabled = true }, wantErr: "endpoint.rate_limit"},
		{name: "bad mongo uri", mutate: func(c *Config) { c.Database.MongoDB.URI = "http://mongo" }, wantErr: "database.mongodb.uri"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := ValidateStatic(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
