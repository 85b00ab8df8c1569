package bootstrap

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/config"
	"conduit/internal/logger"
	"conduit/pkg/saga"
	"conduit/pkg/saga/redisstore"
)

func TestNewSagaStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	t.Run("memory by default", func(t *testing.T) {
		store, err := NewSagaStore(&config.Config{}, &Databases{})
		require.NoError(t, err)
		assert.IsType(t, &saga.MemoryStore{}, store)
	})

	t.Run("redis", func(t *testing.T) {
		cfg := &config.Config{Saga: config.SagaConfig{Store: "redis", CompletedTTL: time.Hour}}
		store, err := NewSagaStore(cfg, &Databases{Redis: client})
		require.NoError(t, err)
		assert.IsType(t, &redisstore.Store{}, store)
	})

	t.Run("redis behind a breaker", func(t *testing.T) {
		cfg := &config.Config{
			Saga:           config.SagaConfig{Store: "redis"},
			CircuitBreaker: config.CircuitBreakerConfig{Enabled: true, MaxRequests: 1, Timeout: time.Second, FailureRatio: 0.5, MinRequests: 2},
		}
		store, err := NewSagaStore(cfg, &Databases{Redis: client})
		require.NoError(t, err)
		require.IsType(t, &saga.CircuitBreakerStore{}, store)
		assert.False(t, store.(*saga.CircuitBreakerStore).IsOpen())
	})

	t.Run("missing connection", func(t *testing.T) {
		for _, kind := range []string{"redis", "mongodb", "postgres"} {
			_, err := NewSagaStore(&config.Config{Saga: config.SagaConfig{Store: kind}}, &Databases{})
			assert.Error(t, err, kind)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewSagaStore(&config.Config{Saga: config.SagaConfig{Store: "etcd"}}, &Databases{})
		assert.Error(t, err)
	})
}

func TestDatabaseConnector_ConnectRedisOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{}
	cfg.Database.Redis.Host = mr.Host()
	cfg.Database.Redis.Port = mustPort(t, mr)

	dc := NewDatabaseConnector(cfg, logger.NopLogger())
	dbs, err := dc.Connect(context.Background())
	require.NoError(t, err)

	assert.NotNil(t, dbs.Redis)
	assert.Nil(t, dbs.Postgres)
	assert.Nil(t, dbs.Mongo)
	assert.Len(t, dbs.HealthCheckers(), 1)
	assert.Empty(t, dc.ShutdownDatabases(context.Background(), dbs))
}

func TestDatabaseConnector_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{}
	cfg.Database.Redis.Host = mr.Host()
	cfg.Database.Redis.Port = mustPort(t, mr)
	mr.Close()

	_, err := NewDatabaseConnector(cfg, logger.NopLogger()).Connect(context.Background())
	assert.Error(t, err)
}

func mustPort(t *testing.T, mr *miniredis.Miniredis) int {
	t.Helper()
	var port int
	_, err := fmt.Sscanf(mr.Port(), "%d", &port)
	require.NoError(t, err)
	return port
}
