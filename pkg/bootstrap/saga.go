package bootstrap

import (
	"fmt"

	"conduit/internal/config"
	"conduit/internal/constants"
	"conduit/pkg/circuitbreaker"
	"conduit/pkg/saga"
	"conduit/pkg/saga/mongostore"
	"conduit/pkg/saga/postgresstore"
	"conduit/pkg/saga/redisstore"
)

// NewSagaStore picks the saga store named by cfg.Saga.Store. Durable stores
// are wrapped in a circuit breaker when circuit_breaker.enabled is set.
func NewSagaStore(cfg *config.Config, dbs *Databases) (saga.Store, error) {
	var store saga.Store

	switch cfg.Saga.Store {
	case "", constants.SagaStoreMemory:
		return saga.NewMemoryStore(), nil
	case constants.SagaStoreRedis:
		if dbs.Redis == nil {
			return nil, fmt.Errorf("saga store %q needs a redis connection", cfg.Saga.Store)
		}
		opts := []redisstore.Option{redisstore.WithPrefix(constants.CacheKeyPrefixSaga)}
		if cfg.Saga.CompletedTTL > 0 {
			opts = append(opts, redisstore.WithCompletedTTL(cfg.Saga.CompletedTTL))
		}
		store = redisstore.New(dbs.Redis, opts...)
	case constants.SagaStoreMongoDB:
		if dbs.MongoDB == nil {
			return nil, fmt.Errorf("saga store %q needs a mongodb connection", cfg.Saga.Store)
		}
		store = mongostore.New(dbs.MongoDB)
	case constants.SagaStorePostgres:
		if dbs.Postgres == nil {
			return nil, fmt.Errorf("saga store %q needs a postgres connection", cfg.Saga.Store)
		}
		store = postgresstore.New(dbs.Postgres)
	default:
		return nil, fmt.Errorf("unknown saga store: %s", cfg.Saga.Store)
	}

	if !cfg.CircuitBreaker.Enabled {
		return store, nil
	}
	cb := circuitbreaker.DefaultConfig("saga-" + cfg.Saga.Store).WithThresholds(
		cfg.CircuitBreaker.MaxRequests,
		cfg.CircuitBreaker.Interval,
		cfg.CircuitBreaker.Timeout,
		cfg.CircuitBreaker.FailureRatio,
		cfg.CircuitBreaker.MinRequests,
	)
	return saga.NewCircuitBreakerStore(store, &cb), nil
}
