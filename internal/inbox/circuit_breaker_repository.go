package inbox

import (
	"context"
	"time"

	"conduit/internal/config"
	"conduit/pkg/circuitbreaker"
)

type CircuitBreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Wrapper
}

func NewCircuitBreakerRepository(repo Repository, cfg config.CircuitBreakerConfig) *CircuitBreakerRepository {
	if !cfg.Enabled {
		return &CircuitBreakerRepository{repo: repo}
	}

	cbConfig := circuitbreaker.DefaultConfig("redis-inbox").
		WithThresholds(cfg.MaxRequests, cfg.Interval, cfg.Timeout, cfg.FailureRatio, cfg.MinRequests)

	return &CircuitBreakerRepository{
		repo: repo,
		cb:   circuitbreaker.NewWrapper(cbConfig),
	}
}

func (r *CircuitBreakerRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return circuitbreaker.Do(ctx, r.cb, func() (bool, error) {
		return r.repo.SetNX(ctx, key, value, ttl)
	})
}

func (r *CircuitBreakerRepository) Delete(ctx context.Context, key string) error {
	_, err := circuitbreaker.Do(ctx, r.cb, func() (struct{}, error) {
		return struct{}{}, r.repo.Delete(ctx, key)
	})
	return err
}

func (r *CircuitBreakerRepository) Size(ctx context.Context, prefix string) (int, error) {
	return circuitbreaker.Do(ctx, r.cb, func() (int, error) {
		return r.repo.Size(ctx, prefix)
	})
}

func (r *CircuitBreakerRepository) State() string {
	if r.cb == nil {
		return "disabled"
	}
	return r.cb.State().String()
}

func (r *CircuitBreakerRepository) IsOpen() bool {
	if r.cb == nil {
		return false
	}
	return r.cb.IsOpen()
}
