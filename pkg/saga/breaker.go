package saga

import (
	"context"
	"errors"

	"conduit/pkg/circuitbreaker"
)

// CircuitBreakerStore guards a Store with a circuit breaker. Domain outcomes
// (not found, exists, version conflict) and cancellation do not count as
// failures; only the backend misbehaving does.
type CircuitBreakerStore struct {
	store Store
	cb    *circuitbreaker.Wrapper
}

// NewCircuitBreakerStore wraps store. A nil cfg disables the breaker.
func NewCircuitBreakerStore(store Store, cfg *circuitbreaker.Config) *CircuitBreakerStore {
	if cfg == nil {
		return &CircuitBreakerStore{store: store}
	}

	settings := *cfg
	settings.IsSuccessful = isStoreSuccess
	return &CircuitBreakerStore{
		store: store,
		cb:    circuitbreaker.NewWrapper(settings),
	}
}

func isStoreSuccess(err error) bool {
	return err == nil || IsRecordOutcome(err) || errors.Is(err, context.Canceled)
}

func (s *CircuitBreakerStore) Load(ctx context.Context, saga, correlationID string) (*Record, error) {
	return circuitbreaker.Do(ctx, s.cb, func() (*Record, error) {
		return s.store.Load(ctx, saga, correlationID)
	})
}

func (s *CircuitBreakerStore) Insert(ctx context.Context, record *Record) error {
	_, err := circuitbreaker.Do(ctx, s.cb, func() (struct{}, error) {
		return struct{}{}, s.store.Insert(ctx, record)
	})
	return err
}

func (s *CircuitBreakerStore) Update(ctx context.Context, record *Record, expectedVersion int64) error {
	_, err := circuitbreaker.Do(ctx, s.cb, func() (struct{}, error) {
		return struct{}{}, s.store.Update(ctx, record, expectedVersion)
	})
	return err
}

func (s *CircuitBreakerStore) Delete(ctx context.Context, saga, correlationID string) error {
	_, err := circuitbreaker.Do(ctx, s.cb, func() (struct{}, error) {
		return struct{}{}, s.store.Delete(ctx, saga, correlationID)
	})
	return err
}

func (s *CircuitBreakerStore) DeleteVersion(ctx context.Context, saga, correlationID string, expectedVersion int64) error {
	_, err := circuitbreaker.Do(ctx, s.cb, func() (struct{}, error) {
		return struct{}{}, s.store.DeleteVersion(ctx, saga, correlationID, expectedVersion)
	})
	return err
}

func (s *CircuitBreakerStore) State() string {
	if s.cb == nil {
		return "disabled"
	}
	return s.cb.State().String()
}

func (s *CircuitBreakerStore) IsOpen() bool {
	if s.cb == nil {
		return false
	}
	return s.cb.IsOpen()
}
