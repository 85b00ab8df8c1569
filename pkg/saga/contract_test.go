package saga_test

import (
	"testing"

	"conduit/pkg/saga"
	"conduit/pkg/saga/sagatest"
)

func TestMemoryStore_Contract(t *testing.T) {
	sagatest.RunStoreTests(t, saga.NewMemoryStore())
	sagatest.RunRepositoryTests(t, saga.NewMemoryStore())
}

func TestCircuitBreakerStore_Contract(t *testing.T) {
	sagatest.RunStoreTests(t, saga.NewCircuitBreakerStore(saga.NewMemoryStore(), nil))
}
