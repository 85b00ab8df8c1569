package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/pkg/circuitbreaker"
)

func sampleRecord(id string) *Record {
	now := time.Now().UTC()
	return &Record{
		Saga:          "order",
		CorrelationID: id,
		Version:       1,
		State:         []byte(`{"status":"new"}`),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestMemoryStore_InsertLoadUpdateDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Load(ctx, "order", "a")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	record := sampleRecord("a")
	require.NoError(t, store.Insert(ctx, record))
	assert.ErrorIs(t, store.Insert(ctx, sampleRecord("a")), ErrRecordExists)

	record.State[0] = 'X'
	loaded, err := store.Load(ctx, "order", "a")
	require.NoError(t, err)
	assert.Equal(t, `{"status":"new"}`, string(loaded.State), "stored records are isolated from caller buffers")

	loaded.Version = 2
	loaded.State = []byte(`{"status":"paid"}`)
	require.NoError(t, store.Update(ctx, loaded, 1))
	assert.ErrorIs(t, store.Update(ctx, loaded, 1), ErrVersionConflict)

	again, err := store.Load(ctx, "order", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Version)

	assert.Equal(t, 1, store.Count("order"))
	assert.Equal(t, 0, store.Count("shipment"))

	require.NoError(t, store.Delete(ctx, "order", "a"))
	assert.ErrorIs(t, store.Delete(ctx, "order", "a"), ErrRecordNotFound)
	assert.ErrorIs(t, store.Update(ctx, loaded, 2), ErrRecordNotFound)
}

func TestMemoryStore_ConcurrentInsertSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.Insert(ctx, sampleRecord("a"))
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrRecordExists)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryStore().Load(ctx, "order", "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeyedMutex(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.Lock(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	otherUnlock, err := m.Lock(context.Background(), "b")
	require.NoError(t, err, "different keys do not block each other")
	otherUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		u, err := m.Lock(context.Background(), "a")
		if err == nil {
			u()
		}
		close(acquired)
	}()

	unlock()
	unlock()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the key")
	}
	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
}

type flakyStore struct {
	*MemoryStore
	fail error
}

func (s *flakyStore) Load(ctx context.Context, saga, correlationID string) (*Record, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	return s.MemoryStore.Load(ctx, saga, correlationID)
}

func TestCircuitBreakerStore(t *testing.T) {
	ctx := context.Background()

	t.Run("domain outcomes do not trip", func(t *testing.T) {
		cfg := circuitbreaker.DefaultConfig("saga-test-domain")
		cfg.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 1 }
		store := NewCircuitBreakerStore(NewMemoryStore(), &cfg)

		for i := 0; i < 5; i++ {
			_, err := store.Load(ctx, "order", "missing")
			assert.ErrorIs(t, err, ErrRecordNotFound)
		}
		require.NoError(t, store.Insert(ctx, sampleRecord("a")))
		assert.ErrorIs(t, store.Insert(ctx, sampleRecord("a")), ErrRecordExists)
		assert.False(t, store.IsOpen())
		assert.Equal(t, "closed", store.State())
	})

	t.Run("backend failures trip", func(t *testing.T) {
		cfg := circuitbreaker.DefaultConfig("saga-test-backend")
		cfg.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 2 }
		backendErr := errors.New("connection refused")
		store := NewCircuitBreakerStore(&flakyStore{MemoryStore: NewMemoryStore(), fail: backendErr}, &cfg)

		_, err := store.Load(ctx, "order", "a")
		assert.ErrorIs(t, err, backendErr)
		_, err = store.Load(ctx, "order", "a")
		assert.Error(t, err)

		assert.True(t, store.IsOpen())
		_, err = store.Load(ctx, "order", "a")
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	})

	t.Run("disabled", func(t *testing.T) {
		store := NewCircuitBreakerStore(NewMemoryStore(), nil)
		assert.Equal(t, "disabled", store.State())
		assert.False(t, store.IsOpen())
		require.NoError(t, store.Insert(ctx, sampleRecord("a")))
		require.NoError(t, store.Delete(ctx, "order", "a"))
	})
}
