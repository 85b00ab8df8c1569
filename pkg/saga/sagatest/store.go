// Package sagatest holds the behaviour every saga.Store must show, so each
// backend runs the same checks.
package sagatest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/pkg/saga"
)

func newRecord(sagaName, id string, version int64, state string) *saga.Record {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &saga.Record{
		Saga:          sagaName,
		CorrelationID: id,
		Version:       version,
		State:         []byte(state),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// RunStoreTests checks store against the saga.Store contract. Each subtest
// uses fresh correlation ids, so one store may serve all of them.
func RunStoreTests(t *testing.T, store saga.Store) {
	t.Run("load missing", func(t *testing.T) {
		_, err := store.Load(context.Background(), "order", uuid.NewString())
		assert.ErrorIs(t, err, saga.ErrRecordNotFound)
	})

	t.Run("insert then load", func(t *testing.T) {
		ctx := context.Background()
		id := uuid.NewString()

		require.NoError(t, store.Insert(ctx, newRecord("order", id, 1, `{"status":"new"}`)))
		assert.ErrorIs(t, store.Insert(ctx, newRecord("order", id, 1, `{}`)), saga.ErrRecordExists)

		loaded, err := store.Load(ctx, "order", id)
		require.NoError(t, err)
		assert.Equal(t, "order", loaded.Saga)
		assert.Equal(t, id, loaded.CorrelationID)
		assert.Equal(t, int64(1), loaded.Version)
		assert.JSONEq(t, `{"status":"new"}`, string(loaded.State))
		assert.False(t, loaded.Completed)
	})

	t.Run("saga names are separate", func(t *testing.T) {
		ctx := context.Background()
		id := uuid.NewString()

		require.NoError(t, store.Insert(ctx, newRecord("order", id, 1, `{}`)))
		require.NoError(t, store.Insert(ctx, newRecord("shipment", id, 1, `{}`)))
	})

	t.Run("update checks version", func(t *testing.T) {
		ctx := context.Background()
		id := uuid.NewString()

		assert.ErrorIs(t, store.Update(ctx, newRecord("order", id, 2, `{}`), 1), saga.ErrRecordNotFound)

		require.NoError(t, store.Insert(ctx, newRecord("order", id, 1, `{"n":1}`)))

		next := newRecord("order", id, 2, `{"n":2}`)
		next.Completed = true
		require.NoError(t, store.Update(ctx, next, 1))
		assert.ErrorIs(t, store.Update(ctx, newRecord("order", id, 2, `{"n":3}`), 1), saga.ErrVersionConflict)

		loaded, err := store.Load(ctx, "order", id)
		require.NoError(t, err)
		assert.Equal(t, int64(2), loaded.Version)
		assert.True(t, loaded.Completed)
		assert.JSONEq(t, `{"n":2}`, string(loaded.State))
	})

	t.Run("delete", func(t *testing.T) {
		ctx := context.Background()
		id := uuid.NewString()

		assert.ErrorIs(t, store.Delete(ctx, "order", id), saga.ErrRecordNotFound)
		require.NoError(t, store.Insert(ctx, newRecord("order", id, 1, `{}`)))
		require.NoError(t, store.Delete(ctx, "order", id))

		_, err := store.Load(ctx, "order", id)
		assert.ErrorIs(t, err, saga.ErrRecordNotFound)
	})

	t.Run("delete checks version", func(t *testing.T) {
		ctx := context.Background()
		id := uuid.NewString()

		assert.ErrorIs(t, store.DeleteVersion(ctx, "order", id, 1), saga.ErrRecordNotFound)

		require.NoError(t, store.Insert(ctx, newRecord("order", id, 1, `{}`)))
		require.NoError(t, store.Update(ctx, newRecord("order", id, 2, `{"n":2}`), 1))

		assert.ErrorIs(t, store.DeleteVersion(ctx, "order", id, 1), saga.ErrVersionConflict)
		loaded, err := store.Load(ctx, "order", id)
		require.NoError(t, err)
		assert.Equal(t, int64(2), loaded.Version)

		require.NoError(t, store.DeleteVersion(ctx, "order", id, 2))
		_, err = store.Load(ctx, "order", id)
		assert.ErrorIs(t, err, saga.ErrRecordNotFound)
	})

	t.Run("concurrent inserts admit one", func(t *testing.T) {
		ctx := context.Background()
		id := uuid.NewString()

		var wg sync.WaitGroup
		var created atomic.Int32
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if store.Insert(ctx, newRecord("order", id, 1, `{}`)) == nil {
					created.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), created.Load())
	})

	t.Run("concurrent updates admit one", func(t *testing.T) {
		ctx := context.Background()
		id := uuid.NewString()
		require.NoError(t, store.Insert(ctx, newRecord("order", id, 1, `{}`)))

		var wg sync.WaitGroup
		var updated atomic.Int32
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if store.Update(ctx, newRecord("order", id, 2, `{}`), 1) == nil {
					updated.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), updated.Load())
	})
}

type counter struct {
	Count int `json:"count"`
}

// RunRepositoryTests drives a saga.Repository over store from several
// goroutines and checks that no increment is lost.
func RunRepositoryTests(t *testing.T, store saga.Store) {
	t.Run("repository serializes increments", func(t *testing.T) {
		repo := saga.NewRepository[counter](store, saga.WithName[counter]("counter"))
		ctx := context.Background()
		id := uuid.New()

		const workers = 10
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- repo.Send(ctx, id, saga.NewOrExisting, func(_ context.Context, instance *saga.Instance[counter]) error {
					instance.State.Count++
					return nil
				})
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		found, err := repo.Find(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, workers, found.State.Count)
		assert.Equal(t, int64(workers), found.Version)
	})
}
