package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "conduit/pkg/errors"
	"conduit/pkg/saga"
	"conduit/pkg/saga/sagatest"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, opts...), mr
}

func record(id string, version int64, state string) *saga.Record {
	now := time.Now().UTC()
	return &saga.Record{
		Saga:          "order",
		CorrelationID: id,
		Version:       version,
		State:         []byte(state),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestStore_InsertAndLoad(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, "order", "a")
	assert.ErrorIs(t, err, saga.ErrRecordNotFound)

	require.NoError(t, store.Insert(ctx, record("a", 1, `{"status":"new"}`)))
	assert.ErrorIs(t, store.Insert(ctx, record("a", 1, `{}`)), saga.ErrRecordExists)
	assert.True(t, mr.Exists("saga:order:a"))

	loaded, err := store.Load(ctx, "order", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)
	assert.JSONEq(t, `{"status":"new"}`, string(loaded.State))
}

func TestStore_UpdateChecksVersion(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.Update(ctx, record("a", 2, `{}`), 1), saga.ErrRecordNotFound)

	require.NoError(t, store.Insert(ctx, record("a", 1, `{"n":1}`)))
	require.NoError(t, store.Update(ctx, record("a", 2, `{"n":2}`), 1))
	assert.ErrorIs(t, store.Update(ctx, record("a", 2, `{"n":3}`), 1), saga.ErrVersionConflict)

	loaded, err := store.Load(ctx, "order", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Version)
	assert.JSONEq(t, `{"n":2}`, string(loaded.State))
}

func TestStore_DeleteAndCount(t *testing.T) {
	store, _ := newTestStore(t, WithPrefix("test:saga:"))
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, record("a", 1, `{}`)))
	require.NoError(t, store.Insert(ctx, record("b", 1, `{}`)))

	n, err := store.Count(ctx, "order")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, store.Delete(ctx, "order", "a"))
	assert.ErrorIs(t, store.Delete(ctx, "order", "a"), saga.ErrRecordNotFound)

	n, err = store.Count(ctx, "order")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_CompletedTTL(t *testing.T) {
	store, mr := newTestStore(t, WithCompletedTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, record("a", 1, `{}`)))
	assert.Equal(t, time.Duration(0), mr.TTL("saga:order:a"))

	completed := record("a", 2, `{}`)
	completed.Completed = true
	require.NoError(t, store.Update(ctx, completed, 1))
	assert.Equal(t, time.Minute, mr.TTL("saga:order:a"))

	mr.FastForward(2 * time.Minute)
	_, err := store.Load(ctx, "order", "a")
	assert.ErrorIs(t, err, saga.ErrRecordNotFound)
}

func TestStore_BackendErrorsAreWrapped(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	_, err := store.Load(context.Background(), "order", "a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, saga.ErrRecordNotFound)
}

type shipment struct {
	Carrier string `json:"carrier"`
	Shipped bool   `json:"shipped"`
}

func TestStore_WithRepository(t *testing.T) {
	store, _ := newTestStore(t)
	repo := saga.NewRepository[shipment](store, saga.WithName[shipment]("shipment"))
	ctx := context.Background()
	id := uuid.New()

	err := repo.Send(ctx, id, saga.MustExist, func(context.Context, *saga.Instance[shipment]) error { return nil })
	assert.True(t, pkgerrors.IsSagaNotFound(err))

	require.NoError(t, repo.Send(ctx, id, saga.NewOrExisting, func(_ context.Context, instance *saga.Instance[shipment]) error {
		instance.State.Carrier = "dhl"
		return nil
	}))
	require.NoError(t, repo.Send(ctx, id, saga.MustExist, func(_ context.Context, instance *saga.Instance[shipment]) error {
		instance.State.Shipped = true
		instance.Complete()
		return nil
	}))

	found, err := repo.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, shipment{Carrier: "dhl", Shipped: true}, found.State)
	assert.True(t, found.Completed)
	assert.Equal(t, int64(2), found.Version)
}

func TestStore_Contract(t *testing.T) {
	store, _ := newTestStore(t)
	sagatest.RunStoreTests(t, store)
	sagatest.RunRepositoryTests(t, store)
}
