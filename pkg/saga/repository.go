// Package saga stores long-lived, correlated state and guarantees that at
// most one instance exists per correlation id.
//
// All work for one correlation id is serialized: in process by a KeyedMutex,
// across processes by the Store's insert-if-absent and version checks. Work
// for different ids never waits on each other.
package saga

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"conduit/internal/logger"
	pkgerrors "conduit/pkg/errors"
	"conduit/pkg/logging"
	"conduit/pkg/metrics"
)

// Policy decides what happens when a message meets a missing or existing
// instance.
type Policy int

const (
	NewOrExisting Policy = iota
	MustExist
	MustNotExist
)

func (p Policy) String() string {
	switch p {
	case NewOrExisting:
		return "new_or_existing"
	case MustExist:
		return "must_exist"
	case MustNotExist:
		return "must_not_exist"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// maxCreateAttempts bounds how often Send retries after losing a create race
// to another process.
const maxCreateAttempts = 3

// Instance is a decoded working copy of a saga. Changes reach the store only
// when the handler that received it returns nil.
type Instance[T any] struct {
	CorrelationID uuid.UUID
	Version       int64
	State         T
	Completed     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	IsNew         bool
}

// Complete marks the saga finished.
func (i *Instance[T]) Complete() {
	i.Completed = true
}

// Handler works on the instance for one message.
type Handler[T any] func(ctx context.Context, instance *Instance[T]) error

type Option[T any] func(*Repository[T])

func WithName[T any](name string) Option[T] {
	return func(r *Repository[T]) {
		r.name = name
	}
}

// WithInitialState supplies the state of a freshly created instance.
func WithInitialState[T any](initial func(id uuid.UUID) T) Option[T] {
	return func(r *Repository[T]) {
		r.initial = initial
	}
}

func WithLogger[T any](log logger.Logger) Option[T] {
	return func(r *Repository[T]) {
		r.logger = log
	}
}

func WithCodec[T any](codec Codec) Option[T] {
	return func(r *Repository[T]) {
		r.codec = codec
	}
}

// WithLocks shares a KeyedMutex between repositories.
func WithLocks[T any](locks *KeyedMutex) Option[T] {
	return func(r *Repository[T]) {
		r.locks = locks
	}
}

// WithRemoveOnComplete deletes an instance from the store as soon as a
// handler completes it.
func WithRemoveOnComplete[T any]() Option[T] {
	return func(r *Repository[T]) {
		r.removeOnComplete = true
	}
}

func WithClock[T any](now func() time.Time) Option[T] {
	return func(r *Repository[T]) {
		r.now = now
	}
}

type Repository[T any] struct {
	name             string
	store            Store
	locks            *KeyedMutex
	codec            Codec
	initial          func(id uuid.UUID) T
	logger           logger.Logger
	removeOnComplete bool
	now              func() time.Time
}

func NewRepository[T any](store Store, opts ...Option[T]) *Repository[T] {
	r := &Repository[T]{
		name:   reflect.TypeFor[T]().Name(),
		store:  store,
		locks:  NewKeyedMutex(),
		codec:  JSONCodec,
		logger: logger.NopLogger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.name == "" {
		r.name = "saga"
	}
	return r
}

// NewInMemoryRepository returns a repository over a fresh MemoryStore.
func NewInMemoryRepository[T any](opts ...Option[T]) *Repository[T] {
	return NewRepository(NewMemoryStore(), opts...)
}

func (r *Repository[T]) Name() string {
	return r.name
}

func (r *Repository[T]) Store() Store {
	return r.store
}

// GetOrCreate returns the instance for id, creating and storing it when
// absent. Concurrent callers for the same id all observe one instance; only
// the caller that created it sees IsNew.
func (r *Repository[T]) GetOrCreate(ctx context.Context, id uuid.UUID) (instance *Instance[T], err error) {
	start := time.Now()
	defer func() {
		metrics.IncSagaOperation(r.name, "get_or_create", operationResult(err))
		metrics.ObserveSagaOperationDuration(r.name, "get_or_create", time.Since(start))
	}()

	if id == uuid.Nil {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "saga correlation id is empty")
	}

	unlock, err := r.locks.Lock(ctx, r.lockKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	record, err := r.store.Load(ctx, r.name, id.String())
	if err == nil {
		return r.decode(id, record)
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return nil, fmt.Errorf("load saga %s/%s: %w", r.name, id, err)
	}

	instance = r.newInstance(id)
	record, err = r.encode(instance)
	if err != nil {
		return nil, err
	}
	if err := r.store.Insert(ctx, record); err != nil {
		if !errors.Is(err, ErrRecordExists) {
			return nil, fmt.Errorf("insert saga %s/%s: %w", r.name, id, err)
		}
		// Lost the race to another process; its instance is the one.
		return r.Find(ctx, id)
	}
	return instance, nil
}

// Find returns the stored instance for id without creating it.
func (r *Repository[T]) Find(ctx context.Context, id uuid.UUID) (*Instance[T], error) {
	record, err := r.store.Load(ctx, r.name, id.String())
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, r.notFound(id)
		}
		return nil, fmt.Errorf("load saga %s/%s: %w", r.name, id, err)
	}
	return r.decode(id, record)
}

// Delete removes the instance for id. The pipeline never calls it; it exists
// for operators and for sagas that finalize out of band.
func (r *Repository[T]) Delete(ctx context.Context, id uuid.UUID) error {
	unlock, err := r.locks.Lock(ctx, r.lockKey(id))
	if err != nil {
		return err
	}
	defer unlock()

	if err := r.store.Delete(ctx, r.name, id.String()); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return r.notFound(id)
		}
		return fmt.Errorf("delete saga %s/%s: %w", r.name, id, err)
	}
	return nil
}

// Send runs handler against the instance for id under the given policy and
// commits the result. The per-id lock is held for the whole call, so handlers
// for one saga never overlap within this process.
func (r *Repository[T]) Send(ctx context.Context, id uuid.UUID, policy Policy, handler Handler[T]) (err error) {
	start := time.Now()
	defer func() {
		metrics.IncSagaOperation(r.name, policy.String(), operationResult(err))
		metrics.ObserveSagaOperationDuration(r.name, policy.String(), time.Since(start))
	}()

	if id == uuid.Nil {
		return pkgerrors.ErrValidation.WithDetail("message", "saga correlation id is empty")
	}

	unlock, err := r.locks.Lock(ctx, r.lockKey(id))
	if err != nil {
		return err
	}
	defer unlock()
	metrics.ObserveSagaLockWait(r.name, time.Since(start))

	ctx = logging.WithCorrelationID(ctx, id.String())

	for attempt := 1; ; attempt++ {
		record, loadErr := r.store.Load(ctx, r.name, id.String())
		switch {
		case loadErr == nil:
			return r.sendExisting(ctx, id, policy, record, handler)
		case !errors.Is(loadErr, ErrRecordNotFound):
			return fmt.Errorf("load saga %s/%s: %w", r.name, id, loadErr)
		}

		if policy == MustExist {
			return r.notFound(id)
		}

		err = r.sendNew(ctx, id, handler)
		if !errors.Is(err, ErrRecordExists) {
			return err
		}

		// Another process created the instance between our load and insert.
		if policy == MustNotExist {
			return r.alreadyExists(id)
		}
		if attempt >= maxCreateAttempts {
			return pkgerrors.ErrConcurrency.WithCause(err).
				WithDetail("message", fmt.Sprintf("saga %s/%s: create kept conflicting", r.name, id))
		}
		r.logger.DebugwCtx(ctx, "Saga created concurrently, retrying with stored instance",
			"saga", r.name,
			"attempt", attempt,
		)
	}
}

func (r *Repository[T]) sendNew(ctx context.Context, id uuid.UUID, handler Handler[T]) error {
	instance := r.newInstance(id)
	if err := handler(ctx, instance); err != nil {
		return err
	}
	if instance.Completed && r.removeOnComplete {
		r.logger.DebugwCtx(ctx, "Saga completed on creation, not stored", "saga", r.name)
		return nil
	}

	record, err := r.encode(instance)
	if err != nil {
		return err
	}
	if err := r.store.Insert(ctx, record); err != nil {
		if errors.Is(err, ErrRecordExists) {
			return err
		}
		return fmt.Errorf("insert saga %s/%s: %w", r.name, id, err)
	}

	r.logger.DebugwCtx(ctx, "Saga created", "saga", r.name)
	return nil
}

func (r *Repository[T]) sendExisting(ctx context.Context, id uuid.UUID, policy Policy, record *Record, handler Handler[T]) error {
	if policy == MustNotExist {
		return r.alreadyExists(id)
	}

	instance, err := r.decode(id, record)
	if err != nil {
		return err
	}
	expectedVersion := instance.Version

	if err := handler(ctx, instance); err != nil {
		return err
	}

	if instance.Completed && r.removeOnComplete {
		if err := r.store.DeleteVersion(ctx, r.name, id.String(), expectedVersion); err != nil {
			if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrRecordNotFound) {
				return pkgerrors.ErrConcurrency.WithCause(err).
					WithDetail("message", fmt.Sprintf("saga %s/%s changed while handling message", r.name, id))
			}
			return fmt.Errorf("remove completed saga %s/%s: %w", r.name, id, err)
		}
		r.logger.DebugwCtx(ctx, "Saga completed and removed", "saga", r.name)
		return nil
	}

	instance.Version = expectedVersion + 1
	instance.UpdatedAt = r.now()
	updated, err := r.encode(instance)
	if err != nil {
		return err
	}

	if err := r.store.Update(ctx, updated, expectedVersion); err != nil {
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrRecordNotFound) {
			return pkgerrors.ErrConcurrency.WithCause(err).
				WithDetail("message", fmt.Sprintf("saga %s/%s changed while handling message", r.name, id))
		}
		return fmt.Errorf("update saga %s/%s: %w", r.name, id, err)
	}
	return nil
}

func (r *Repository[T]) newInstance(id uuid.UUID) *Instance[T] {
	now := r.now()
	instance := &Instance[T]{
		CorrelationID: id,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
		IsNew:         true,
	}
	if r.initial != nil {
		instance.State = r.initial(id)
	}
	return instance
}

func (r *Repository[T]) encode(instance *Instance[T]) (*Record, error) {
	state, err := r.codec.Marshal(instance.State)
	if err != nil {
		return nil, fmt.Errorf("encode saga %s/%s: %w", r.name, instance.CorrelationID, err)
	}
	return &Record{
		Saga:          r.name,
		CorrelationID: instance.CorrelationID.String(),
		Version:       instance.Version,
		State:         state,
		Completed:     instance.Completed,
		CreatedAt:     instance.CreatedAt,
		UpdatedAt:     instance.UpdatedAt,
	}, nil
}

func (r *Repository[T]) decode(id uuid.UUID, record *Record) (*Instance[T], error) {
	instance := &Instance[T]{
		CorrelationID: id,
		Version:       record.Version,
		Completed:     record.Completed,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
	if len(record.State) > 0 {
		if err := r.codec.Unmarshal(record.State, &instance.State); err != nil {
			return nil, fmt.Errorf("decode saga %s/%s: %w", r.name, id, err)
		}
	}
	return instance, nil
}

func (r *Repository[T]) lockKey(id uuid.UUID) string {
	return r.name + "/" + id.String()
}

func (r *Repository[T]) notFound(id uuid.UUID) error {
	return pkgerrors.ErrSagaNotFound.
		WithDetail("message", fmt.Sprintf("saga %s/%s not found", r.name, id)).
		WithDetail("saga", r.name).
		WithDetail("correlation_id", id.String())
}

func (r *Repository[T]) alreadyExists(id uuid.UUID) error {
	return pkgerrors.ErrSagaAlreadyExists.
		WithDetail("message", fmt.Sprintf("saga %s/%s already exists", r.name, id)).
		WithDetail("saga", r.name).
		WithDetail("correlation_id", id.String())
}

func operationResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case pkgerrors.IsSagaNotFound(err):
		return "not_found"
	case errors.Is(err, pkgerrors.ErrSagaAlreadyExists):
		return "already_exists"
	case errors.Is(err, pkgerrors.ErrConcurrency):
		return "conflict"
	default:
		return "error"
	}
}
