// Package redisstore keeps saga records in Redis, one string key per
// instance.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"conduit/pkg/metrics"
	"conduit/pkg/saga"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultPrefix = "saga:"

type Option func(*Store)

// WithPrefix changes the key prefix (default "saga:").
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithCompletedTTL expires completed instances after ttl instead of keeping
// them forever.
func WithCompletedTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.completedTTL = ttl
	}
}

type Store struct {
	client       redis.UniversalClient
	prefix       string
	completedTTL time.Duration
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(sagaName, correlationID string) string {
	return s.prefix + sagaName + ":" + correlationID
}

func (s *Store) ttl(record *saga.Record) time.Duration {
	if record.Completed && s.completedTTL > 0 {
		return s.completedTTL
	}
	return 0
}

func (s *Store) Load(ctx context.Context, sagaName, correlationID string) (record *saga.Record, err error) {
	defer observe("load", time.Now(), &err)

	raw, err := s.client.Get(ctx, s.key(sagaName, correlationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, saga.ErrRecordNotFound
		}
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}

	record = &saga.Record{}
	if err := json.Unmarshal(raw, record); err != nil {
		return nil, fmt.Errorf("decode saga record: %w", err)
	}
	return record, nil
}

func (s *Store) Insert(ctx context.Context, record *saga.Record) (err error) {
	defer observe("insert", time.Now(), &err)

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode saga record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(record.Saga, record.CorrelationID), raw, s.ttl(record)).Result()
	if err != nil {
		return fmt.Errorf("redis SetNX failed: %w", err)
	}
	if !ok {
		return saga.ErrRecordExists
	}
	return nil
}

// Update compares versions under WATCH so a write from another process
// between the read and the MULTI aborts the transaction.
func (s *Store) Update(ctx context.Context, record *saga.Record, expectedVersion int64) (err error) {
	defer observe("update", time.Now(), &err)

	key := s.key(record.Saga, record.CorrelationID)
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode saga record: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		currentRaw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return saga.ErrRecordNotFound
			}
			return err
		}

		var current saga.Record
		if err := json.Unmarshal(currentRaw, &current); err != nil {
			return fmt.Errorf("decode saga record: %w", err)
		}
		if current.Version != expectedVersion {
			return saga.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, s.ttl(record))
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return saga.ErrVersionConflict
	case errors.Is(err, saga.ErrRecordNotFound), errors.Is(err, saga.ErrVersionConflict):
		return err
	default:
		return fmt.Errorf("redis update failed: %w", err)
	}
}

func (s *Store) Delete(ctx context.Context, sagaName, correlationID string) (err error) {
	defer observe("delete", time.Now(), &err)

	n, err := s.client.Del(ctx, s.key(sagaName, correlationID)).Result()
	if err != nil {
		return fmt.Errorf("redis DEL failed: %w", err)
	}
	if n == 0 {
		return saga.ErrRecordNotFound
	}
	return nil
}

// DeleteVersion removes the key under WATCH, only while the stored version is
// still expectedVersion.
func (s *Store) DeleteVersion(ctx context.Context, sagaName, correlationID string, expectedVersion int64) (err error) {
	defer observe("delete", time.Now(), &err)

	key := s.key(sagaName, correlationID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		currentRaw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return saga.ErrRecordNotFound
			}
			return err
		}

		var current saga.Record
		if err := json.Unmarshal(currentRaw, &current); err != nil {
			return fmt.Errorf("decode saga record: %w", err)
		}
		if current.Version != expectedVersion {
			return saga.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return saga.ErrVersionConflict
	case errors.Is(err, saga.ErrRecordNotFound), errors.Is(err, saga.ErrVersionConflict):
		return err
	default:
		return fmt.Errorf("redis delete failed: %w", err)
	}
}

// Count scans the keys of one saga type. It walks the keyspace and is meant
// for diagnostics only.
func (s *Store) Count(ctx context.Context, sagaName string) (int, error) {
	iter := s.client.Scan(ctx, 0, s.prefix+sagaName+":*", 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan failed: %w", err)
	}
	return count, nil
}

func observe(operation string, start time.Time, err *error) {
	status := "success"
	if *err != nil && !saga.IsRecordOutcome(*err) {
		status = "error"
	}
	metrics.IncDatabaseQuery("saga", "redis", operation, status)
	metrics.ObserveDatabaseQueryDuration("saga", "redis", operation, time.Since(start))
}
