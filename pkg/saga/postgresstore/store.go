// Package postgresstore keeps saga records in the saga_instances table
// created by migrations.MigratePostgres.
package postgresstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"conduit/pkg/metrics"
	"conduit/pkg/saga"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Load(ctx context.Context, sagaName, correlationID string) (record *saga.Record, err error) {
	defer observe("load", time.Now(), &err)

	query := `
		SELECT saga, correlation_id, version, state, completed, created_at, updated_at
		FROM saga_instances
		WHERE saga = $1 AND correlation_id = $2
	`

	record = &saga.Record{}
	err = s.db.QueryRowContext(ctx, query, sagaName, correlationID).Scan(
		&record.Saga, &record.CorrelationID, &record.Version,
		&record.State, &record.Completed, &record.CreatedAt, &record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, saga.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load saga record: %w", err)
	}

	return record, nil
}

func (s *Store) Insert(ctx context.Context, record *saga.Record) (err error) {
	defer observe("insert", time.Now(), &err)

	query := `
		INSERT INTO saga_instances (saga, correlation_id, version, state, completed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (saga, correlation_id) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		record.Saga, record.CorrelationID, record.Version,
		string(record.State), record.Completed, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return saga.ErrRecordExists
		}
		return fmt.Errorf("failed to insert saga record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return saga.ErrRecordExists
	}

	return nil
}

func (s *Store) Update(ctx context.Context, record *saga.Record, expectedVersion int64) (err error) {
	defer observe("update", time.Now(), &err)

	query := `
		UPDATE saga_instances
		SET version = $3, state = $4, completed = $5, updated_at = $6
		WHERE saga = $1 AND correlation_id = $2 AND version = $7
	`

	result, err := s.db.ExecContext(ctx, query,
		record.Saga, record.CorrelationID, record.Version,
		string(record.State), record.Completed, record.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update saga record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM saga_instances WHERE saga = $1 AND correlation_id = $2)`,
		record.Saga, record.CorrelationID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check saga record: %w", err)
	}
	if !exists {
		return saga.ErrRecordNotFound
	}
	return saga.ErrVersionConflict
}

func (s *Store) Delete(ctx context.Context, sagaName, correlationID string) (err error) {
	defer observe("delete", time.Now(), &err)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM saga_instances WHERE saga = $1 AND correlation_id = $2`,
		sagaName, correlationID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete saga record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return saga.ErrRecordNotFound
	}

	return nil
}

func (s *Store) DeleteVersion(ctx context.Context, sagaName, correlationID string, expectedVersion int64) (err error) {
	defer observe("delete", time.Now(), &err)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM saga_instances WHERE saga = $1 AND correlation_id = $2 AND version = $3`,
		sagaName, correlationID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to delete saga record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM saga_instances WHERE saga = $1 AND correlation_id = $2)`,
		sagaName, correlationID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check saga record: %w", err)
	}
	if !exists {
		return saga.ErrRecordNotFound
	}
	return saga.ErrVersionConflict
}

func (s *Store) Count(ctx context.Context, sagaName string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM saga_instances WHERE saga = $1`, sagaName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count saga records: %w", err)
	}
	return n, nil
}

func observe(operation string, start time.Time, err *error) {
	status := "success"
	if *err != nil && !saga.IsRecordOutcome(*err) {
		status = "error"
	}
	metrics.IncDatabaseQuery("saga", "postgres", operation, status)
	metrics.ObserveDatabaseQueryDuration("saga", "postgres", operation, time.Since(start))
}
