// Package mongostore keeps saga records in a MongoDB collection.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"conduit/pkg/metrics"
	"conduit/pkg/migrations"
	"conduit/pkg/saga"
)

type document struct {
	ID          string `bson:"_id"`
	saga.Record `bson:",inline"`
}

type Store struct {
	collection *mongo.Collection
}

// New uses the saga collection of db. Run migrations.EnsureMongoCollection
// first so the unique index on (saga, correlation_id) exists.
func New(db *mongo.Database) *Store {
	return &Store{collection: db.Collection(migrations.SagaCollection)}
}

func documentID(sagaName, correlationID string) string {
	return sagaName + "/" + correlationID
}

func (s *Store) Load(ctx context.Context, sagaName, correlationID string) (record *saga.Record, err error) {
	defer observe("load", time.Now(), &err)

	var doc document
	err = s.collection.FindOne(ctx, bson.M{"_id": documentID(sagaName, correlationID)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, saga.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load saga record: %w", err)
	}

	return &doc.Record, nil
}

func (s *Store) Insert(ctx context.Context, record *saga.Record) (err error) {
	defer observe("insert", time.Now(), &err)

	doc := document{ID: documentID(record.Saga, record.CorrelationID), Record: *record}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return saga.ErrRecordExists
		}
		return fmt.Errorf("failed to insert saga record: %w", err)
	}

	return nil
}

// Update replaces the document only while its version is still
// expectedVersion. A miss is resolved into not-found or conflict with a
// follow-up count.
func (s *Store) Update(ctx context.Context, record *saga.Record, expectedVersion int64) (err error) {
	defer observe("update", time.Now(), &err)

	id := documentID(record.Saga, record.CorrelationID)
	filter := bson.M{"_id": id, "version": expectedVersion}
	update := bson.M{"$set": bson.M{
		"version":    record.Version,
		"state":      record.State,
		"completed":  record.Completed,
		"updated_at": record.UpdatedAt,
	}}

	result, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update saga record: %w", err)
	}
	if result.MatchedCount > 0 {
		return nil
	}

	n, err := s.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to check saga record: %w", err)
	}
	if n == 0 {
		return saga.ErrRecordNotFound
	}
	return saga.ErrVersionConflict
}

func (s *Store) Delete(ctx context.Context, sagaName, correlationID string) (err error) {
	defer observe("delete", time.Now(), &err)

	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": documentID(sagaName, correlationID)})
	if err != nil {
		return fmt.Errorf("failed to delete saga record: %w", err)
	}
	if result.DeletedCount == 0 {
		return saga.ErrRecordNotFound
	}

	return nil
}

func (s *Store) DeleteVersion(ctx context.Context, sagaName, correlationID string, expectedVersion int64) (err error) {
	defer observe("delete", time.Now(), &err)

	id := documentID(sagaName, correlationID)
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": id, "version": expectedVersion})
	if err != nil {
		return fmt.Errorf("failed to delete saga record: %w", err)
	}
	if result.DeletedCount > 0 {
		return nil
	}

	n, err := s.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to check saga record: %w", err)
	}
	if n == 0 {
		return saga.ErrRecordNotFound
	}
	return saga.ErrVersionConflict
}

func (s *Store) Count(ctx context.Context, sagaName string) (int, error) {
	n, err := s.collection.CountDocuments(ctx, bson.M{"saga": sagaName})
	if err != nil {
		return 0, fmt.Errorf("failed to count saga records: %w", err)
	}
	return int(n), nil
}

func observe(operation string, start time.Time, err *error) {
	status := "success"
	if *err != nil && !saga.IsRecordOutcome(*err) {
		status = "error"
	}
	metrics.IncDatabaseQuery("saga", "mongodb", operation, status)
	metrics.ObserveDatabaseQueryDuration("saga", "mongodb", operation, time.Since(start))
}
