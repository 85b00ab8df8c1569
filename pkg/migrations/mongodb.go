package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const SagaCollection = "saga_instances"

// EnsureMongoCollection creates the saga collection indexes. The collection
// itself is created on first insert.
func EnsureMongoCollection(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection(SagaCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "saga", Value: 1}, {Key: "correlation_id", Value: 1}},
			Options: options.Index().SetName("idx_saga_instances_saga_correlation").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "saga", Value: 1}, {Key: "completed", Value: 1}},
			Options: options.Index().SetName("idx_saga_instances_saga_completed"),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_saga_instances_updated_at"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	return nil
}
