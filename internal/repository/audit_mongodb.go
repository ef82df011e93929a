package repository

import (
	"context"
	"fmt"
	"log"
	"time"

	"retailsync/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoAuditLog stores sync audit entries in a MongoDB collection.
type MongoAuditLog struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoAuditLog connects to MongoDB and prepares the audit collection.
func NewMongoAuditLog(uri, dbName, collectionName string) (*MongoAuditLog, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(20).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collection := client.Database(dbName).Collection(collectionName)

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "entity_type", Value: 1}, {Key: "entity_id", Value: 1}}},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		log.Printf("[MongoAuditLog] Warning: failed to create indexes: %v", err)
	}

	log.Printf("[MongoAuditLog] Connected to %s/%s", dbName, collectionName)
	return &MongoAuditLog{client: client, collection: collection}, nil
}

// Ping checks the MongoDB connection.
func (r *MongoAuditLog) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

// Record inserts a new audit entry.
func (r *MongoAuditLog) Record(ctx context.Context, entry *model.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.collection.InsertOne(ctx, entry)
	return err
}

// List returns audit entries newest first, optionally filtered by entity.
func (r *MongoAuditLog) List(ctx context.Context, filter AuditFilter, limit, offset int) ([]model.AuditEntry, int64, error) {
	query := bson.M{}
	if filter.EntityType != "" {
		query["entity_type"] = filter.EntityType
	}
	if filter.EntityID != "" {
		query["entity_id"] = filter.EntityID
	}

	findOptions := options.Find()
	findOptions.SetSort(bson.D{{Key: "created_at", Value: -1}})
	findOptions.SetLimit(int64(limit))
	findOptions.SetSkip(int64(offset))

	cursor, err := r.collection.Find(ctx, query, findOptions)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var entries []model.AuditEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, 0, err
	}

	// Ensure not nil slice for JSON
	if entries == nil {
		entries = []model.AuditEntry{}
	}

	count, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	return entries, count, nil
}

// Close closes the MongoDB connection.
func (r *MongoAuditLog) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

var _ AuditLog = (*MongoAuditLog)(nil)
