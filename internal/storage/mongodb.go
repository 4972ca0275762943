package storage

import (
	"context"
	"fmt"
	"time"

	"form-webhook-sync/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Connect opens and pings a MongoDB client. Both the GridFS object store and
// the sync sink share this setup.
func Connect(ctx context.Context, uri string, logger *zap.Logger) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// MongoDB Atlas specific client options
	clientOptions := options.Client().ApplyURI(uri).
		SetMaxPoolSize(100).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetSocketTimeout(30 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Successfully connected to MongoDB")
	return client, nil
}

// MongoDB is the sink the sync worker writes pulled records to.
type MongoDB struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

func NewMongoDB(ctx context.Context, client *mongo.Client, database, collection string, logger *zap.Logger) (*MongoDB, error) {
	coll := client.Database(database).Collection(collection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "submission_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "form_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "received_at", Value: 1}},
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "form_id", Value: 1},
			},
		},
	}

	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	logger.Info("Sync sink ready",
		zap.String("database", database),
		zap.String("collection", collection),
	)

	return &MongoDB{
		client:     client,
		collection: coll,
		logger:     logger,
	}, nil
}

// UpsertRecord stores rec keyed by submission id. Pulling the same record
// twice overwrites it, so a crash between store and mark is harmless.
func (m *MongoDB) UpsertRecord(ctx context.Context, rec models.Record) error {
	doc := models.SyncedRecord{
		Record:   rec,
		SyncedAt: time.Now().UTC(),
		Status:   string(models.SyncStatusStored),
	}

	filter := bson.M{"submission_id": rec.ID}
	_, err := m.collection.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		m.logger.Error("Failed to upsert record",
			zap.Error(err),
			zap.String("submission_id", rec.ID),
			zap.String("form_id", rec.FormID))
		return err
	}
	return nil
}

func (m *MongoDB) UpdateStatus(ctx context.Context, ids []string, status models.SyncStatus) error {
	if len(ids) == 0 {
		return nil
	}
	filter := bson.M{
		"submission_id": bson.M{"$in": ids},
	}

	update := bson.M{
		"$set": bson.M{
			"status":     status,
			"updated_at": time.Now().UTC(),
		},
	}

	_, err := m.collection.UpdateMany(ctx, filter, update)
	return err
}

// GetRecordsByStatus lists synced records in status, optionally for one form.
func (m *MongoDB) GetRecordsByStatus(ctx context.Context, status models.SyncStatus, formID string) ([]*models.SyncedRecord, error) {
	filter := bson.M{
		"status": status,
	}
	if formID != "" {
		filter["form_id"] = formID
	}

	cursor, err := m.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "received_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*models.SyncedRecord
	if err = cursor.All(ctx, &records); err != nil {
		return nil, err
	}

	return records, nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
