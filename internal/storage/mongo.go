package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/glider-scraper/glider/internal/types"
)

// MongoSink inserts record batches into a MongoDB collection. It is an
// optional secondary back-end next to the JSONL stream.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
	mu         sync.Mutex
	count      int
	logger     *slog.Logger
}

// NewMongoSink connects to MongoDB and verifies the connection.
func NewMongoSink(uri, database, collection string, logger *slog.Logger) (*MongoSink, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("connect: %w", err)}
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("ping: %w", err)}
	}

	return &MongoSink{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     logger.With("component", "mongo_sink"),
	}, nil
}

// Name implements Sink.
func (s *MongoSink) Name() string { return "mongodb" }

// Store implements Sink.
func (s *MongoSink) Store(batch []types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]any, len(batch))
	for i, record := range batch {
		docs[i] = map[string]any(record)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.collection.InsertMany(ctx, docs); err != nil {
		return &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("insert: %w", err)}
	}

	s.count += len(batch)
	s.logger.Debug("batch inserted", "count", len(batch), "total", s.count)
	return nil
}

// Close implements Sink.
func (s *MongoSink) Close() error {
	s.logger.Info("mongodb sink closing", "total_records", s.count)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
