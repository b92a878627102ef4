package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/reviewgoat/internal/types"
)

// MongoSink upserts records into a MongoDB collection keyed by record key,
// so a retried write never duplicates a document.
type MongoSink struct {
	uri        string
	database   string
	collection string

	client *mongo.Client
	coll   *mongo.Collection
	count  int
	logger *slog.Logger
}

// NewMongoSink creates a MongoDB sink. Connection happens in Open.
func NewMongoSink(uri, database, collection string, logger *slog.Logger) *MongoSink {
	return &MongoSink{
		uri:        uri,
		database:   database,
		collection: collection,
		logger:     logger.With("component", "mongo_sink"),
	}
}

func (s *MongoSink) Name() string { return "mongodb" }

func (s *MongoSink) Location() string {
	return fmt.Sprintf("%s/%s", s.database, s.collection)
}

// Open connects and pings the server.
func (s *MongoSink) Open() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(s.uri))
	if err != nil {
		return fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("mongodb ping: %w", err)
	}

	s.client = client
	s.coll = client.Database(s.database).Collection(s.collection)
	return nil
}

// Reopen drops the current connection and connects again.
func (s *MongoSink) Reopen() error {
	s.disconnect()
	return s.Open()
}

func (s *MongoSink) Write(rec types.Record) error {
	if s.coll == nil {
		return errNotOpen
	}

	raw, err := bson.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode bson: %w", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode bson: %w", err)
	}
	doc["_id"] = rec.Key()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": rec.Key()}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb upsert: %w", err)
	}

	s.count++
	s.logger.Debug("record stored in mongodb", "key", rec.Key(), "total", s.count)
	return nil
}

func (s *MongoSink) Close() error {
	s.logger.Info("mongodb sink closing", "total_records", s.count)
	return s.disconnect()
}

func (s *MongoSink) disconnect() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.client.Disconnect(ctx)
	s.client = nil
	s.coll = nil
	return err
}
