// Package mongo provides a MongoDB-backed document store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sociallens/social-ingest/internal/docstore"
)

// Config captures the parameters required to connect to MongoDB.
type Config struct {
	URI      string
	Database string
}

// Store implements docstore.Store on MongoDB. Documents are keyed by _id
// (the derived composite identifier), which Mongo indexes uniquely.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

// New connects to MongoDB and pings it to ensure the connection is alive.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo.uri is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("mongo.database is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		discErr := client.Disconnect(ctx)
		if discErr != nil {
			return nil, fmt.Errorf("ping mongo: %w (disconnect: %v)", err, discErr)
		}
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{
		client: client,
		db:     client.Database(cfg.Database),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Upsert writes the document with $set for all fields and $setOnInsert for
// the creation timestamp, so re-processing the same record converges to one
// document with the original created_at.
func (s *Store) Upsert(ctx context.Context, collection, id string, fields map[string]any) error {
	if id == "" {
		return fmt.Errorf("document id is required")
	}
	at := s.now()

	set := bson.M{"updated_at": at}
	for k, v := range fields {
		set[k] = v
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": at},
	}
	_, err := s.db.Collection(collection).UpdateOne(
		ctx,
		bson.M{"_id": id},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert document %s/%s: %w", collection, id, err)
	}
	return nil
}

// Get loads a document by id.
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return docstore.Document{}, docstore.ErrNotFound
		}
		return docstore.Document{}, fmt.Errorf("get document %s/%s: %w", collection, id, err)
	}

	doc := docstore.Document{ID: id, Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "_id":
		case "created_at":
			if t, ok := timeValue(v); ok {
				doc.CreatedAt = t
			}
		case "updated_at":
			if t, ok := timeValue(v); ok {
				doc.UpdatedAt = t
			}
		default:
			doc.Fields[k] = v
		}
	}
	return doc, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

func timeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case primitive.DateTime:
		return t.Time().UTC(), true
	default:
		return time.Time{}, false
	}
}
