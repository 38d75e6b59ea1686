// Package mongo provides a MongoDB-backed history store.
//
// Each session is one document in the configured collection:
//
//	{user_id: "...", session_id: "...", history: [{role: "user", message: "..."}, ...]}
//
// Appends use an upserting $push so concurrent writers never lose entries.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallnest/chatmemory/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultDatabase   = "rag_service"
	DefaultCollection = "chat_history"
)

// MongoHistoryStore implements store.HistoryStore using MongoDB
type MongoHistoryStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

var _ store.HistoryStore = (*MongoHistoryStore)(nil)

// MongoOptions configuration for MongoDB connection
type MongoOptions struct {
	URI        string
	Database   string // Default "rag_service"
	Collection string // Default "chat_history"
}

type historyDocument struct {
	UserID    string        `bson:"user_id"`
	SessionID string        `bson:"session_id"`
	History   []store.Entry `bson:"history"`
}

// NewMongoHistoryStore connects to MongoDB and verifies the connection with a ping
func NewMongoHistoryStore(ctx context.Context, opts MongoOptions) (*MongoHistoryStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("unable to ping mongodb: %w", err)
	}

	database := opts.Database
	if database == "" {
		database = DefaultDatabase
	}
	collection := opts.Collection
	if collection == "" {
		collection = DefaultCollection
	}

	return &MongoHistoryStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// NewHistoryStoreFromCollection wraps an existing collection.
// The caller keeps ownership of the client.
func NewHistoryStoreFromCollection(coll *mongo.Collection) *MongoHistoryStore {
	return &MongoHistoryStore{collection: coll}
}

// EnsureIndexes creates the unique (user_id, session_id) index
func (s *MongoHistoryStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

func filterFor(key store.Key) bson.D {
	return bson.D{{Key: "user_id", Value: key.UserID}, {Key: "session_id", Value: key.SessionID}}
}

// AppendHistory pushes entries onto the session document, creating it if absent
func (s *MongoHistoryStore) AppendHistory(ctx context.Context, key store.Key, entries []store.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	update := bson.D{{Key: "$push", Value: bson.D{
		{Key: "history", Value: bson.D{{Key: "$each", Value: entries}}},
	}}}

	_, err := s.collection.UpdateOne(ctx, filterFor(key), update, options.Update().SetUpsert(true))
	if err != nil {
		return store.Unavailable("append", fmt.Errorf("failed to append history to mongodb: %w", err))
	}
	return nil
}

// History loads the document of one session
func (s *MongoHistoryStore) History(ctx context.Context, key store.Key) ([]store.Entry, bool, error) {
	var doc historyDocument
	err := s.collection.FindOne(ctx, filterFor(key)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, store.Unavailable("read", fmt.Errorf("failed to load history from mongodb: %w", err))
	}
	return doc.History, true, nil
}

// UserHistories loads every session document of a user
func (s *MongoHistoryStore) UserHistories(ctx context.Context, userID string) (map[string][]store.Entry, error) {
	cursor, err := s.collection.Find(ctx, bson.D{{Key: "user_id", Value: userID}})
	if err != nil {
		return nil, store.Unavailable("read_by_user", fmt.Errorf("failed to list histories: %w", err))
	}
	defer cursor.Close(ctx)

	result := make(map[string][]store.Entry)
	for cursor.Next(ctx) {
		var doc historyDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode history document: %w", err)
		}
		result[doc.SessionID] = doc.History
	}
	if err := cursor.Err(); err != nil {
		return nil, store.Unavailable("read_by_user", fmt.Errorf("error iterating histories: %w", err))
	}

	return result, nil
}

// DeleteHistory removes the document of one session
func (s *MongoHistoryStore) DeleteHistory(ctx context.Context, key store.Key) (bool, error) {
	res, err := s.collection.DeleteOne(ctx, filterFor(key))
	if err != nil {
		return false, store.Unavailable("delete", fmt.Errorf("failed to delete history: %w", err))
	}
	return res.DeletedCount > 0, nil
}

// Close disconnects the client when the store owns it
func (s *MongoHistoryStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}
