package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"burnbin/internal/storage"
)

const collectionName = "pastes"

// Store implements storage.Store using a MongoDB collection keyed by _id.
type Store struct {
	client *mongo.Client
	col    *mongo.Collection
}

// Open connects to uri and prepares the pastes collection in database db.
func Open(ctx context.Context, uri, db string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	store, err := New(connectCtx, client.Database(db).Collection(collectionName))
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	store.client = client
	return store, nil
}

// New wraps an existing collection and ensures the expiry index exists.
func New(ctx context.Context, col *mongo.Collection) (*Store, error) {
	idx := mongo.IndexModel{Keys: bson.D{{Key: "expires_at", Value: 1}}}
	if _, err := col.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, fmt.Errorf("create expiry index: %w", err)
	}
	return &Store{col: col}, nil
}

// Save upserts the paste document.
func (s *Store) Save(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	paste.CreatedAt = paste.CreatedAt.UTC()
	paste.ExpiresAt = paste.ExpiresAt.UTC()

	_, err := s.col.ReplaceOne(ctx, bson.M{"_id": paste.ID}, paste, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save paste: %w", err)
	}
	return nil
}

// Get retrieves a paste by id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Paste, error) {
	var paste storage.Paste
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&paste)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find paste: %w", err)
	}
	paste.CreatedAt = paste.CreatedAt.UTC()
	paste.ExpiresAt = paste.ExpiresAt.UTC()
	return &paste, nil
}

// DeleteExpired removes expired and exhausted documents.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := s.col.DeleteMany(ctx, expiredFilter(before))
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return int(res.DeletedCount), nil
}

func expiredFilter(before time.Time) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"expires_at": bson.M{"$lte": before.UTC()}},
		bson.M{
			"max_views": bson.M{"$exists": true},
			"$expr":     bson.M{"$gte": bson.A{"$view_count", "$max_views"}},
		},
	}}
}

// Close disconnects the client when the store owns it.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
