package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"burnbin/internal/storage"
)

var (
	pasteBucket     = []byte("pastes")
	expireBucket    = []byte("expires")
	exhaustedBucket = []byte("exhausted")
)

// Store implements storage.Store backed by BoltDB.
type Store struct {
	db *bolt.DB
}

// Open initializes a BoltDB-backed store located at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{pasteBucket, expireBucket, exhaustedBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Save persists or updates a paste entry.
func (s *Store) Save(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Normalize timestamps to UTC for consistency.
	paste.CreatedAt = paste.CreatedAt.UTC()
	paste.ExpiresAt = paste.ExpiresAt.UTC()

	data, err := json.Marshal(paste)
	if err != nil {
		return fmt.Errorf("marshal paste: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		pBucket, eBucket, xBucket, err := buckets(tx)
		if err != nil {
			return err
		}

		if existing := pBucket.Get([]byte(paste.ID)); existing != nil {
			var prev storage.Paste
			if err := json.Unmarshal(existing, &prev); err == nil && prev.HasExpiration() {
				if err := eBucket.Delete(expireKey(prev.ExpiresAt, prev.ID)); err != nil {
					return fmt.Errorf("remove previous expiry index: %w", err)
				}
			}
		}

		if err := pBucket.Put([]byte(paste.ID), data); err != nil {
			return fmt.Errorf("save paste: %w", err)
		}

		if paste.HasExpiration() {
			if err := eBucket.Put(expireKey(paste.ExpiresAt, paste.ID), []byte(paste.ID)); err != nil {
				return fmt.Errorf("index expiry: %w", err)
			}
		}
		if paste.ViewsExhausted() {
			if err := xBucket.Put([]byte(paste.ID), nil); err != nil {
				return fmt.Errorf("index exhausted: %w", err)
			}
		} else if err := xBucket.Delete([]byte(paste.ID)); err != nil {
			return fmt.Errorf("clear exhausted index: %w", err)
		}

		return nil
	})
}

// Get retrieves a paste by id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Paste, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var out *storage.Paste
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errors.New("pastes bucket missing")
		}
		raw := bucket.Get([]byte(id))
		if raw == nil {
			return storage.ErrNotFound
		}
		var paste storage.Paste
		if err := json.Unmarshal(raw, &paste); err != nil {
			return fmt.Errorf("unmarshal paste: %w", err)
		}
		out = &paste
		return nil
	})

	return out, err
}

// DeleteExpired removes all pastes with expiry before or equal to the provided
// time and all pastes whose view budget is used up.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	before = before.UTC()
	var removed int
	err := s.db.Update(func(tx *bolt.Tx) error {
		pBucket, eBucket, xBucket, err := buckets(tx)
		if err != nil {
			return err
		}

		cursor := eBucket.Cursor()
		cutoff := toTimestamp(before)
		for key, val := cursor.First(); key != nil; key, val = cursor.Next() {
			ts := binary.BigEndian.Uint64(key[:8])
			if ts > cutoff {
				break
			}
			id := string(val)
			if pBucket.Get([]byte(id)) != nil {
				if err := pBucket.Delete([]byte(id)); err != nil {
					return fmt.Errorf("delete expired paste %s: %w", id, err)
				}
				removed++
			}
			if err := xBucket.Delete([]byte(id)); err != nil {
				return fmt.Errorf("delete exhausted index: %w", err)
			}
			if err := cursor.Delete(); err != nil {
				return fmt.Errorf("delete expiry index: %w", err)
			}
		}

		var exhausted [][]byte
		if err := xBucket.ForEach(func(k, _ []byte) error {
			exhausted = append(exhausted, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return fmt.Errorf("scan exhausted index: %w", err)
		}
		for _, id := range exhausted {
			raw := pBucket.Get(id)
			if raw != nil {
				var paste storage.Paste
				if err := json.Unmarshal(raw, &paste); err == nil && paste.HasExpiration() {
					if err := eBucket.Delete(expireKey(paste.ExpiresAt, paste.ID)); err != nil {
						return fmt.Errorf("delete expiry index: %w", err)
					}
				}
				if err := pBucket.Delete(id); err != nil {
					return fmt.Errorf("delete exhausted paste %s: %w", id, err)
				}
				removed++
			}
			if err := xBucket.Delete(id); err != nil {
				return fmt.Errorf("delete exhausted index: %w", err)
			}
		}
		return nil
	})

	return removed, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buckets(tx *bolt.Tx) (*bolt.Bucket, *bolt.Bucket, *bolt.Bucket, error) {
	p, e, x := tx.Bucket(pasteBucket), tx.Bucket(expireBucket), tx.Bucket(exhaustedBucket)
	if p == nil || e == nil || x == nil {
		return nil, nil, nil, errors.New("buckets not initialized")
	}
	return p, e, x, nil
}

func expireKey(t time.Time, id string) []byte {
	key := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(key, toTimestamp(t))
	copy(key[8:], id)
	return key
}

func toTimestamp(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UTC().UnixNano())
}
