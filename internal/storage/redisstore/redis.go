package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"burnbin/internal/storage"
)

const defaultPrefix = "burnbin:"

// Store implements storage.Store on top of Redis. Each paste is a JSON
// string; a sorted set orders ids by expiry and a set tracks exhausted ids.
type Store struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// Open parses url, pings the server and returns a Store.
func Open(ctx context.Context, url string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, ""), nil
}

// New wraps an existing client. An empty prefix selects the default.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix, timeout: 5 * time.Second}
}

func (s *Store) pasteKey(id string) string { return s.prefix + "paste:" + id }
func (s *Store) expiresKey() string        { return s.prefix + "expires" }
func (s *Store) exhaustedKey() string      { return s.prefix + "exhausted" }

// Save persists or updates a paste entry along with its indexes.
func (s *Store) Save(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	paste.CreatedAt = paste.CreatedAt.UTC()
	paste.ExpiresAt = paste.ExpiresAt.UTC()

	data, err := json.Marshal(paste)
	if err != nil {
		return fmt.Errorf("marshal paste: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.pasteKey(paste.ID), data, 0)
		if paste.HasExpiration() {
			pipe.ZAdd(ctx, s.expiresKey(), redis.Z{
				Score:  float64(paste.ExpiresAt.UnixMilli()),
				Member: paste.ID,
			})
		} else {
			pipe.ZRem(ctx, s.expiresKey(), paste.ID)
		}
		if paste.ViewsExhausted() {
			pipe.SAdd(ctx, s.exhaustedKey(), paste.ID)
		} else {
			pipe.SRem(ctx, s.exhaustedKey(), paste.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save paste: %w", err)
	}
	return nil
}

// Get retrieves a paste by id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	data, err := s.client.Get(ctx, s.pasteKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get paste: %w", err)
	}
	var paste storage.Paste
	if err := json.Unmarshal(data, &paste); err != nil {
		return nil, fmt.Errorf("unmarshal paste: %w", err)
	}
	return &paste, nil
}

// DeleteExpired removes pastes expiring at or before the cutoff and pastes
// with no views left.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	expired, err := s.client.ZRangeByScore(ctx, s.expiresKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.UTC().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan expiry index: %w", err)
	}
	exhausted, err := s.client.SMembers(ctx, s.exhaustedKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("scan exhausted index: %w", err)
	}

	ids := append(expired, exhausted...)
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(ids))
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.pasteKey(id))
		members = append(members, id)
	}

	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.expiresKey(), members...)
		pipe.SRem(ctx, s.exhaustedKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return int(del.Val()), nil
}

// Close closes the client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
