//go:build sqlite

package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"burnbin/internal/storage"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Open initializes the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := initialize(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initialize(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS pastes (
    id TEXT PRIMARY KEY,
    content BLOB NOT NULL,
    created_at DATETIME NOT NULL,
    expires_at DATETIME,
    max_views INTEGER,
    view_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes (expires_at);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Save inserts or updates a paste.
func (s *Store) Save(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}

	paste.CreatedAt = paste.CreatedAt.UTC()
	paste.ExpiresAt = paste.ExpiresAt.UTC()

	const q = `
INSERT INTO pastes (id, content, created_at, expires_at, max_views, view_count)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    content=excluded.content,
    created_at=excluded.created_at,
    expires_at=excluded.expires_at,
    max_views=excluded.max_views,
    view_count=excluded.view_count;
`
	_, err := s.db.ExecContext(ctx, q,
		paste.ID,
		[]byte(paste.Content),
		paste.CreatedAt,
		nullableTime(paste.ExpiresAt),
		nullableInt(paste.MaxViews),
		paste.ViewCount,
	)
	if err != nil {
		return fmt.Errorf("save paste: %w", err)
	}
	return nil
}

// Get fetches a paste by id.
func (s *Store) Get(ctx context.Context, id string) (*storage.Paste, error) {
	const q = `
SELECT id, content, created_at, expires_at, max_views, view_count
FROM pastes WHERE id = ?;
`
	row := s.db.QueryRowContext(ctx, q, id)

	var (
		content   []byte
		createdAt time.Time
		expiresAt sql.NullTime
		maxViews  sql.NullInt64
		viewCount int
	)
	if err := row.Scan(&id, &content, &createdAt, &expiresAt, &maxViews, &viewCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query paste: %w", err)
	}

	paste := &storage.Paste{
		ID:        id,
		Content:   string(content),
		CreatedAt: createdAt.UTC(),
		ViewCount: viewCount,
	}
	if expiresAt.Valid {
		paste.ExpiresAt = expiresAt.Time.UTC()
	}
	if maxViews.Valid {
		v := int(maxViews.Int64)
		paste.MaxViews = &v
	}
	return paste, nil
}

// DeleteExpired removes all expired or exhausted pastes.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	const q = `
DELETE FROM pastes
WHERE (expires_at IS NOT NULL AND expires_at <= ?)
   OR (max_views IS NOT NULL AND view_count >= max_views);
`
	res, err := s.db.ExecContext(ctx, q, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(rows), nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
