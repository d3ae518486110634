package memstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"burnbin/internal/storage"
)

// Store implements storage.Store in process memory. Records are copied on
// the way in and out so callers never share state with the map.
type Store struct {
	mu     sync.RWMutex
	pastes map[string]*storage.Paste
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{pastes: make(map[string]*storage.Paste)}
}

// Save persists or replaces a paste.
func (m *Store) Save(ctx context.Context, paste *storage.Paste) error {
	if paste == nil {
		return errors.New("paste is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pastes[paste.ID] = clone(paste)
	return nil
}

// Get retrieves a paste by id.
func (m *Store) Get(ctx context.Context, id string) (*storage.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pastes[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(p), nil
}

// DeleteExpired drops expired and exhausted pastes.
func (m *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, paste := range m.pastes {
		if paste.Purgeable(before) {
			delete(m.pastes, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many records are held.
func (m *Store) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pastes)
}

// Close is a no-op.
func (m *Store) Close() error { return nil }

func clone(p *storage.Paste) *storage.Paste {
	cp := *p
	if p.MaxViews != nil {
		v := *p.MaxViews
		cp.MaxViews = &v
	}
	return &cp
}
