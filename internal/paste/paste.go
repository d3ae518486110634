// Package paste implements the paste lifecycle: creation with optional
// time-to-live and view limit, and the atomic fetch that consumes a view.
package paste

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"burnbin/internal/id"
	"burnbin/internal/keylock"
	"burnbin/internal/metrics"
	"burnbin/internal/storage"
)

const maxIDAttempts = 5

var errIDSpaceExhausted = errors.New("no free identifier after retries")

// Config captures engine dependencies.
type Config struct {
	Store       storage.Store
	IDGenerator *id.Generator
	Logger      *slog.Logger
	// Now is the clock used for creation timestamps. Defaults to time.Now.
	Now func() time.Time
	// Tombstones bounds the expired-id cache. Zero selects a default size,
	// a negative value disables the cache.
	Tombstones int
}

// Service owns paste creation and consumption.
type Service struct {
	store      storage.Store
	idGen      *id.Generator
	logger     *slog.Logger
	now        func() time.Time
	locks      *keylock.Locker
	tombstones *tombstones
}

// CreateParams describes a new paste. A non-positive TTL means no time
// expiry; a nil or negative MaxViews means no view limit.
type CreateParams struct {
	Content  string
	TTL      time.Duration
	MaxViews *int
}

// Created is returned by Create.
type Created struct {
	ID        string
	URL       string
	ExpiresAt time.Time
	MaxViews  *int
}

// View is the result of a successful Fetch.
type View struct {
	ID             string
	Content        string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	RemainingViews *int
	ViewCount      int
}

// Meta describes a live paste without its content.
type Meta struct {
	ID             string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	RemainingViews *int
}

// New constructs a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = id.New(0)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ts, err := newTombstones(cfg.Tombstones)
	if err != nil {
		return nil, fmt.Errorf("tombstone cache: %w", err)
	}
	return &Service{
		store:      cfg.Store,
		idGen:      cfg.IDGenerator,
		logger:     cfg.Logger,
		now:        cfg.Now,
		locks:      keylock.New(),
		tombstones: ts,
	}, nil
}

// Now returns the engine clock reading.
func (s *Service) Now() time.Time {
	return s.now()
}

// PathFor returns the access path for a paste identifier.
func PathFor(id string) string {
	return "/p/" + id
}

// Create validates params, assigns an identifier and persists a new paste.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Created, error) {
	if params.Content == "" {
		return nil, ErrInvalidInput
	}

	now := s.now().UTC()
	p := &storage.Paste{
		Content:   params.Content,
		CreatedAt: now,
	}
	if params.TTL > 0 {
		p.ExpiresAt = now.Add(params.TTL)
	}
	if params.MaxViews != nil && *params.MaxViews >= 0 {
		limit := *params.MaxViews
		p.MaxViews = &limit
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		candidate, err := s.idGen.Generate(ctx)
		if err != nil {
			return nil, fmt.Errorf("generate id: %w", err)
		}
		saved, err := s.claim(ctx, candidate, p)
		if err != nil {
			return nil, err
		}
		if !saved {
			if s.logger != nil {
				s.logger.Warn("paste id collision", "id", candidate, "attempt", attempt+1)
			}
			continue
		}
		metrics.PastesCreated.Inc()
		if s.logger != nil {
			s.logger.Debug("paste created", "id", p.ID, "expires_at", p.ExpiresAt, "max_views", p.MaxViews)
		}
		return &Created{
			ID:        p.ID,
			URL:       PathFor(p.ID),
			ExpiresAt: p.ExpiresAt,
			MaxViews:  p.MaxViews,
		}, nil
	}
	return nil, s.storageErr("create paste", errIDSpaceExhausted)
}

// claim saves p under candidate unless a record already uses it.
func (s *Service) claim(ctx context.Context, candidate string, p *storage.Paste) (bool, error) {
	unlock := s.locks.Lock(candidate)
	defer unlock()

	// A purged id may still be tombstoned; reusing it would serve a new
	// paste as expired.
	if _, dead := s.tombstones.get(candidate); dead {
		return false, nil
	}
	if _, err := s.store.Get(ctx, candidate); err == nil {
		return false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return false, s.storageErr("check id", err)
	}
	p.ID = candidate
	if err := s.store.Save(ctx, p); err != nil {
		return false, s.storageErr("save paste", err)
	}
	return true, nil
}

// Fetch returns the paste content and consumes one view. The load, both
// expiry checks and the incremented save run under the paste's lock, so
// concurrent fetches of one id never exceed its view limit.
func (s *Service) Fetch(ctx context.Context, pasteID string, now time.Time) (*View, error) {
	view, err := s.fetch(ctx, pasteID, now)
	if reason, ok := ReasonOf(err); ok {
		metrics.FetchRejected.WithLabelValues(string(reason)).Inc()
	}
	return view, err
}

func (s *Service) fetch(ctx context.Context, pasteID string, now time.Time) (*View, error) {
	if reason, ok := s.tombstones.get(pasteID); ok {
		metrics.TombstoneHits.Inc()
		return nil, s.refuse(pasteID, reason)
	}

	unlock := s.locks.Lock(pasteID)
	defer unlock()

	p, err := s.load(ctx, pasteID)
	if err != nil {
		return nil, err
	}
	if reason, refused := refusal(p, now); refused {
		s.tombstones.add(pasteID, reason)
		return nil, s.refuse(pasteID, reason)
	}

	next := *p
	next.ViewCount++
	if err := s.store.Save(ctx, &next); err != nil {
		return nil, s.storageErr("save paste", err)
	}
	metrics.ViewsConsumed.Inc()
	if next.ViewsExhausted() {
		s.tombstones.add(pasteID, ReasonViews)
	}

	return &View{
		ID:             next.ID,
		Content:        next.Content,
		CreatedAt:      next.CreatedAt,
		ExpiresAt:      next.ExpiresAt,
		RemainingViews: next.RemainingViews(),
		ViewCount:      next.ViewCount,
	}, nil
}

// Inspect applies the same expiry rules as Fetch without consuming a view.
func (s *Service) Inspect(ctx context.Context, pasteID string, now time.Time) (*Meta, error) {
	if reason, ok := s.tombstones.get(pasteID); ok {
		return nil, s.refuse(pasteID, reason)
	}
	p, err := s.load(ctx, pasteID)
	if err != nil {
		return nil, err
	}
	if reason, refused := refusal(p, now); refused {
		s.tombstones.add(pasteID, reason)
		return nil, s.refuse(pasteID, reason)
	}
	return &Meta{
		ID:             p.ID,
		CreatedAt:      p.CreatedAt,
		ExpiresAt:      p.ExpiresAt,
		RemainingViews: p.RemainingViews(),
	}, nil
}

func (s *Service) load(ctx context.Context, pasteID string) (*storage.Paste, error) {
	p, err := s.store.Get(ctx, pasteID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, s.refuse(pasteID, ReasonMissing)
		}
		return nil, s.storageErr("load paste", err)
	}
	if p == nil {
		return nil, s.refuse(pasteID, ReasonMissing)
	}
	return p, nil
}

// refusal evaluates time expiry first, then the view budget.
func refusal(p *storage.Paste, now time.Time) (Reason, bool) {
	if p.ExpiredAt(now) {
		return ReasonTTL, true
	}
	if p.ViewsExhausted() {
		return ReasonViews, true
	}
	return "", false
}

func (s *Service) refuse(pasteID string, reason Reason) error {
	if s.logger != nil {
		s.logger.Debug("paste refused", "id", pasteID, "reason", reason)
	}
	return &LookupError{ID: pasteID, Reason: reason}
}

func (s *Service) storageErr(op string, err error) error {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	return &StorageError{Op: op, Err: err}
}
