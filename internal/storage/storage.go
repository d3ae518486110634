package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a paste does not exist.
var ErrNotFound = errors.New("paste not found")

// Paste represents a stored paste entry.
type Paste struct {
	ID        string    `json:"id" bson:"_id"`
	Content   string    `json:"content" bson:"content"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at,omitempty"`
	MaxViews  *int      `json:"max_views,omitempty" bson:"max_views,omitempty"`
	ViewCount int       `json:"view_count" bson:"view_count"`
}

// HasExpiration reports whether the paste has an expiry set.
func (p Paste) HasExpiration() bool {
	return !p.ExpiresAt.IsZero()
}

// HasViewLimit reports whether the paste has a view limit set.
func (p Paste) HasViewLimit() bool {
	return p.MaxViews != nil
}

// ExpiredAt reports whether the time-to-live has elapsed at now.
// A paste expiring exactly at now is already expired.
func (p Paste) ExpiredAt(now time.Time) bool {
	return p.HasExpiration() && !now.Before(p.ExpiresAt)
}

// ViewsExhausted reports whether the view budget is used up.
func (p Paste) ViewsExhausted() bool {
	return p.HasViewLimit() && p.ViewCount >= *p.MaxViews
}

// RemainingViews returns the views left, or nil when there is no limit.
func (p Paste) RemainingViews() *int {
	if !p.HasViewLimit() {
		return nil
	}
	left := *p.MaxViews - p.ViewCount
	if left < 0 {
		left = 0
	}
	return &left
}

// Purgeable reports whether the record can never be served again at now.
func (p Paste) Purgeable(now time.Time) bool {
	return p.ExpiredAt(now) || p.ViewsExhausted()
}

// Store defines the storage backend contract.
type Store interface {
	// Save inserts or overwrites the record for paste.ID.
	Save(ctx context.Context, paste *Paste) error
	// Get returns the record for id or ErrNotFound.
	Get(ctx context.Context, id string) (*Paste, error)
	// DeleteExpired removes pastes whose expiry is at or before the provided
	// time as well as pastes whose view budget is exhausted.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
	Close() error
}
