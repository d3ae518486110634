package paste

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned by Create when the content is empty.
	ErrInvalidInput = errors.New("content is required")

	// ErrUnavailable is the single outward-facing lookup failure. Both
	// ErrNotFound and ErrExpired match it so callers can answer them alike.
	ErrUnavailable = errors.New("paste not found or expired")

	// ErrNotFound matches lookups of identifiers with no record.
	ErrNotFound = errors.New("paste not found")

	// ErrExpired matches lookups of pastes past their TTL or view budget.
	ErrExpired = errors.New("paste expired")

	// ErrStorage matches any failure reported by the store.
	ErrStorage = errors.New("storage failure")
)

// Reason records why a lookup was refused.
type Reason string

const (
	ReasonMissing Reason = "missing"
	ReasonTTL     Reason = "ttl"
	ReasonViews   Reason = "views"
)

// LookupError is returned by Fetch and Inspect when a paste cannot be served.
type LookupError struct {
	ID     string
	Reason Reason
}

func (e *LookupError) Error() string {
	switch e.Reason {
	case ReasonMissing:
		return fmt.Sprintf("paste %q not found", e.ID)
	case ReasonTTL:
		return fmt.Sprintf("paste %q expired: ttl elapsed", e.ID)
	case ReasonViews:
		return fmt.Sprintf("paste %q expired: view limit reached", e.ID)
	}
	return fmt.Sprintf("paste %q unavailable", e.ID)
}

// Is lets errors.Is match the sentinel for the reason as well as ErrUnavailable.
func (e *LookupError) Is(target error) bool {
	switch target {
	case ErrUnavailable:
		return true
	case ErrNotFound:
		return e.Reason == ReasonMissing
	case ErrExpired:
		return e.Reason == ReasonTTL || e.Reason == ReasonViews
	}
	return false
}

// StorageError wraps a store failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// ReasonOf extracts the refusal reason from err, if any.
func ReasonOf(err error) (Reason, bool) {
	var le *LookupError
	if errors.As(err, &le) {
		return le.Reason, true
	}
	return "", false
}
