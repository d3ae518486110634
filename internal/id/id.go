package id

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const defaultLength = 12

// Scheme selects how identifiers are drawn.
type Scheme string

const (
	// SchemeNanoID draws length characters from the nanoid URL-safe alphabet.
	SchemeNanoID Scheme = "nanoid"
	// SchemeUUID encodes a random 128-bit UUID as 22 unpadded base64url characters.
	SchemeUUID Scheme = "uuid"
)

// ParseScheme validates a scheme name. An empty name selects nanoid.
func ParseScheme(name string) (Scheme, error) {
	switch Scheme(name) {
	case "", SchemeNanoID:
		return SchemeNanoID, nil
	case SchemeUUID:
		return SchemeUUID, nil
	}
	return "", fmt.Errorf("unknown id scheme %q", name)
}

// Generator produces unique, URL-safe identifiers.
type Generator struct {
	length int
	scheme Scheme
}

// New returns a nanoid Generator with the provided length. If length <= 0, a sane default is used.
func New(length int) *Generator {
	return NewWithScheme(SchemeNanoID, length)
}

// NewWithScheme returns a Generator for scheme. length only applies to nanoid.
func NewWithScheme(scheme Scheme, length int) *Generator {
	if length <= 0 {
		length = defaultLength
	}
	if scheme == "" {
		scheme = SchemeNanoID
	}
	return &Generator{length: length, scheme: scheme}
}

// Generate returns a new identifier.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if g.scheme == SchemeUUID {
		u, err := uuid.NewRandom()
		if err != nil {
			return "", fmt.Errorf("generate uuid: %w", err)
		}
		return base64.RawURLEncoding.EncodeToString(u[:]), nil
	}
	return gonanoid.New(g.length)
}
