package snapshot

import (
	"context"
	"errors"

	"github.com/trellis-data/trellis/schema"
)

// ErrNotFound is returned when no snapshot exists for an ID.
var ErrNotFound = errors.New("snapshot not found")

// IsNotFound returns true if the error is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store persists canonical snapshot bytes keyed by content identity.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put stores canonical snapshot bytes and returns their ID. Storing the
	// same content twice returns the same ID and keeps a single object.
	Put(ctx context.Context, data []byte) (ID, error)

	// Get returns the canonical bytes for an ID, or ErrNotFound.
	Get(ctx context.Context, id ID) ([]byte, error)

	// Has reports whether a snapshot exists for the ID.
	Has(ctx context.Context, id ID) (bool, error)
}

// PutSchema encodes a schema document and stores it, returning its ID.
func PutSchema(ctx context.Context, s Store, doc *schema.Schema) (ID, error) {
	data, err := Encode(doc)
	if err != nil {
		return "", err
	}
	return s.Put(ctx, data)
}

// GetSchema fetches and decodes the document stored under an ID.
func GetSchema(ctx context.Context, s Store, id ID) (*schema.Schema, error) {
	data, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
