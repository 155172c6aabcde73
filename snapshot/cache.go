package snapshot

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/trellis-data/trellis/schema"
)

// CachingStore wraps a Store with an LRU of decoded schema documents.
// Decoding a large schema on every history or merge operation is the hot
// path this removes; raw byte reads pass straight through.
type CachingStore struct {
	inner   Store
	decoded *lru.Cache[ID, *schema.Schema]
}

// NewCachingStore wraps inner with a decoded-document LRU of the given size.
func NewCachingStore(inner Store, size int) (*CachingStore, error) {
	decoded, err := lru.New[ID, *schema.Schema](size)
	if err != nil {
		return nil, err
	}
	return &CachingStore{inner: inner, decoded: decoded}, nil
}

// Put stores canonical bytes under their content ID.
func (c *CachingStore) Put(ctx context.Context, data []byte) (ID, error) {
	return c.inner.Put(ctx, data)
}

// Get returns the canonical bytes for an ID, or ErrNotFound.
func (c *CachingStore) Get(ctx context.Context, id ID) ([]byte, error) {
	return c.inner.Get(ctx, id)
}

// Has reports whether a snapshot exists for the ID.
func (c *CachingStore) Has(ctx context.Context, id ID) (bool, error) {
	return c.inner.Has(ctx, id)
}

// GetSchema returns the decoded document for an ID. Callers receive their
// own deep copy: snapshots are immutable, and handing out the cached
// document would let one caller's edits leak into another's read.
func (c *CachingStore) GetSchema(ctx context.Context, id ID) (*schema.Schema, error) {
	if doc, ok := c.decoded.Get(id); ok {
		return doc.Clone(), nil
	}

	data, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}

	c.decoded.Add(id, doc)
	return doc.Clone(), nil
}

var _ Store = (*CachingStore)(nil)
