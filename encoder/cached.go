package encoder

import (
	"context"
	"fmt"
	"slices"

	"github.com/dgraph-io/ristretto"
)

// Cached memoises another encoder. Entries are keyed by a digest of the JSON
// payload and hints, so T must marshal deterministically for hits to occur.
// Payloads that fail to marshal bypass the cache.
type Cached[T any] struct {
	inner Encoder[T]
	cache *ristretto.Cache
}

// NewCached wraps inner with a cache holding roughly maxEntries embeddings.
func NewCached[T any](inner Encoder[T], maxEntries int64) (*Cached[T], error) {
	if inner == nil {
		return nil, fmt.Errorf("cached encoder: inner encoder is nil")
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create encode cache: %w", err)
	}

	return &Cached[T]{inner: inner, cache: cache}, nil
}

// Encode returns the cached embedding for data when present, otherwise it
// encodes through the wrapped encoder and stores a copy.
func (c *Cached[T]) Encode(ctx context.Context, data T, ec Context) ([]float32, error) {
	key, err := hashPayload("", data, ec)
	if err != nil {
		return c.inner.Encode(ctx, data, ec)
	}

	if v, ok := c.cache.Get(key); ok {
		return slices.Clone(v.([]float32)), nil
	}

	vec, err := c.inner.Encode(ctx, data, ec)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, slices.Clone(vec), 1)
	return vec, nil
}

// Dimensions returns the wrapped encoder's embedding size.
func (c *Cached[T]) Dimensions() int {
	return c.inner.Dimensions()
}

// Wait blocks until pending cache writes are visible to Encode.
func (c *Cached[T]) Wait() {
	c.cache.Wait()
}

// Close releases the cache.
func (c *Cached[T]) Close() {
	c.cache.Close()
}
