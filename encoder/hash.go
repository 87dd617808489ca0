package encoder

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Hash is a deterministic encoder that derives a unit vector from a hash of
// the JSON form of the payload. It has no notion of semantic similarity:
// only identical payloads (and hints) land on the same point.
type Hash[T any] struct {
	dims int
	salt string
}

// NewHash creates a Hash encoder producing vectors of the given size. The
// salt is mixed into every hash so that two levels sharing a payload type can
// still place the same payload at different points.
func NewHash[T any](dims int, salt string) *Hash[T] {
	if dims <= 0 {
		dims = 384
	}
	return &Hash[T]{dims: dims, salt: salt}
}

// Encode hashes data (and ec, when non-empty) into a unit vector.
func (h *Hash[T]) Encode(ctx context.Context, data T, ec Context) ([]float32, error) {
	seed, err := hashPayload(h.salt, data, ec)
	if err != nil {
		return nil, err
	}

	vec := make([]float32, h.dims)
	for i := range vec {
		// Linear congruential step, mapped to [-1, 1]
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return normalize(vec), nil
}

// Dimensions returns the embedding size.
func (h *Hash[T]) Dimensions() int {
	return h.dims
}

// hashPayload returns a stable 64-bit digest of salt, data and ec.
func hashPayload(salt string, data any, ec Context) (uint64, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	d := xxhash.New()
	_, _ = d.WriteString(salt)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(payload)

	if len(ec) > 0 {
		hints, err := json.Marshal(ec)
		if err != nil {
			return 0, fmt.Errorf("marshal encode context: %w", err)
		}
		_, _ = d.Write([]byte{0})
		_, _ = d.Write(hints)
	}

	return d.Sum64(), nil
}

// normalize scales vec to unit length in place. Zero vectors are returned as is.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}

	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec
}
