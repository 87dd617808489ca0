// Package encoder defines how payloads become embeddings.
//
// Continuum never derives embeddings from raw domain data itself. Every
// memory level is handed an Encoder at construction and calls it whenever a
// payload has to be placed in, or looked up from, vector space. Encoders must
// be deterministic for a fixed instance: the same payload and hints always
// produce the same vector, and every vector has exactly Dimensions() elements.
//
// Two encoders ship with the package:
//
//   - Hash: hash-seeded unit vectors. Useful in tests and local development
//     where no model is available, since equal payloads map to equal vectors.
//   - Cached: wraps any Encoder with a ristretto cache so repeated payloads
//     skip the underlying model.
package encoder

import "context"

// Context carries optional hints alongside a payload, for example the task a
// query belongs to. Encoders and weight policies may read it; nil is valid.
type Context map[string]any

// Encoder converts a payload of type T into a fixed-dimension embedding.
type Encoder[T any] interface {
	// Encode returns the embedding for data. Implementations must not fail on
	// well-formed input.
	Encode(ctx context.Context, data T, ec Context) ([]float32, error)

	// Dimensions returns the embedding size.
	Dimensions() int
}

// Func adapts a plain function to the Encoder interface.
type Func[T any] struct {
	Dims int
	Fn   func(ctx context.Context, data T, ec Context) ([]float32, error)
}

// Encode calls f.Fn.
func (f Func[T]) Encode(ctx context.Context, data T, ec Context) ([]float32, error) {
	return f.Fn(ctx, data, ec)
}

// Dimensions returns f.Dims.
func (f Func[T]) Dimensions() int {
	return f.Dims
}
