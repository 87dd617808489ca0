// Package vectorstore defines the document-collection contract used by
// vector-backed memory levels, and a chromem-go implementation of it.
//
// Collections hold documents with an ID, string metadata, opaque content
// and an embedding. Levels keep their authoritative record in Content and
// use the embedding only for similarity queries, since stores are free to
// normalise stored vectors.
package vectorstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when no document has the requested ID.
	ErrNotFound = errors.New("vectorstore: document not found")

	// ErrUnavailable marks failures of the underlying store.
	ErrUnavailable = errors.New("vectorstore: store unavailable")
)

// Document is a single stored item.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// Match is a Document returned from a similarity query.
type Match struct {
	Document
	Similarity float32
}

// Collection is a named set of documents.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// Add inserts or replaces documents by ID.
	Add(ctx context.Context, docs ...Document) error

	// Get returns the document with the given ID or ErrNotFound.
	Get(ctx context.Context, id string) (Document, error)

	// Query returns up to n documents most similar to embedding whose
	// metadata matches every pair in where. n larger than the collection is
	// clamped; an empty collection yields no matches.
	Query(ctx context.Context, embedding []float32, n int, where map[string]string) ([]Match, error)

	// Delete removes documents by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids ...string) error

	// Count returns the number of stored documents.
	Count() int
}

// Store manages collections.
type Store interface {
	GetOrCreateCollection(ctx context.Context, name string) (Collection, error)
	DeleteCollection(ctx context.Context, name string) error
	Ping(ctx context.Context) error
	Close() error
}
