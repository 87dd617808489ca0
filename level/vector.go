package level

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/zero-day-ai/continuum/encoder"
	"github.com/zero-day-ai/continuum/vectorstore"
)

// Metadata keys written on every vector document.
const (
	metaLevel     = "level"
	metaKey       = "key"
	metaExpiresAt = "expires_at"
)

// NewVector creates a level that writes through to a vector store
// collection named "<namespace>_<level>". A zero TTL keeps documents
// forever.
func NewVector[T any](cfg Config, dims int, enc encoder.Encoder[T], store vectorstore.Store, opts ...Option) (Level[T], error) {
	if store == nil {
		return nil, fmt.Errorf("%w: %s: vector store is required", ErrInvalidConfig, cfg.Name)
	}
	o := newOptions(opts)

	b := &vectorBackend[T]{
		store: store,
		name:  o.namespace + "_" + cfg.Name,
		level: cfg.Name,
		ttl:   cfg.TTL,
		dims:  dims,
		now:   o.now,
	}
	return newLevel[T](cfg, dims, enc, KindVector, b, o)
}

type vectorBackend[T any] struct {
	store vectorstore.Store
	name  string
	level string
	ttl   time.Duration
	dims  int
	now   func() time.Time

	mu  sync.Mutex
	col vectorstore.Collection
}

func (b *vectorBackend[T]) collection(ctx context.Context) (vectorstore.Collection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.col != nil {
		return b.col, nil
	}
	col, err := b.store.GetOrCreateCollection(ctx, b.name)
	if err != nil {
		return nil, err
	}
	b.col = col
	return col, nil
}

func (b *vectorBackend[T]) save(ctx context.Context, rec record[T]) error {
	content, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %w", errEncodeRecord, err)
	}

	col, err := b.collection(ctx)
	if err != nil {
		return err
	}

	var expires int64
	if b.ttl > 0 {
		expires = b.now().Add(b.ttl).Unix()
	}

	return col.Add(ctx, vectorstore.Document{
		ID:      rec.Entry.Key,
		Content: string(content),
		Metadata: map[string]string{
			metaLevel:     b.level,
			metaKey:       rec.Entry.Key,
			metaExpiresAt: strconv.FormatInt(expires, 10),
		},
		Embedding: rec.Embedding,
	})
}

func (b *vectorBackend[T]) load(ctx context.Context, key string) (record[T], bool, error) {
	var rec record[T]

	col, err := b.collection(ctx)
	if err != nil {
		return rec, false, err
	}

	doc, err := col.Get(ctx, key)
	if errors.Is(err, vectorstore.ErrNotFound) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}
	return b.decode(doc)
}

// decode parses a document, treating expired ones as absent.
func (b *vectorBackend[T]) decode(doc vectorstore.Document) (record[T], bool, error) {
	var rec record[T]

	if exp, _ := strconv.ParseInt(doc.Metadata[metaExpiresAt], 10, 64); exp > 0 && b.now().Unix() >= exp {
		return rec, false, nil
	}
	if err := json.Unmarshal([]byte(doc.Content), &rec); err != nil {
		return rec, false, fmt.Errorf("unmarshal record %s: %w", doc.ID, err)
	}
	return rec, true, nil
}

func (b *vectorBackend[T]) remove(ctx context.Context, keys ...string) error {
	col, err := b.collection(ctx)
	if err != nil {
		return err
	}
	return col.Delete(ctx, keys...)
}

// list enumerates the collection by querying with a unit probe vector for
// every document; ranking is irrelevant here.
func (b *vectorBackend[T]) list(ctx context.Context) ([]record[T], error) {
	col, err := b.collection(ctx)
	if err != nil {
		return nil, err
	}

	probe := make([]float32, b.dims)
	probe[0] = 1

	matches, err := col.Query(ctx, probe, col.Count(), map[string]string{metaLevel: b.level})
	if err != nil {
		return nil, err
	}

	recs := make([]record[T], 0, len(matches))
	for _, m := range matches {
		rec, found, err := b.decode(m.Document)
		if err != nil {
			return nil, err
		}
		if found {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (b *vectorBackend[T]) clear(ctx context.Context) error {
	b.mu.Lock()
	b.col = nil
	b.mu.Unlock()
	return b.store.DeleteCollection(ctx, b.name)
}

func (b *vectorBackend[T]) ping(ctx context.Context) error {
	return b.store.Ping(ctx)
}
