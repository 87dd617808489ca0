package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemOptions configures a ChromemStore.
type ChromemOptions struct {
	// Path enables on-disk persistence when non-empty.
	Path string

	// Compress gzips persisted documents.
	Compress bool
}

// ChromemStore wraps chromem-go, a pure Go embedded vector database.
// Embeddings are always supplied by the caller.
type ChromemStore struct {
	db          *chromem.DB
	mu          sync.Mutex
	collections map[string]*chromemCollection
	closed      bool
}

// NewChromemStore opens an in-memory database, or a persistent one when
// opts.Path is set.
func NewChromemStore(opts ChromemOptions) (*ChromemStore, error) {
	db := chromem.NewDB()
	if opts.Path != "" {
		var err error
		db, err = chromem.NewPersistentDB(opts.Path, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db at %s: %w", opts.Path, err)
		}
	}

	return &ChromemStore{
		db:          db,
		collections: make(map[string]*chromemCollection),
	}, nil
}

// errEmbeddingRequired is returned by the collection embedding func; levels
// never ask chromem to compute embeddings.
var errEmbeddingRequired = errors.New("vectorstore: documents must carry an embedding")

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errEmbeddingRequired
}

// GetOrCreateCollection returns the named collection, creating it if needed.
func (s *ChromemStore) GetOrCreateCollection(_ context.Context, name string) (Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("%w: store closed", ErrUnavailable)
	}
	if col, ok := s.collections[name]; ok {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection(name, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}

	c := &chromemCollection{name: name, col: col, store: s}
	s.collections[name] = c
	return c, nil
}

// DeleteCollection drops the named collection and its documents.
func (s *ChromemStore) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.collections, name)
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	return nil
}

// Ping reports whether the store is open. The database is embedded, so it
// cannot become unreachable otherwise.
func (s *ChromemStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: store closed", ErrUnavailable)
	}
	return nil
}

// Close marks the store closed. Persistent databases write through on every
// change, so there is nothing to flush.
func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.collections = make(map[string]*chromemCollection)
	return nil
}

func (s *ChromemStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type chromemCollection struct {
	name  string
	col   *chromem.Collection
	store *ChromemStore
}

func (c *chromemCollection) Name() string { return c.name }

func (c *chromemCollection) Count() int { return c.col.Count() }

func (c *chromemCollection) Add(ctx context.Context, docs ...Document) error {
	if c.store.isClosed() {
		return fmt.Errorf("%w: store closed", ErrUnavailable)
	}

	for _, d := range docs {
		if len(d.Embedding) == 0 {
			return errEmbeddingRequired
		}
		// An existing ID is overwritten.
		err := c.col.AddDocument(ctx, chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  d.Metadata,
			Embedding: append([]float32(nil), d.Embedding...),
		})
		if err != nil {
			return fmt.Errorf("add document %s: %w", d.ID, err)
		}
	}
	return nil
}

func (c *chromemCollection) Get(ctx context.Context, id string) (Document, error) {
	if c.store.isClosed() {
		return Document{}, fmt.Errorf("%w: store closed", ErrUnavailable)
	}

	doc, err := c.col.GetByID(ctx, id)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fromChromem(doc), nil
}

func (c *chromemCollection) Query(ctx context.Context, embedding []float32, n int, where map[string]string) ([]Match, error) {
	if c.store.isClosed() {
		return nil, fmt.Errorf("%w: store closed", ErrUnavailable)
	}

	// chromem requires 0 < n <= document count.
	count := c.col.Count()
	if n > count {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	results, err := c.col.QueryEmbedding(ctx, embedding, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", c.name, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			Document: Document{
				ID:        r.ID,
				Content:   r.Content,
				Metadata:  r.Metadata,
				Embedding: r.Embedding,
			},
			Similarity: r.Similarity,
		})
	}
	return matches, nil
}

func (c *chromemCollection) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if c.store.isClosed() {
		return fmt.Errorf("%w: store closed", ErrUnavailable)
	}
	if err := c.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete from collection %s: %w", c.name, err)
	}
	return nil
}

func fromChromem(d chromem.Document) Document {
	return Document{
		ID:        d.ID,
		Content:   d.Content,
		Metadata:  d.Metadata,
		Embedding: d.Embedding,
	}
}
