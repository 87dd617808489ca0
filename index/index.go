// Package index provides the nearest-neighbour index shared by all memory
// levels of a continuum System.
//
// The index is a secondary structure: the levels own the authoritative copy
// of every entry, and the System keeps the index in sync on writes and
// evictions. Each indexed vector carries a metadata map, conventionally with
// a "level" tag, which search filters inspect.
//
// Search backends are chosen at construction (see Backend). Whatever the
// backend, similarity is reported as 1/(1+d) for Euclidean distance d, so
// scores lie in (0, 1] and an exact match scores 1.
package index

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
)

// ErrDimensionMismatch is returned when a vector does not have the
// dimension the index (or level) was built for.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ErrNonFiniteEmbedding is returned when a vector holds NaN or infinite values.
var ErrNonFiniteEmbedding = errors.New("embedding contains non-finite values")

// LevelKey is the metadata key holding the name of the level that wrote an entry.
const LevelKey = "level"

// Metadata is the free-form tag map stored alongside each vector.
type Metadata map[string]any

// Level returns the level tag, or "" when absent.
func (m Metadata) Level() string {
	s, _ := m[LevelKey].(string)
	return s
}

// FilterFunc decides whether a candidate with the given metadata is acceptable.
type FilterFunc func(Metadata) bool

// Result is a single search hit.
type Result struct {
	Key        string
	Similarity float64
	Metadata   Metadata
}

// CheckDimensions returns ErrDimensionMismatch when len(vec) != want.
func CheckDimensions(want int, vec []float32) error {
	if len(vec) != want {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, want, len(vec))
	}
	return nil
}

// CheckEmbedding validates a vector before it is stored: it must have the
// wanted dimension and only finite components.
func CheckEmbedding(want int, vec []float32) error {
	if err := CheckDimensions(want, vec); err != nil {
		return err
	}
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: component %d is %v", ErrNonFiniteEmbedding, i, v)
		}
	}
	return nil
}

// Similarity converts a distance into the normalised (0, 1] score.
func Similarity(distance float64) float64 {
	return 1 / (1 + distance)
}

type entry struct {
	key       string
	embedding []float32
	metadata  Metadata
}

// Index is a filtered nearest-neighbour index over tagged embeddings.
// It is safe for concurrent use.
type Index struct {
	mu        sync.RWMutex
	dims      int
	backend   Backend
	overFetch int
	logger    *slog.Logger

	entries map[string]*entry // internal id -> entry
	nextID  uint64
	ids     map[string]string // key+level -> internal id
}

// Option configures an Index.
type Option func(*Index)

// WithBackend selects the search backend. The default is NewFlat().
func WithBackend(b Backend) Option {
	return func(ix *Index) {
		if b != nil {
			ix.backend = b
		}
	}
}

// WithOverFetch sets how many raw candidates are fetched per requested
// result before filtering. Values below 1 are ignored. Default 2.
func WithOverFetch(factor int) Option {
	return func(ix *Index) {
		if factor >= 1 {
			ix.overFetch = factor
		}
	}
}

// WithLogger sets the logger used for rejected vectors.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// New creates an empty index for vectors of the given dimension.
func New(dims int, opts ...Option) (*Index, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("index dimension must be positive, got %d", dims)
	}

	ix := &Index{
		dims:      dims,
		backend:   NewFlat(),
		overFetch: 2,
		logger:    slog.Default(),
		entries:   make(map[string]*entry),
		ids:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// Dimensions returns the vector size the index accepts.
func (ix *Index) Dimensions() int {
	return ix.dims
}

// Add indexes embedding under key with the given metadata. An existing entry
// with the same key and level tag is replaced. Vectors of the wrong size are
// rejected with ErrDimensionMismatch and vectors holding NaN or Inf with
// ErrNonFiniteEmbedding.
func (ix *Index) Add(key string, embedding []float32, metadata Metadata) error {
	if err := CheckEmbedding(ix.dims, embedding); err != nil {
		ix.logger.Warn("rejecting vector for index",
			"key", key,
			"level", metadata.Level(),
			"error", err)
		return err
	}

	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	meta := make(Metadata, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	slot := slotKey(key, meta.Level())
	if old, ok := ix.ids[slot]; ok {
		ix.backend.Remove(old)
		delete(ix.entries, old)
	}

	ix.nextID++
	id := strconv.FormatUint(ix.nextID, 10)
	ix.entries[id] = &entry{key: key, embedding: vec, metadata: meta}
	ix.ids[slot] = id
	ix.backend.Add(id, vec)
	return nil
}

// Delete removes the entry indexed under key for the given level tag.
// It reports whether an entry was removed.
func (ix *Index) Delete(key, level string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	slot := slotKey(key, level)
	id, ok := ix.ids[slot]
	if !ok {
		return false
	}

	ix.backend.Remove(id)
	delete(ix.entries, id)
	delete(ix.ids, slot)
	return true
}

// Search returns up to k entries nearest to query, ordered by descending
// similarity. When filter is non-nil only candidates it accepts are
// returned. The backend is asked for max(k, overFetch*k) candidates and the
// scan stops as soon as k accepted results are collected, so heavily
// filtered searches may return fewer than k results.
func (ix *Index) Search(query []float32, k int, filter FilterFunc) ([]Result, error) {
	if err := CheckDimensions(ix.dims, query); err != nil {
		ix.logger.Warn("rejecting query vector", "error", err)
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	// Backends may adjust internal state while searching, so take the write lock.
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if len(ix.entries) == 0 {
		return nil, nil
	}

	fetch := max(k, ix.overFetch*k)
	candidates := ix.backend.Search(query, fetch)

	results := make([]Result, 0, k)
	for _, c := range candidates {
		e, ok := ix.entries[c.ID]
		if !ok {
			continue
		}
		if filter != nil && !filter(e.metadata) {
			continue
		}
		results = append(results, Result{
			Key:        e.key,
			Similarity: Similarity(c.Distance),
			Metadata:   e.metadata,
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// Size returns the number of live entries.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Clear removes every entry.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.backend.Reset()
	ix.entries = make(map[string]*entry)
	ix.ids = make(map[string]string)
}

func slotKey(key, level string) string {
	return level + "\x00" + key
}
