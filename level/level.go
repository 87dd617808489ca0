package level

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/zero-day-ai/continuum/encoder"
	"github.com/zero-day-ai/continuum/health"
	"github.com/zero-day-ai/continuum/index"
)

// ErrInvalidKey is returned when a write is attempted with an empty key.
var ErrInvalidKey = errors.New("memory key cannot be empty")

// errEncodeRecord marks a record the backend could not serialise. It says
// nothing about backend reachability.
var errEncodeRecord = errors.New("encode record")

// Level is one tier of the continuum memory.
//
// Implementations are safe for concurrent use. Methods that talk to a
// persistence backend take the caller's context; backend failures are
// logged and never returned.
type Level[T any] interface {
	// Name returns the configured level name.
	Name() string

	// Config returns the level configuration.
	Config() Config

	// Kind reports which backend variant serves the level.
	Kind() Kind

	// Encode converts data into this level's embedding. The result always
	// has the system dimension; anything else is rejected with
	// index.ErrDimensionMismatch.
	Encode(ctx context.Context, data T, ec encoder.Context) ([]float32, error)

	// ShouldUpdate reports whether an update with the given surprise would
	// be kept at the current step.
	ShouldUpdate(surprise float64) bool

	// Update writes data under key if ShouldUpdate holds, evicting the
	// oldest entry when the level is full. A rejected update returns a
	// zero WriteResult and no error.
	Update(ctx context.Context, key string, data T, surprise float64) (WriteResult, error)

	// Put writes unconditionally. A nil embedding is computed with Encode.
	// Update counters and the surprise mean are left untouched.
	Put(ctx context.Context, key string, data T, embedding []float32, surprise float64) (WriteResult, error)

	// Get returns a copy of the embedding stored under key.
	Get(ctx context.Context, key string) ([]float32, bool)

	// Metadata returns the entry stored under key.
	Metadata(ctx context.Context, key string) (Entry[T], bool)

	// Hydrate looks up the entries for a set of retrieved keys and counts
	// one retrieval. Missing keys are absent from the result.
	Hydrate(ctx context.Context, keys []string) map[string]Entry[T]

	// Keys lists the held keys in write order.
	Keys(ctx context.Context) []string

	// Len returns the number of held entries.
	Len() int

	// Step advances the level step counter and returns the new value.
	Step() int64

	// CurrentStep returns the level step counter.
	CurrentStep() int64

	// SyncStep sets the level step counter.
	SyncStep(n int64)

	// Clear drops every entry, including the persisted copies.
	Clear(ctx context.Context)

	// Stats returns a snapshot of the level counters.
	Stats() Stats

	// Rehydrate reloads persisted entries, keeping at most Capacity of the
	// newest, and returns their embeddings for re-indexing.
	Rehydrate(ctx context.Context) []Recovered

	// Health reports the reachability of the level backend.
	Health(ctx context.Context) health.Status
}

// Option configures a level.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	now       func() time.Time
	namespace string
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the clock used to timestamp entries.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithNamespace prefixes persisted keys and collection names. Default "cms".
func WithNamespace(ns string) Option {
	return func(o *options) {
		if ns != "" {
			o.namespace = ns
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:    slog.Default(),
		now:       time.Now,
		namespace: "cms",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// backend persists records for a level. Implementations return errors
// freely; the level decides how to degrade.
type backend[T any] interface {
	save(ctx context.Context, rec record[T]) error
	load(ctx context.Context, key string) (record[T], bool, error)
	remove(ctx context.Context, keys ...string) error
	list(ctx context.Context) ([]record[T], error)
	clear(ctx context.Context) error
	ping(ctx context.Context) error
}

// level is the shared implementation. A nil backend makes it purely
// in-memory.
type level[T any] struct {
	mu      sync.Mutex
	cfg     Config
	kind    Kind
	dims    int
	enc     encoder.Encoder[T]
	backend backend[T]
	logger  *slog.Logger
	now     func() time.Time

	entries   map[string]*record[T]
	seq       uint64
	step      int64
	stats     Stats
	connected bool
}

func newLevel[T any](cfg Config, dims int, enc encoder.Encoder[T], kind Kind, b backend[T], o options) (*level[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dims <= 0 {
		return nil, fmt.Errorf("%w: %s: dimensions must be positive, got %d", ErrInvalidConfig, cfg.Name, dims)
	}
	if enc == nil {
		return nil, fmt.Errorf("%w: %s: encoder is required", ErrInvalidConfig, cfg.Name)
	}
	if d := enc.Dimensions(); d > 0 && d != dims {
		return nil, fmt.Errorf("%w: %s: encoder produces %d, system uses %d", index.ErrDimensionMismatch, cfg.Name, d, dims)
	}

	return &level[T]{
		cfg:     cfg,
		kind:    kind,
		dims:    dims,
		enc:     enc,
		backend: b,
		logger:  o.logger.With("memory_level", cfg.Name, "kind", string(kind)),
		now:     o.now,
		entries: make(map[string]*record[T]),
	}, nil
}

// NewMemory creates a purely in-process level.
func NewMemory[T any](cfg Config, dims int, enc encoder.Encoder[T], opts ...Option) (Level[T], error) {
	return newLevel[T](cfg, dims, enc, KindMemory, nil, newOptions(opts))
}

func (l *level[T]) Name() string   { return l.cfg.Name }
func (l *level[T]) Config() Config { return l.cfg }
func (l *level[T]) Kind() Kind     { return l.kind }

func (l *level[T]) Encode(ctx context.Context, data T, ec encoder.Context) ([]float32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.encode(ctx, data, ec)
}

func (l *level[T]) encode(ctx context.Context, data T, ec encoder.Context) ([]float32, error) {
	l.stats.TotalEncodes++

	vec, err := l.enc.Encode(ctx, data, ec)
	if err != nil {
		return nil, fmt.Errorf("encode for level %s: %w", l.cfg.Name, err)
	}
	if err := index.CheckEmbedding(l.dims, vec); err != nil {
		l.logger.Warn("rejecting encoder output", "error", err)
		return nil, err
	}
	return vec, nil
}

func (l *level[T]) ShouldUpdate(surprise float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shouldUpdate(surprise)
}

func (l *level[T]) shouldUpdate(surprise float64) bool {
	return !l.cfg.Frozen &&
		l.step%int64(l.cfg.UpdateFreq) == 0 &&
		surprise > l.cfg.SurpriseThreshold
}

func (l *level[T]) Update(ctx context.Context, key string, data T, surprise float64) (WriteResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.shouldUpdate(surprise) {
		return WriteResult{}, nil
	}
	if key == "" {
		return WriteResult{}, ErrInvalidKey
	}

	vec, err := l.encode(ctx, data, nil)
	if err != nil {
		return WriteResult{}, err
	}

	evicted := l.write(ctx, key, data, vec, surprise)

	l.stats.TotalUpdates++
	l.stats.AvgSurprise += (surprise - l.stats.AvgSurprise) / float64(l.stats.TotalUpdates)
	l.stats.LastUpdateStep = l.step

	return WriteResult{Accepted: true, Embedding: slices.Clone(vec), Evicted: evicted}, nil
}

func (l *level[T]) Put(ctx context.Context, key string, data T, embedding []float32, surprise float64) (WriteResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if key == "" {
		return WriteResult{}, ErrInvalidKey
	}

	vec := embedding
	if vec == nil {
		var err error
		if vec, err = l.encode(ctx, data, nil); err != nil {
			return WriteResult{}, err
		}
	} else if err := index.CheckEmbedding(l.dims, vec); err != nil {
		l.logger.Warn("rejecting supplied embedding", "key", key, "error", err)
		return WriteResult{}, err
	}

	evicted := l.write(ctx, key, data, vec, surprise)
	return WriteResult{Accepted: true, Embedding: slices.Clone(vec), Evicted: evicted}, nil
}

// write upserts the record, evicts overflow and mirrors both to the backend.
func (l *level[T]) write(ctx context.Context, key string, data T, vec []float32, surprise float64) []string {
	l.seq++
	rec := &record[T]{
		Entry: Entry[T]{
			Key:       key,
			Payload:   data,
			Surprise:  surprise,
			WriteStep: l.step,
			Timestamp: l.now(),
		},
		Embedding: slices.Clone(vec),
		Seq:       l.seq,
	}
	l.entries[key] = rec

	evicted := l.evictOverflow()
	if l.available(ctx) && !slices.Contains(evicted, key) {
		err := l.backend.save(ctx, *rec)
		switch {
		case errors.Is(err, errEncodeRecord):
			l.logger.Warn("write skipped, record cannot be persisted", "key", key, "error", err)
		case err != nil:
			l.fail("save", key, err)
		}
	}
	l.forget(ctx, evicted)
	return evicted
}

// evictOverflow removes the oldest entries until the level fits its
// capacity. Timestamp ties go to the earlier write.
func (l *level[T]) evictOverflow() []string {
	var evicted []string
	for len(l.entries) > l.cfg.Capacity {
		var oldest *record[T]
		for _, rec := range l.entries {
			if oldest == nil || older(rec, oldest) {
				oldest = rec
			}
		}
		delete(l.entries, oldest.Entry.Key)
		evicted = append(evicted, oldest.Entry.Key)
		l.logger.Debug("evicted entry", "key", oldest.Entry.Key)
	}
	return evicted
}

func older[T any](a, b *record[T]) bool {
	if !a.Entry.Timestamp.Equal(b.Entry.Timestamp) {
		return a.Entry.Timestamp.Before(b.Entry.Timestamp)
	}
	return a.Seq < b.Seq
}

// forget deletes evicted keys from the backend.
func (l *level[T]) forget(ctx context.Context, keys []string) {
	if len(keys) == 0 || !l.available(ctx) {
		return
	}
	if err := l.backend.remove(ctx, keys...); err != nil {
		l.fail("remove", keys[0], err)
	}
}

func (l *level[T]) Get(ctx context.Context, key string) ([]float32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.lookup(ctx, key)
	if !ok {
		return nil, false
	}
	return slices.Clone(rec.Embedding), true
}

func (l *level[T]) Metadata(ctx context.Context, key string) (Entry[T], bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.lookup(ctx, key)
	if !ok {
		return Entry[T]{}, false
	}
	return rec.Entry, true
}

func (l *level[T]) Hydrate(ctx context.Context, keys []string) map[string]Entry[T] {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.TotalRetrievals++

	out := make(map[string]Entry[T], len(keys))
	for _, key := range keys {
		if rec, ok := l.lookup(ctx, key); ok {
			out[key] = rec.Entry
		}
	}
	return out
}

// lookup serves from the mirror and falls through to the backend on a
// miss. Backend hits are returned without entering the mirror, so reads
// leave the level unchanged.
func (l *level[T]) lookup(ctx context.Context, key string) (*record[T], bool) {
	if rec, ok := l.entries[key]; ok {
		return rec, true
	}
	if !l.available(ctx) {
		return nil, false
	}

	rec, found, err := l.backend.load(ctx, key)
	if err != nil {
		l.fail("load", key, err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	if err := index.CheckEmbedding(l.dims, rec.Embedding); err != nil {
		l.logger.Warn("ignoring persisted entry", "key", key, "error", err)
		return nil, false
	}
	return &rec, true
}

func (l *level[T]) Keys(context.Context) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs := make([]*record[T], 0, len(l.entries))
	for _, rec := range l.entries {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })

	keys := make([]string, len(recs))
	for i, rec := range recs {
		keys[i] = rec.Entry.Key
	}
	return keys
}

func (l *level[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *level[T]) Step() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.step++
	return l.step
}

func (l *level[T]) CurrentStep() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.step
}

func (l *level[T]) SyncStep(n int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.step = n
}

func (l *level[T]) Clear(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]*record[T])
	if l.available(ctx) {
		if err := l.backend.clear(ctx); err != nil {
			l.fail("clear", "", err)
		}
	}
}

func (l *level[T]) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stats
	s.MemorySize = len(l.entries)
	return s
}

func (l *level[T]) Rehydrate(ctx context.Context) []Recovered {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.available(ctx) {
		return nil
	}

	recs, err := l.backend.list(ctx)
	if err != nil {
		l.fail("list", "", err)
		return nil
	}

	sort.Slice(recs, func(i, j int) bool { return older(&recs[i], &recs[j]) })
	loaded := make(map[string]bool, len(recs))
	for i := range recs {
		rec := recs[i]
		if err := index.CheckEmbedding(l.dims, rec.Embedding); err != nil {
			l.logger.Warn("ignoring persisted entry", "key", rec.Entry.Key, "error", err)
			continue
		}
		l.entries[rec.Entry.Key] = &rec
		l.seq = max(l.seq, rec.Seq)
		loaded[rec.Entry.Key] = true
	}

	evicted := l.evictOverflow()
	l.forget(ctx, evicted)

	var out []Recovered
	for key := range loaded {
		if rec, ok := l.entries[key]; ok {
			out = append(out, Recovered{Key: key, Embedding: slices.Clone(rec.Embedding)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return l.entries[out[i].Key].Seq < l.entries[out[j].Key].Seq })

	l.logger.Info("rehydrated level", "entries", len(out), "evicted", len(evicted))
	return out
}

func (l *level[T]) Health(ctx context.Context) health.Status {
	if l.backend == nil {
		return health.BackendCheck(ctx, l.cfg.Name, nil)
	}
	return health.BackendCheck(ctx, l.cfg.Name, l.backend.ping)
}

// available reports whether the backend may be used, probing it again when
// an earlier call marked it disconnected.
func (l *level[T]) available(ctx context.Context) bool {
	if l.backend == nil {
		return false
	}
	if l.connected {
		return true
	}
	if err := l.backend.ping(ctx); err != nil {
		l.logger.Debug("backend unreachable, serving from memory", "error", err)
		return false
	}
	l.connected = true
	l.logger.Info("backend connected")
	return true
}

// fail marks the backend disconnected after a failed call.
func (l *level[T]) fail(op, key string, err error) {
	l.connected = false
	l.logger.Warn("backend call failed, degrading to memory",
		"op", op,
		"key", key,
		"error", err,
	)
}
