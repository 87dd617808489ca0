package continuum

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/zero-day-ai/continuum/encoder"
	"github.com/zero-day-ai/continuum/health"
	"github.com/zero-day-ai/continuum/index"
	"github.com/zero-day-ai/continuum/level"
)

// Hit is one retrieval result.
type Hit[T any] struct {
	Key        string
	Similarity float64
	Entry      level.Entry[T]
}

// Stats is a snapshot of the whole system.
type Stats struct {
	GlobalStep   int64                  `json:"global_step"`
	LevelCount   int                    `json:"level_count"`
	TotalEntries int                    `json:"total_entries"`
	IndexSize    int                    `json:"index_size"`
	Levels       map[string]level.Stats `json:"levels"`
}

// DefaultLevels returns the standard four tiers, fastest first.
func DefaultLevels() []level.Config {
	return []level.Config{
		level.NewConfig("session", 1, 0.1),
		level.NewConfig("daily", 10, 0.01),
		level.NewConfig("historical", 100, 0.001),
		level.NewConfig("domain", 1000, 0.0001),
	}
}

// System orchestrates a set of levels and the shared index.
//
// Thread-safety: every method takes a single system-wide lock, so
// persistence calls on one level serialise the whole system.
type System[T any] struct {
	mu     sync.Mutex
	dims   int
	levels map[string]level.Level[T]
	order  []string
	index  *index.Index
	step   int64
	policy WeightPolicy
	logger *slog.Logger
	tel    *telemetry

	closers map[string]io.Closer
	closed  bool
}

// New builds a System with one level per config, in order. Any invalid
// config fails construction. Levels backed by a reachable store are
// rehydrated into the index; rehydration problems are logged only.
func New[T any](ctx context.Context, dims int, configs []level.Config, enc encoder.Encoder[T], opts ...Option) (*System[T], error) {
	const op = "continuum.New"

	cfg := &systemConfig{overFetch: 2}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.policy == nil {
		cfg.policy = EqualWeights{}
	}

	if dims <= 0 {
		return nil, newError(op, KindConfiguration, fmt.Errorf("%w: dimensions must be positive, got %d", ErrInvalidConfig, dims))
	}
	if len(configs) == 0 {
		return nil, newError(op, KindConfiguration, fmt.Errorf("%w: at least one level is required", ErrInvalidConfig))
	}

	seen := make(map[string]bool, len(configs))
	for _, c := range configs {
		if err := c.Validate(); err != nil {
			return nil, newError(op, KindConfiguration, err)
		}
		if seen[c.Name] {
			return nil, newError(op, KindConfiguration, fmt.Errorf("%w: duplicate level %q", ErrInvalidConfig, c.Name))
		}
		seen[c.Name] = true
	}

	tel, err := newTelemetry(cfg.tracer, cfg.meterProvider)
	if err != nil {
		return nil, newError(op, KindInternal, err)
	}

	ixOpts := []index.Option{index.WithOverFetch(cfg.overFetch), index.WithLogger(cfg.logger)}
	if cfg.backend != nil {
		ixOpts = append(ixOpts, index.WithBackend(cfg.backend))
	}
	ix, err := index.New(dims, ixOpts...)
	if err != nil {
		return nil, newError(op, KindConfiguration, err)
	}

	levelOpts := []level.Option{level.WithLogger(cfg.logger), level.WithNamespace(cfg.namespace)}
	if cfg.clock != nil {
		levelOpts = append(levelOpts, level.WithClock(cfg.clock))
	}
	backends := level.Backends{KV: cfg.kv, Vector: cfg.vector}

	s := &System[T]{
		dims:    dims,
		levels:  make(map[string]level.Level[T], len(configs)),
		index:   ix,
		policy:  cfg.policy,
		logger:  cfg.logger,
		tel:     tel,
		closers: make(map[string]io.Closer),
	}
	if cfg.kv != nil {
		s.closers["kv store"] = cfg.kv
	}
	if cfg.vector != nil {
		s.closers["vector store"] = cfg.vector
	}

	for _, c := range configs {
		levelEnc := enc
		if override, ok := cfg.levelEncoders[c.Name]; ok {
			typed, ok := override.(encoder.Encoder[T])
			if !ok {
				return nil, newError(op, KindConfiguration, fmt.Errorf("%w: encoder for level %q has the wrong payload type", ErrInvalidConfig, c.Name))
			}
			levelEnc = typed
		}

		lvl, err := level.Build[T](c, dims, levelEnc, backends, levelOpts...)
		if err != nil {
			return nil, classify(op, err).WithContext(map[string]any{"level": c.Name})
		}
		s.levels[c.Name] = lvl
		s.order = append(s.order, c.Name)
	}

	s.rehydrate(ctx)
	return s, nil
}

// rehydrate re-indexes entries recovered from persistence backends.
func (s *System[T]) rehydrate(ctx context.Context) {
	for _, name := range s.order {
		lvl := s.levels[name]
		if lvl.Kind() == level.KindMemory {
			continue
		}
		for _, rec := range lvl.Rehydrate(ctx) {
			if err := s.index.Add(rec.Key, rec.Embedding, levelMeta(name)); err != nil {
				s.logger.Warn("failed to re-index recovered entry",
					"memory_level", name,
					"key", rec.Key,
					"error", err)
			}
		}
	}
}

func levelMeta(name string) index.Metadata {
	return index.Metadata{index.LevelKey: name}
}

// Store writes data under key unconditionally, bypassing the surprise gate.
// A nil embedding is computed by the level encoder.
func (s *System[T]) Store(ctx context.Context, levelName, key string, data T, embedding []float32) (err error) {
	const op = "System.Store"
	ctx, span := s.tel.start(ctx, op, levelAttr(levelName), attribute.String("memory.key", key))
	defer func() { finish(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	lvl, ok := s.levels[levelName]
	if !ok {
		return unknownLevel(op, levelName)
	}

	res, err := lvl.Put(ctx, key, data, embedding, 0)
	if err != nil {
		return classify(op, err).WithContext(map[string]any{"level": levelName, "key": key})
	}
	if err := s.sync(levelName, key, res); err != nil {
		return classify(op, err)
	}

	s.tel.storeCount.Add(ctx, 1, metric.WithAttributes(levelAttr(levelName)))
	return nil
}

// Insert stores data under a freshly generated key and returns the key.
func (s *System[T]) Insert(ctx context.Context, levelName string, data T) (string, error) {
	key := uuid.NewString()
	if err := s.Store(ctx, levelName, key, data, nil); err != nil {
		return "", err
	}
	return key, nil
}

// sync mirrors a level write into the index.
func (s *System[T]) sync(levelName, key string, res level.WriteResult) error {
	for _, evicted := range res.Evicted {
		s.index.Delete(evicted, levelName)
	}
	if !res.Accepted || slices.Contains(res.Evicted, key) {
		return nil
	}
	return s.index.Add(key, res.Embedding, levelMeta(levelName))
}

// UpdateLevel offers data to the level's surprise gate and reports whether
// it was kept.
func (s *System[T]) UpdateLevel(ctx context.Context, levelName, key string, data T, surprise float64) (accepted bool, err error) {
	const op = "System.UpdateLevel"
	ctx, span := s.tel.start(ctx, op,
		levelAttr(levelName),
		attribute.String("memory.key", key),
		attribute.Float64("memory.surprise", surprise),
	)
	defer func() {
		span.SetAttributes(attribute.Bool("memory.accepted", accepted))
		finish(span, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	lvl, ok := s.levels[levelName]
	if !ok {
		return false, unknownLevel(op, levelName)
	}

	res, err := lvl.Update(ctx, key, data, surprise)
	if err != nil {
		return false, classify(op, err).WithContext(map[string]any{"level": levelName, "key": key})
	}

	attrs := metric.WithAttributes(levelAttr(levelName))
	if !res.Accepted {
		s.tel.updateRejected.Add(ctx, 1, attrs)
		return false, nil
	}
	if err := s.sync(levelName, key, res); err != nil {
		return false, classify(op, err)
	}
	s.tel.updateAccepted.Add(ctx, 1, attrs)
	return true, nil
}

// Retrieve returns up to k entries of one level most similar to query.
func (s *System[T]) Retrieve(ctx context.Context, query T, levelName string, k int) (hits []Hit[T], err error) {
	const op = "System.Retrieve"
	ctx, span := s.tel.start(ctx, op, levelAttr(levelName), attribute.Int("k", k))
	defer func() { finish(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retrieve(ctx, op, query, levelName, k)
}

func (s *System[T]) retrieve(ctx context.Context, op string, query T, levelName string, k int) ([]Hit[T], error) {
	lvl, ok := s.levels[levelName]
	if !ok {
		return nil, unknownLevel(op, levelName)
	}

	vec, err := lvl.Encode(ctx, query, nil)
	if err != nil {
		return nil, classify(op, err).WithContext(map[string]any{"level": levelName})
	}

	results, err := s.index.Search(vec, k, index.LevelFilter(levelName))
	if err != nil {
		return nil, classify(op, err)
	}

	keys := make([]string, len(results))
	for i, r := range results {
		keys[i] = r.Key
	}
	entries := lvl.Hydrate(ctx, keys)

	hits := make([]Hit[T], 0, len(results))
	for _, r := range results {
		entry, ok := entries[r.Key]
		if !ok {
			continue
		}
		hits = append(hits, Hit[T]{Key: r.Key, Similarity: r.Similarity, Entry: entry})
	}

	attrs := metric.WithAttributes(levelAttr(levelName))
	s.tel.retrieveCount.Add(ctx, 1, attrs)
	s.tel.retrieveResults.Record(ctx, int64(len(hits)), attrs)
	return hits, nil
}

// RetrieveSimilar runs Retrieve for each named level. Unknown names and
// failing levels are logged and left out of the result. No names means
// every level.
func (s *System[T]) RetrieveSimilar(ctx context.Context, query T, levels []string, k int) map[string][]Hit[T] {
	const op = "System.RetrieveSimilar"
	ctx, span := s.tel.start(ctx, op, attribute.StringSlice("memory.levels", levels), attribute.Int("k", k))
	defer func() { finish(span, nil) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(levels) == 0 {
		levels = s.order
	}

	out := make(map[string][]Hit[T], len(levels))
	for _, name := range levels {
		if _, ok := s.levels[name]; !ok {
			s.logger.Warn("skipping unknown memory level", "memory_level", name)
			continue
		}
		hits, err := s.retrieve(ctx, op, query, name, k)
		if err != nil {
			s.logger.Warn("retrieval failed", "memory_level", name, "error", err)
			continue
		}
		out[name] = hits
	}
	return out
}

// EncodeMultiLevel fuses one embedding per level into a weighted mean.
// With nil weights the configured WeightPolicy decides; levels missing from
// a weight map count as zero. If every weight is zero, levels are weighted
// equally.
func (s *System[T]) EncodeMultiLevel(ctx context.Context, data T, ec encoder.Context, weights map[string]float64) (vec []float32, err error) {
	const op = "System.EncodeMultiLevel"
	ctx, span := s.tel.start(ctx, op)
	defer func() { finish(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if weights == nil {
		weights = s.policy.Weights(ec, slices.Clone(s.order))
	}

	for name, w := range weights {
		if !validWeight(w) {
			return nil, newError(op, KindValidation, fmt.Errorf("%w: %s=%v", ErrInvalidWeights, name, w))
		}
		if _, ok := s.levels[name]; !ok {
			s.logger.Warn("ignoring weight for unknown memory level", "memory_level", name)
		}
	}

	names := make([]string, 0, len(s.order))
	ws := make([]float64, 0, len(s.order))
	var total float64
	for _, name := range s.order {
		if w := weights[name]; w > 0 {
			names = append(names, name)
			ws = append(ws, w)
			total += w
		}
	}
	if total == 0 {
		names = slices.Clone(s.order)
		ws = ws[:0]
		for range names {
			ws = append(ws, 1)
		}
	}

	vecs := make([][]float32, len(names))
	for i, name := range names {
		v, err := s.levels[name].Encode(ctx, data, ec)
		if err != nil {
			return nil, classify(op, err).WithContext(map[string]any{"level": name})
		}
		vecs[i] = v
	}

	return fuse(s.dims, vecs, ws), nil
}

// Step advances the global step and every level's step.
func (s *System[T]) Step() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.step++
	for _, name := range s.order {
		s.levels[name].Step()
	}
	return s.step
}

// Stats returns a snapshot of system and per-level counters.
func (s *System[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		GlobalStep: s.step,
		LevelCount: len(s.levels),
		IndexSize:  s.index.Size(),
		Levels:     make(map[string]level.Stats, len(s.levels)),
	}
	for name, lvl := range s.levels {
		ls := lvl.Stats()
		st.Levels[name] = ls
		st.TotalEntries += ls.MemorySize
	}
	return st
}

// Clear empties every level and the index and resets all step counters.
func (s *System[T]) Clear(ctx context.Context) {
	ctx, span := s.tel.start(ctx, "System.Clear")
	defer func() { finish(span, nil) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range s.order {
		lvl := s.levels[name]
		lvl.Clear(ctx)
		lvl.SyncStep(0)
	}
	s.index.Clear()
	s.step = 0
}

// Level returns the named level.
func (s *System[T]) Level(name string) (level.Level[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lvl, ok := s.levels[name]
	return lvl, ok
}

// Levels lists level names in configuration order.
func (s *System[T]) Levels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// Health combines the backend status of every level. A closed System is
// unhealthy since its persistence stores are gone.
func (s *System[T]) Health(ctx context.Context) health.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return health.Unhealthy("memory system closed", map[string]any{"levels": len(s.order)})
	}

	checks := make([]health.Status, 0, len(s.order))
	for _, name := range s.order {
		checks = append(checks, s.levels[name].Health(ctx))
	}
	return health.Combine(checks...)
}

// Close releases the persistence stores handed to New.
func (s *System[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, c := range s.closers {
		closeWithLog(c, s.logger, name)
	}
	s.closers = map[string]io.Closer{}
	s.closed = true
	return nil
}
