package level

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zero-day-ai/continuum/encoder"
	"github.com/zero-day-ai/continuum/kvstore"
)

// NewKV creates a level that writes through to a TTL key-value store.
// Records live at "<namespace>:<level>:<key>".
func NewKV[T any](cfg Config, dims int, enc encoder.Encoder[T], store kvstore.Store, opts ...Option) (Level[T], error) {
	if store == nil {
		return nil, fmt.Errorf("%w: %s: kv store is required", ErrInvalidConfig, cfg.Name)
	}
	o := newOptions(opts)

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL(cfg.Name)
	}

	b := &kvBackend[T]{
		store:  store,
		prefix: o.namespace + ":" + cfg.Name + ":",
		ttl:    ttl,
	}
	return newLevel[T](cfg, dims, enc, KindKV, b, o)
}

type kvBackend[T any] struct {
	store  kvstore.Store
	prefix string
	ttl    time.Duration
}

func (b *kvBackend[T]) save(ctx context.Context, rec record[T]) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %w", errEncodeRecord, err)
	}
	return b.store.Set(ctx, b.prefix+rec.Entry.Key, data, b.ttl)
}

func (b *kvBackend[T]) load(ctx context.Context, key string) (record[T], bool, error) {
	var rec record[T]

	data, err := b.store.Get(ctx, b.prefix+key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}

	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, false, fmt.Errorf("unmarshal record %s: %w", key, err)
	}
	return rec, true, nil
}

func (b *kvBackend[T]) remove(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.prefix + k
	}
	return b.store.Delete(ctx, full...)
}

func (b *kvBackend[T]) list(ctx context.Context) ([]record[T], error) {
	keys, err := b.store.Keys(ctx, b.prefix+"*")
	if err != nil {
		return nil, err
	}

	recs := make([]record[T], 0, len(keys))
	for _, full := range keys {
		rec, found, err := b.load(ctx, strings.TrimPrefix(full, b.prefix))
		if err != nil {
			return nil, err
		}
		// Expired between KEYS and GET.
		if !found {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (b *kvBackend[T]) clear(ctx context.Context) error {
	keys, err := b.store.Keys(ctx, b.prefix+"*")
	if err != nil {
		return err
	}
	return b.store.Delete(ctx, keys...)
}

func (b *kvBackend[T]) ping(ctx context.Context) error {
	return b.store.Ping(ctx)
}
