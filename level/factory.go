package level

import (
	"strings"
	"time"

	"github.com/zero-day-ai/continuum/encoder"
	"github.com/zero-day-ai/continuum/kvstore"
	"github.com/zero-day-ai/continuum/vectorstore"
)

// Kind names a level backend variant.
type Kind string

const (
	KindMemory Kind = "memory"
	KindKV     Kind = "kv"
	KindVector Kind = "vector"
)

var (
	kvHints     = []string{"session", "daily", "hour", "working", "short"}
	vectorHints = []string{"historical", "domain", "long", "archive", "semantic"}
)

// KindFor maps a level name to its preferred backend: short-lived tiers
// go to a TTL key-value store, long-lived ones to a vector store.
func KindFor(name string) Kind {
	lower := strings.ToLower(name)
	for _, h := range kvHints {
		if strings.Contains(lower, h) {
			return KindKV
		}
	}
	for _, h := range vectorHints {
		if strings.Contains(lower, h) {
			return KindVector
		}
	}
	return KindMemory
}

// DefaultTTL returns the persistence TTL used when Config.TTL is zero.
func DefaultTTL(name string) time.Duration {
	if strings.Contains(strings.ToLower(name), "session") {
		return time.Hour
	}
	return 24 * time.Hour
}

// Backends holds the persistence stores available to Build. Either may be
// nil.
type Backends struct {
	KV     kvstore.Store
	Vector vectorstore.Store
}

// Build creates the level variant selected by KindFor. A kind whose store
// is not configured falls back to memory.
func Build[T any](cfg Config, dims int, enc encoder.Encoder[T], backends Backends, opts ...Option) (Level[T], error) {
	o := newOptions(opts)

	switch kind := KindFor(cfg.Name); {
	case kind == KindKV && backends.KV != nil:
		return NewKV[T](cfg, dims, enc, backends.KV, opts...)
	case kind == KindVector && backends.Vector != nil:
		return NewVector[T](cfg, dims, enc, backends.Vector, opts...)
	case kind != KindMemory:
		o.logger.Warn("no backend configured for level, using memory",
			"memory_level", cfg.Name,
			"preferred", string(kind),
		)
	}
	return NewMemory[T](cfg, dims, enc, opts...)
}
