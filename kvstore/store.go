// Package kvstore provides the TTL key-value backends used by short-lived
// memory levels.
//
// Store mirrors the small slice of Redis that memory levels rely on: SET with
// a TTL, GET, pattern-based key enumeration, DEL and a connectivity probe.
// Implementations are thin; retry, degrade-on-failure and lazy reconnect
// decisions belong to the caller.
package kvstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key does not exist or has expired.
	ErrNotFound = errors.New("kvstore: key not found")

	// ErrUnavailable is returned when the backend cannot be reached.
	ErrUnavailable = errors.New("kvstore: backend unavailable")

	// ErrUnsupportedPattern is returned by Keys for glob patterns a backend
	// cannot evaluate.
	ErrUnsupportedPattern = errors.New("kvstore: unsupported key pattern")
)

// Store is a key-value store with per-key expiry.
type Store interface {
	// Set writes value under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Keys returns every key matching a glob pattern such as "cms:daily:*".
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}
