package kvstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdOptions configures the etcd connection.
type EtcdOptions struct {
	// Endpoints lists the cluster members (e.g., "localhost:2379").
	Endpoints []string

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// Username and Password enable authentication when set.
	Username string
	Password string
}

// EtcdStore implements Store on etcd. Expiry is implemented with one lease
// per written key, and key enumeration with prefix reads, so only patterns
// of the form "prefix*" (or exact keys) are supported.
//
// Thread-safety: All methods are safe for concurrent use.
type EtcdStore struct {
	client *clientv3.Client
}

// NewEtcdStore creates an etcd-backed store. The client connects lazily;
// an unreachable cluster surfaces as ErrUnavailable on the first call.
func NewEtcdStore(opts EtcdOptions) (*EtcdStore, error) {
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints cannot be empty")
	}

	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.DialTimeout,
		Username:    opts.Username,
		Password:    opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	return &EtcdStore{client: cli}, nil
}

// Set writes value under key, attaching a lease when ttl is positive.
// Lease TTLs have second granularity and are rounded up.
func (s *EtcdStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var opts []clientv3.OpOption
	if ttl > 0 {
		seconds := int64(math.Ceil(ttl.Seconds()))
		lease, err := s.client.Grant(ctx, seconds)
		if err != nil {
			return fmt.Errorf("failed to create lease for %s: %w", key, unavailable(err))
		}
		opts = append(opts, clientv3.WithLease(lease.ID))
	}

	if _, err := s.client.Put(ctx, key, string(value), opts...); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, unavailable(err))
	}
	return nil
}

// Get returns the value under key.
func (s *EtcdStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, unavailable(err))
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

// Keys returns the keys matching pattern.
func (s *EtcdStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	prefix, isPrefix, err := etcdPrefix(pattern)
	if err != nil {
		return nil, err
	}

	opts := []clientv3.OpOption{clientv3.WithKeysOnly()}
	if isPrefix {
		opts = append(opts, clientv3.WithPrefix())
	}

	resp, err := s.client.Get(ctx, prefix, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", pattern, unavailable(err))
	}

	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, string(kv.Key))
	}
	return keys, nil
}

// Delete removes keys one by one.
func (s *EtcdStore) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := s.client.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, unavailable(err))
		}
	}
	return nil
}

// Ping performs a cheap read to verify the cluster answers.
func (s *EtcdStore) Ping(ctx context.Context) error {
	if _, err := s.client.Get(ctx, "health-check", clientv3.WithCountOnly()); err != nil {
		return fmt.Errorf("etcd health check failed: %w", unavailable(err))
	}
	return nil
}

// Close closes the etcd client.
func (s *EtcdStore) Close() error {
	return s.client.Close()
}

// etcdPrefix converts a glob pattern into an etcd key or prefix. Only a
// single trailing '*' is understood.
func etcdPrefix(pattern string) (string, bool, error) {
	if strings.ContainsAny(strings.TrimSuffix(pattern, "*"), "*?[]\\") {
		return "", false, fmt.Errorf("%w: %q", ErrUnsupportedPattern, pattern)
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		if prefix == "" {
			return "", false, errors.Join(ErrUnsupportedPattern, fmt.Errorf("refusing to list the whole keyspace"))
		}
		return prefix, true, nil
	}
	return pattern, false, nil
}
